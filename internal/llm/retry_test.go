package llm

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRateLimitError(t *testing.T) {
	assert.False(t, IsRateLimitError(nil))
	assert.False(t, IsRateLimitError(errors.New("connection refused")))
	assert.True(t, IsRateLimitError(errors.New("Error 429: too many requests")))
	assert.True(t, IsRateLimitError(errors.New("Status: RESOURCE_EXHAUSTED")))
	assert.True(t, IsRateLimitError(errors.New("quota exceeded for metric")))
}

func TestExtractRetryDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), ExtractRetryDelay(nil))
	assert.Equal(t, time.Duration(0), ExtractRetryDelay(errors.New("no delay here")))

	err := errors.New("Error 429, Message: quota exceeded. Please retry in 45.387061394s., Status: RESOURCE_EXHAUSTED")
	delay := ExtractRetryDelay(err)
	assert.InDelta(t, 45.387, delay.Seconds(), 0.01)

	err = errors.New("rate limited, retryDelay: 30s")
	assert.Equal(t, 30*time.Second, ExtractRetryDelay(err))
}

func TestCalculateBackoff(t *testing.T) {
	cfg := NewDefaultRetryConfig()

	// Attempt 0 without an API delay uses the initial backoff.
	assert.Equal(t, 45*time.Second, cfg.CalculateBackoff(0, 0))

	// An API-provided delay takes precedence, with a 5s buffer.
	assert.Equal(t, 35*time.Second, cfg.CalculateBackoff(0, 30*time.Second))

	// Later attempts grow but never exceed the cap.
	assert.Equal(t, 90*time.Second, cfg.CalculateBackoff(4, 0))
}
