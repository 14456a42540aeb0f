// Package llm provides provider-agnostic access to the Gemini and Claude
// APIs for text generation.
package llm

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/cherites0610/welfare-pipeline/internal/common"
)

// Result is a provider-agnostic generation response.
type Result struct {
	Text        string
	TotalTokens int32
	Model       string
}

// Provider defines the interface for AI content generation
type Provider interface {
	GenerateContent(ctx context.Context, prompt string) (*Result, error)
	Name() string
}

// NewProvider creates the provider selected by config.LLM.DefaultProvider.
func NewProvider(ctx context.Context, config *common.Config, logger arbor.ILogger) (Provider, error) {
	switch config.LLM.DefaultProvider {
	case common.LLMProviderClaude:
		return NewClaudeProvider(&config.Claude, logger)
	case common.LLMProviderGemini, "":
		return NewGeminiProvider(ctx, &config.Gemini, logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", config.LLM.DefaultProvider)
	}
}
