package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNoMessage is returned by Receive when no message is ready.
var ErrNoMessage = errors.New("no message")

// JobMessage is the payload carried through the queue. Type selects the
// registered handler; Payload is handler-specific JSON.
type JobMessage struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewJobMessage builds a JobMessage with a marshaled payload.
func NewJobMessage(id, jobType string, payload any) (JobMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return JobMessage{}, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return JobMessage{
		ID:        id,
		Type:      jobType,
		Payload:   data,
		CreatedAt: time.Now(),
	}, nil
}

// storedMessage is the envelope persisted in Badger around a JobMessage.
type storedMessage struct {
	ID           string     `json:"id"`
	Body         JobMessage `json:"body"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
	VisibleAt    time.Time  `json:"visible_at"`
	ReceiveCount int        `json:"receive_count"`
	LastError    string     `json:"last_error,omitempty"`
}
