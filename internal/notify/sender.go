package notify

import (
	"context"
	"encoding/json"
	"time"
)

// Message is the outbound shape handed to a channel sender. Delivery is
// at-least-once; receivers must tolerate duplicates keyed by EventID.
type Message struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Sender delivers one message to an external channel. Implementations
// report plain success/failure; the dispatcher owns retry policy.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}
