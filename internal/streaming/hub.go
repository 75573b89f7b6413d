package streaming

import "context"

// StreamEvent is a real-time event emitted while a graph runs.
type StreamEvent struct {
	RunID     string `json:"runId"`
	NodeID    string `json:"nodeId,omitempty"`
	EventType string `json:"eventType"`
	Payload   any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID      string   `json:"runId,omitempty"`
	EventTypes []string `json:"eventTypes,omitempty"`
}

// EventHub provides pub/sub for run events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
