package entity

import "time"

// OutboxEntry is an event committed with its state change and awaiting dispatch
type OutboxEntry struct {
	ID           int64      `json:"id"`
	EventID      string     `json:"event_id"`
	EventType    string     `json:"event_type"`
	WorkflowID   string     `json:"workflow_id,omitempty"`
	Payload      []byte     `json:"payload"`
	Attempts     int        `json:"attempts"`
	LastError    string     `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	// FailedAt is set once the entry exhausted its attempts and left the pending queue
	FailedAt *time.Time `json:"failed_at,omitempty"`
}
