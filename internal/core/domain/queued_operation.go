package domain

import (
	"encoding/json"
	"time"
)

// QueuedOperation is a deferred write waiting for connectivity to return.
// Replays happen in enqueue order within one Kind partition; re-enqueuing the
// same ID replaces the stored payload (latest write wins).
type QueuedOperation struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`
}
