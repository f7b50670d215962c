// Package queue implements the optional deferred-reconciliation queue.
package queue

import "context"

// Task identifies one log row awaiting reconciliation.
type Task struct {
	MachineID string `json:"machine_id"`
	EntryID   string `json:"entry_id"`

	// receipt handle for deletion; backend-specific, opaque to callers.
	receipt string
}

// Receiver drains queued reconciliation tasks.
type Receiver interface {
	Receive(ctx context.Context, max int) ([]Task, error)
	Delete(ctx context.Context, task Task) error
}
