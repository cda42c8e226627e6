// Package queue is the durable holding area for validated record fragments
// awaiting load. Entries move through a small state machine: Pending is the
// only non-terminal status, and no entry regresses once it reaches a terminal
// one.
package queue

import (
	"encoding/json"
	"time"

	"concord/pkg/domain"
)

// Status is a validation queue entry's lifecycle state.
type Status string

const (
	// StatusPending: queued and awaiting load.
	StatusPending Status = "pending"
	// StatusLoaded: the upsert engine inserted or updated the record.
	StatusLoaded Status = "loaded"
	// StatusFailed: rejected or hit an infrastructure error. Never retried
	// automatically; a data-quality problem should not masquerade as a
	// transient one.
	StatusFailed Status = "failed"
	// StatusSkipped: applied with no data change, but accounted for.
	StatusSkipped Status = "skipped"
)

func (s Status) Terminal() bool {
	return s == StatusLoaded || s == StatusFailed || s == StatusSkipped
}

// Entry is one queued record fragment bound for a canonical table.
type Entry struct {
	FragmentID domain.FragmentID `json:"fragment_id"`
	Table      string            `json:"table"`
	BatchID    domain.BatchID    `json:"batch_id"`
	Source     string            `json:"source,omitempty"`
	Payload    json.RawMessage   `json:"payload"`
	Status     Status            `json:"status"`
	// Error carries the failure reason for StatusFailed entries.
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
