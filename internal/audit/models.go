// Package audit records every upsert outcome as an append-only change event,
// making any record's history reconstructable. Events are written through a
// transactional outbox and published to Kafka by the outbox worker.
package audit

import (
	"time"

	"github.com/google/uuid"

	"concord/pkg/domain"
)

// ChangeEvent captures one upsert outcome with its before/after values.
// Keep it transport-agnostic so stores and sinks can fan out.
type ChangeEvent struct {
	ID         uuid.UUID      `json:"id"`
	Table      string         `json:"table"`
	NaturalKey string         `json:"natural_key"`
	BatchID    domain.BatchID `json:"batch_id"`
	Outcome    string         `json:"outcome"`
	Reason     string         `json:"reason,omitempty"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	Source     string         `json:"source,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// NewChangeEvent stamps an event with a fresh id.
func NewChangeEvent(table, naturalKey string, batchID domain.BatchID, outcome string) ChangeEvent {
	return ChangeEvent{
		ID:         uuid.New(),
		Table:      table,
		NaturalKey: naturalKey,
		BatchID:    batchID,
		Outcome:    outcome,
	}
}
