package batch

import (
	"time"

	"concord/internal/upsert"
	"concord/pkg/domain"
)

// Rejection itemizes one rejected fragment.
type Rejection struct {
	FragmentID domain.FragmentID `json:"fragment_id"`
	Reason     string            `json:"reason"`
	Detail     string            `json:"detail,omitempty"`
}

// TableReport summarizes one table's load within a batch.
type TableReport struct {
	Table  string                     `json:"table"`
	Counts map[upsert.OutcomeKind]int `json:"counts"`
	// Rejections itemizes every rejected record with its reason.
	Rejections []Rejection `json:"rejections,omitempty"`
	// Aborted marks a strict-mode rollback: nothing committed, entries left
	// Pending.
	Aborted bool `json:"aborted,omitempty"`
	// Error is set on infrastructure failure; the table's entries were
	// marked Failed.
	Error string `json:"error,omitempty"`
}

// Report summarizes one batch load across all tables.
type Report struct {
	BatchID    domain.BatchID `json:"batch_id"`
	DryRun     bool           `json:"dry_run"`
	Tables     []TableReport  `json:"tables,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Count sums one outcome kind across all tables.
func (r Report) Count(kind upsert.OutcomeKind) int {
	total := 0
	for _, table := range r.Tables {
		total += table.Counts[kind]
	}
	return total
}

// FailedTables lists tables whose load hit an infrastructure failure.
func (r Report) FailedTables() []string {
	var failed []string
	for _, table := range r.Tables {
		if table.Error != "" {
			failed = append(failed, table.Table)
		}
	}
	return failed
}
