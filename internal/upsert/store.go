package upsert

import (
	"context"
	"time"

	"concord/pkg/domain"
)

// Provenance stamps who and what produced a write.
type Provenance struct {
	SourceSystem string
	BatchID      domain.BatchID
	Actor        string
	At           time.Time
}

// StoredRecord is a canonical row as the engine sees it.
type StoredRecord struct {
	NaturalKey string
	Fields     Record
}

// RecordStore persists canonical domain records. FindByNaturalKeys is a
// set-membership query: one round trip for a whole batch, which both helps
// throughput and shrinks the race window between check and write.
type RecordStore interface {
	FindByNaturalKeys(ctx context.Context, table string, keys []string) (map[string]StoredRecord, error)
	Insert(ctx context.Context, table string, record StoredRecord, prov Provenance) error
	// Update applies only the changed mutable fields.
	Update(ctx context.Context, table string, naturalKey string, changes Record, prov Provenance) error
}
