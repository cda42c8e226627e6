package queue

import (
	"context"

	"concord/pkg/domain"
)

// EntryStore persists validation queue entries.
type EntryStore interface {
	Insert(ctx context.Context, entry Entry) error
	Find(ctx context.Context, fragmentID domain.FragmentID) (Entry, error)
	// ListByBatch returns the batch's entries whose status is in the given
	// set, oldest first.
	ListByBatch(ctx context.Context, batchID domain.BatchID, statuses []Status) ([]Entry, error)
	// Mark transitions an entry to the given status, but only from one of
	// the allowed prior statuses. Returns sentinel.ErrTerminalState when the
	// entry's current status is not in the allowed set.
	Mark(ctx context.Context, fragmentID domain.FragmentID, status Status, errMsg string, allowedFrom []Status) error
	// CountByStatus reports how many entries a batch holds per status.
	CountByStatus(ctx context.Context, batchID domain.BatchID) (map[Status]int, error)
}
