package audit

import (
	"context"

	"github.com/google/uuid"
)

// ChangeLog appends change events. Implementations must honor a transaction
// carried in context so the event commits or rolls back with the write it
// describes.
type ChangeLog interface {
	Append(ctx context.Context, event ChangeEvent) error
}

// OutboxReader is consumed by the outbox worker: fetch a page of unpublished
// events, then mark them published once the broker acknowledged them.
type OutboxReader interface {
	Unpublished(ctx context.Context, limit int) ([]ChangeEvent, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}
