package identity

import (
	"context"

	"concord/pkg/domain"
)

// Stores are interface-driven so the resolver stays testable against the
// in-memory implementations and swaps to PostgreSQL without rewiring.

// SubjectStore persists canonical subjects.
type SubjectStore interface {
	FindByGlobalID(ctx context.Context, globalID domain.GlobalID) (Subject, error)
	UpdateAttributes(ctx context.Context, globalID domain.GlobalID, attrs map[string]string) error
	SetReviewFlag(ctx context.Context, globalID domain.GlobalID, flagged bool) error
	SetWithdrawn(ctx context.Context, globalID domain.GlobalID, withdrawn bool) error
	ListFlagged(ctx context.Context) ([]Subject, error)
}

// LocalIdentifierStore persists the local-to-global mapping. Register must
// atomically create the subject and its identifier row, returning
// sentinel.ErrDuplicate when the natural-key uniqueness constraint rejects the
// insert (the loser of a concurrent create race).
type LocalIdentifierStore interface {
	Find(ctx context.Context, centerID domain.CenterID, localValue string, idType domain.IdentifierType) (LocalIdentifier, error)
	// FindByValue returns every identifier registered for the value at this
	// center, across identifier types. Used by the cross-type alias heuristic.
	FindByValue(ctx context.Context, centerID domain.CenterID, localValue string) ([]LocalIdentifier, error)
	Register(ctx context.Context, subject Subject, localID LocalIdentifier) error
}

// ResolutionLog is the append-only record of resolution attempts.
type ResolutionLog interface {
	Append(ctx context.Context, record ResolutionRecord) error
	ListByIdentifier(ctx context.Context, centerID domain.CenterID, localValue string, idType domain.IdentifierType) ([]ResolutionRecord, error)
}
