package refdata

import (
	"context"
)

// CenterStore persists canonical centers. List returns centers ordered by ID
// so the fuzzy tie-break (lowest canonical id wins) is deterministic.
type CenterStore interface {
	List(ctx context.Context) ([]Center, error)
	FindByNormalizedName(ctx context.Context, normalized string) (Center, error)
	// Create assigns the new center's ID.
	Create(ctx context.Context, center Center) (Center, error)
}
