// Package identity implements subject identity resolution: mapping per-source
// local identifiers to process-wide global subject identifiers, with conflict
// detection and an append-only resolution log.
package identity

import (
	"time"

	"github.com/google/uuid"

	"concord/pkg/domain"
)

// Strategy names the branch the resolver took for one attempt.
type Strategy string

const (
	StrategyExact     Strategy = "exact"
	StrategyAlias     Strategy = "alias"
	StrategyCreateNew Strategy = "create_new"
	StrategyConflict  Strategy = "conflict"
)

// Subject is the canonical person/specimen-donor record. Subjects are never
// deleted; withdrawal is a flag so the history of their samples stays intact.
type Subject struct {
	GlobalID         domain.GlobalID
	CenterID         domain.CenterID
	Attributes       map[string]string
	Withdrawn        bool
	FlaggedForReview bool
	CreatedAt        time.Time
	CreatedBy        string
	UpdatedAt        time.Time
}

// LocalIdentifier maps one source-assigned identifier to a subject. The
// (center, local value, identifier type) triple is the natural key; its
// uniqueness constraint in the store is the concurrency backstop for
// check-then-insert races.
type LocalIdentifier struct {
	CenterID   domain.CenterID
	LocalValue string
	IDType     domain.IdentifierType
	GlobalID   domain.GlobalID
	CreatedAt  time.Time
}

// ResolutionRecord is the append-only audit row written once per resolution
// attempt, regardless of branch. Never updated, never deleted.
type ResolutionRecord struct {
	ID             uuid.UUID
	CenterID       domain.CenterID
	LocalValue     string
	IDType         domain.IdentifierType
	GlobalID       *domain.GlobalID // nil when resolution did not produce an id
	Strategy       Strategy
	Confidence     float64
	RequiresReview bool
	Actor          string
	CreatedAt      time.Time
}

// ResolveRequest carries the inputs of one resolution attempt.
type ResolveRequest struct {
	CenterID   domain.CenterID
	LocalValue string
	IDType     domain.IdentifierType
	// ExpectedGlobalID, when set, asserts which subject the caller believes
	// this identifier belongs to. A stored mapping to a different subject is
	// a conflict, never a silent overwrite.
	ExpectedGlobalID domain.GlobalID
}

// Resolution is the outcome of one resolution attempt.
type Resolution struct {
	GlobalID       domain.GlobalID
	Strategy       Strategy
	Confidence     float64
	RequiresReview bool
	Withdrawn      bool
}
