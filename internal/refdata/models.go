// Package refdata resolves raw center names from source extracts to canonical
// center references: exact alias hit, exact canonical hit, similarity scan,
// and finally auto-creation of a low-confidence entry so ingestion is never
// blocked by an unknown name.
package refdata

import (
	"time"

	"concord/pkg/domain"
)

// Center is a canonical contributing-center entry.
type Center struct {
	ID   domain.CenterID
	Name string
	// LowConfidence marks entries auto-created by the resolver rather than
	// curated by an operator.
	LowConfidence bool
	CreatedAt     time.Time
}

// MatchKind names the pipeline stage that produced a match.
type MatchKind string

const (
	MatchAlias   MatchKind = "alias"
	MatchExact   MatchKind = "exact"
	MatchFuzzy   MatchKind = "fuzzy"
	MatchCreated MatchKind = "created"
)

// Match is the result of resolving one raw name.
type Match struct {
	Center Center
	Kind   MatchKind
	// Score is the normalized similarity for fuzzy matches, 1.0 for exact
	// and alias hits, 0.0 for auto-created entries.
	Score float64
}
