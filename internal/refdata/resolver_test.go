package refdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededStore() *MemoryCenterStore {
	store := NewMemoryCenterStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Seed(Center{ID: 1, Name: "University of Michigan", CreatedAt: now})
	store.Seed(Center{ID: 2, Name: "Mayo Clinic", CreatedAt: now})
	store.Seed(Center{ID: 3, Name: "St. Mary's Hospital", CreatedAt: now})
	return store
}

func newResolver(t *testing.T, store *MemoryCenterStore, cfg Config) *Resolver {
	t.Helper()
	r, err := NewResolver(store, nil, cfg, nil, nil)
	require.NoError(t, err)
	return r
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"University of Michigan", "universityofmichigan"},
		{"St. Mary's Hospital", "stmaryshospital"},
		{"  MAYO   CLINIC  ", "mayoclinic"},
		{"...", ""},
		{"Site-42", "site42"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestResolve_ExactCanonical(t *testing.T) {
	r := newResolver(t, seededStore(), Config{})

	match, err := r.Resolve(context.Background(), "MAYO CLINIC")
	require.NoError(t, err)
	assert.Equal(t, MatchExact, match.Kind)
	assert.EqualValues(t, 2, match.Center.ID)
	assert.InDelta(t, 1.0, match.Score, 1e-9)
}

func TestResolve_AliasTable(t *testing.T) {
	r := newResolver(t, seededStore(), Config{
		Aliases: map[string]string{
			"UMich":    "University of Michigan",
			"st marys": "St. Mary's Hospital",
		},
	})

	match, err := r.Resolve(context.Background(), "umich")
	require.NoError(t, err)
	assert.Equal(t, MatchAlias, match.Kind)
	assert.EqualValues(t, 1, match.Center.ID)

	match, err = r.Resolve(context.Background(), "St.Marys")
	require.NoError(t, err)
	assert.Equal(t, MatchAlias, match.Kind)
	assert.EqualValues(t, 3, match.Center.ID)
}

func TestResolve_FuzzyAboveThreshold(t *testing.T) {
	r := newResolver(t, seededStore(), Config{})

	// One transposition away from "mayoclinic".
	match, err := r.Resolve(context.Background(), "Mayo Clnic")
	require.NoError(t, err)
	assert.Equal(t, MatchFuzzy, match.Kind)
	assert.EqualValues(t, 2, match.Center.ID)
	assert.GreaterOrEqual(t, match.Score, DefaultMatchThreshold)
	assert.Less(t, match.Score, 1.0)
}

func TestResolve_BelowThresholdAutoCreates(t *testing.T) {
	store := seededStore()
	r := newResolver(t, store, Config{})

	match, err := r.Resolve(context.Background(), "Completely Unknown Site Q")
	require.NoError(t, err)
	assert.Equal(t, MatchCreated, match.Kind)
	assert.True(t, match.Center.LowConfidence)
	assert.Equal(t, "Completely Unknown Site Q", match.Center.Name)

	// Subsequent calls resolve the created entry exactly, not another copy.
	again, err := r.Resolve(context.Background(), "Completely Unknown Site Q")
	require.NoError(t, err)
	assert.Equal(t, MatchExact, again.Kind)
	assert.Equal(t, match.Center.ID, again.Center.ID)
}

func TestResolve_TieBreaksOnLowestID(t *testing.T) {
	store := NewMemoryCenterStore()
	now := time.Now()
	// Equidistant candidates from the query "centre ab".
	store.Seed(Center{ID: 4, Name: "centre aa", CreatedAt: now})
	store.Seed(Center{ID: 9, Name: "centre ac", CreatedAt: now})
	r := newResolver(t, store, Config{})

	match, err := r.Resolve(context.Background(), "centre ab")
	require.NoError(t, err)
	assert.Equal(t, MatchFuzzy, match.Kind)
	assert.EqualValues(t, 4, match.Center.ID, "equal scores break toward the lowest canonical id")
}

func TestResolve_CustomThreshold(t *testing.T) {
	store := seededStore()
	strict := newResolver(t, store, Config{MatchThreshold: 0.99})

	match, err := strict.Resolve(context.Background(), "Mayo Clnic")
	require.NoError(t, err)
	assert.Equal(t, MatchCreated, match.Kind, "0.99 threshold rejects the fuzzy hit")
}

func TestResolve_EmptyAfterNormalization(t *testing.T) {
	r := newResolver(t, seededStore(), Config{})
	_, err := r.Resolve(context.Background(), "--- ...")
	require.Error(t, err)
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, similarity("abc", "abc"), 1e-9)
	assert.InDelta(t, 0.0, similarity("", "abc"), 1e-9)
	assert.InDelta(t, 2.0/3.0, similarity("abc", "adc"), 1e-9)
	assert.Greater(t, similarity("mayoclinic", "mayoclnic"), 0.85)
}
