package refdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"concord/internal/platform/metrics"
	dErrors "concord/pkg/domain-errors"
	"concord/pkg/platform/sentinel"
	"concord/pkg/requestcontext"
)

// DefaultMatchThreshold is the minimum similarity score accepted from the
// fuzzy scan when no override is configured.
const DefaultMatchThreshold = 0.70

// Config is injected resolver configuration. Alias dictionaries are explicit
// per-environment input, never package-level state.
type Config struct {
	// Aliases maps normalized alias strings to canonical center names
	// (also normalized at load).
	Aliases map[string]string
	// MatchThreshold overrides DefaultMatchThreshold when > 0.
	MatchThreshold float64
}

// Cache fronts resolved names. Implementations must treat misses as
// (zero, sentinel.ErrNotFound).
type Cache interface {
	Get(ctx context.Context, normalized string) (Center, error)
	Set(ctx context.Context, normalized string, center Center) error
}

// Resolver implements the short-circuiting name resolution pipeline.
type Resolver struct {
	store     CenterStore
	cache     Cache
	aliases   map[string]string
	threshold float64
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewResolver constructs a Resolver. cache may be nil when Redis is not
// configured.
func NewResolver(store CenterStore, cache Cache, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("center store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.MatchThreshold
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}

	aliases := make(map[string]string, len(cfg.Aliases))
	for alias, canonical := range cfg.Aliases {
		aliases[Normalize(alias)] = Normalize(canonical)
	}

	return &Resolver{
		store:     store,
		cache:     cache,
		aliases:   aliases,
		threshold: threshold,
		logger:    logger,
		metrics:   m,
	}, nil
}

// Normalize case-folds and strips punctuation and whitespace so "St. Mary's"
// and "st marys" compare equal.
func Normalize(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Resolve maps a raw center name to a canonical center. The pipeline
// short-circuits on the first hit: alias table, canonical names, similarity
// scan, auto-create. It never fails ingestion for an unknown name.
func (r *Resolver) Resolve(ctx context.Context, raw string) (Match, error) {
	normalized := Normalize(raw)
	if normalized == "" {
		return Match{}, dErrors.New(dErrors.CodeInvalidInput, "center name is empty after normalization")
	}

	if r.cache != nil {
		if center, err := r.cache.Get(ctx, normalized); err == nil {
			r.observeCache("hit")
			return Match{Center: center, Kind: MatchExact, Score: 1.0}, nil
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			// Cache trouble is not worth failing resolution over.
			r.logger.WarnContext(ctx, "reference cache lookup failed", "error", err)
		}
		r.observeCache("miss")
	}

	// 2. Exact lookup in the alias table.
	lookup := normalized
	if canonical, ok := r.aliases[normalized]; ok {
		lookup = canonical
		if center, err := r.store.FindByNormalizedName(ctx, canonical); err == nil {
			return r.hit(ctx, normalized, Match{Center: center, Kind: MatchAlias, Score: 1.0}), nil
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return Match{}, fmt.Errorf("alias lookup: %w", err)
		}
	}

	// 3. Exact lookup against canonical names.
	if center, err := r.store.FindByNormalizedName(ctx, lookup); err == nil {
		return r.hit(ctx, normalized, Match{Center: center, Kind: MatchExact, Score: 1.0}), nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return Match{}, fmt.Errorf("canonical lookup: %w", err)
	}

	// 4. Similarity scan over all canonical names. Ties on score break toward
	// the lowest canonical id; List returns centers in id order, so the first
	// best match wins.
	centers, err := r.store.List(ctx)
	if err != nil {
		return Match{}, fmt.Errorf("list centers: %w", err)
	}
	var (
		best      Center
		bestScore float64
		found     bool
	)
	for _, center := range centers {
		score := similarity(lookup, Normalize(center.Name))
		if score > bestScore {
			best, bestScore, found = center, score, true
		}
	}
	if found && bestScore >= r.threshold {
		return r.hit(ctx, normalized, Match{Center: best, Kind: MatchFuzzy, Score: bestScore}), nil
	}

	// 5. Nothing cleared the threshold: auto-create a low-confidence entry
	// and warn, rather than failing ingestion.
	created, err := r.store.Create(ctx, Center{
		Name:          strings.TrimSpace(raw),
		LowConfidence: true,
		CreatedAt:     requestcontext.Now(ctx),
	})
	if err != nil {
		return Match{}, fmt.Errorf("auto-create center: %w", err)
	}
	r.logger.WarnContext(ctx, "unresolvable center name, auto-created low-confidence entry",
		"raw", raw,
		"center_id", created.ID,
		"best_score", bestScore,
		"threshold", r.threshold,
	)
	if r.metrics != nil {
		r.metrics.ReferenceCreated.Inc()
	}
	return r.hit(ctx, normalized, Match{Center: created, Kind: MatchCreated, Score: 0.0}), nil
}

func (r *Resolver) hit(ctx context.Context, normalized string, match Match) Match {
	if r.cache != nil {
		if err := r.cache.Set(ctx, normalized, match.Center); err != nil {
			r.logger.WarnContext(ctx, "reference cache store failed", "error", err)
		}
	}
	return match
}

func (r *Resolver) observeCache(result string) {
	if r.metrics != nil {
		r.metrics.CacheHits.WithLabelValues(result).Inc()
	}
}
