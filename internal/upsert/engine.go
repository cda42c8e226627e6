package upsert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"concord/internal/audit"
	"concord/internal/platform/metrics"
	"concord/pkg/requestcontext"
)

// Engine applies incoming records to canonical tables. It holds no per-batch
// state; the batch coordinator owns transactions and passes them via context.
type Engine struct {
	registry *Registry
	store    RecordStore
	changes  audit.ChangeLog
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewEngine(registry *Registry, store RecordStore, changes audit.ChangeLog, logger *slog.Logger, m *metrics.Metrics) (*Engine, error) {
	if registry == nil {
		return nil, errors.New("table registry is required")
	}
	if store == nil {
		return nil, errors.New("record store is required")
	}
	if changes == nil {
		return nil, errors.New("change log is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{registry: registry, store: store, changes: changes, logger: logger, metrics: m}, nil
}

// Options modifies how a batch is applied.
type Options struct {
	// DryRun computes outcomes without writing rows or audit events.
	DryRun bool
}

// Apply merges a single record. Convenience wrapper over ApplyBatch.
func (e *Engine) Apply(ctx context.Context, table string, record Record, prov Provenance) (Outcome, error) {
	outcomes, err := e.ApplyBatch(ctx, table, []Record{record}, prov, Options{})
	if err != nil {
		return Outcome{}, err
	}
	return outcomes[0], nil
}

// ApplyBatch merges records for one table. Existing rows are fetched with a
// single set-membership query up front, then each record is decided
// independently: a rejection never contaminates its neighbors (strictness is
// the coordinator's concern).
func (e *Engine) ApplyBatch(ctx context.Context, table string, records []Record, prov Provenance, opts Options) ([]Outcome, error) {
	cfg, err := e.registry.Lookup(table)
	if err != nil {
		return nil, err
	}

	// Extract natural keys first; records that fail extraction are rejected
	// without a lookup.
	keys := make([]string, 0, len(records))
	keyByIndex := make(map[int]string, len(records))
	outcomes := make([]Outcome, len(records))
	for i, record := range records {
		key, err := naturalKeyOf(cfg, record)
		if err != nil {
			outcomes[i] = rejected(ReasonMissingNaturalKey, err.Error())
			continue
		}
		keyByIndex[i] = key
		keys = append(keys, key)
	}

	existing := map[string]StoredRecord{}
	if len(keys) > 0 {
		existing, err = e.store.FindByNaturalKeys(ctx, table, keys)
		if err != nil {
			return nil, fmt.Errorf("lookup natural keys in %s: %w", table, err)
		}
	}

	for i, record := range records {
		key, ok := keyByIndex[i]
		if !ok {
			e.finish(ctx, cfg.Table, "", prov, outcomes[i], nil, nil, opts)
			continue
		}

		stored, exists := existing[key]
		var before, after Record
		if !exists {
			outcomes[i], after, err = e.applyNew(ctx, cfg, key, record, prov, opts)
		} else {
			outcomes[i], before, after, err = e.applyExisting(ctx, cfg, key, stored, record, prov, opts)
		}
		if err != nil {
			// A store failure is infrastructure, not data quality: it must
			// surface as an error so the caller can roll back and retry, never
			// as a Rejected outcome.
			return nil, err
		}
		e.finish(ctx, cfg.Table, key, prov, outcomes[i], before, after, opts)

		// Later duplicates of the same key within one batch must see the
		// earlier write.
		if !opts.DryRun {
			switch outcomes[i].Kind {
			case Inserted:
				existing[key] = StoredRecord{NaturalKey: key, Fields: cloneRecord(record)}
			case Updated:
				merged := cloneRecord(stored.Fields)
				for field, value := range after {
					merged[field] = value
				}
				existing[key] = StoredRecord{NaturalKey: key, Fields: merged}
			}
		}
	}
	return outcomes, nil
}

func (e *Engine) applyNew(ctx context.Context, cfg TableConfig, key string, record Record, prov Provenance, opts Options) (Outcome, Record, error) {
	switch cfg.Strategy {
	case StrategyUpsert, StrategyInsertOnly:
		if !opts.DryRun {
			if err := e.store.Insert(ctx, cfg.Table, StoredRecord{NaturalKey: key, Fields: record}, prov); err != nil {
				return Outcome{}, nil, fmt.Errorf("insert %s/%s: %w", cfg.Table, key, err)
			}
		}
		return inserted(), record, nil
	case StrategyUpdateOnly:
		return rejected(ReasonInsertForbidden, "strategy update_only forbids inserting new natural keys"), nil, nil
	default:
		// Unreachable: NewRegistry rejects unknown strategies.
		return rejected(ReasonInsertForbidden, "unknown strategy"), nil, nil
	}
}

func (e *Engine) applyExisting(ctx context.Context, cfg TableConfig, key string, stored StoredRecord, record Record, prov Provenance, opts Options) (Outcome, Record, Record, error) {
	// Immutable check covers the whole record before any write: a single
	// violating field rejects the record outright, no partial merge.
	if violations := immutableViolations(cfg, stored.Fields, record); len(violations) > 0 {
		return rejected(ReasonImmutableViolation, strings.Join(violations, ", ")), nil, nil, nil
	}

	changes, before := diff(cfg, stored.Fields, record)
	if len(changes) == 0 {
		return skipped(), nil, nil, nil
	}

	switch cfg.Strategy {
	case StrategyInsertOnly:
		return rejected(ReasonUpdateForbidden, "strategy insert_only forbids updating existing rows"), nil, nil, nil
	case StrategyUpsert, StrategyUpdateOnly:
		if !opts.DryRun {
			if err := e.store.Update(ctx, cfg.Table, key, changes, prov); err != nil {
				return Outcome{}, nil, nil, fmt.Errorf("update %s/%s: %w", cfg.Table, key, err)
			}
		}
		return updated(), before, changes, nil
	default:
		return rejected(ReasonUpdateForbidden, "unknown strategy"), nil, nil, nil
	}
}

// finish records metrics, logging and the audit event for one outcome.
func (e *Engine) finish(ctx context.Context, table, key string, prov Provenance, outcome Outcome, before, after Record, opts Options) {
	e.metrics.ObserveOutcome(table, string(outcome.Kind))

	switch outcome.Kind {
	case Skipped:
		e.logger.DebugContext(ctx, "record unchanged", "table", table, "natural_key", key)
	case Rejected:
		e.logger.WarnContext(ctx, "record rejected",
			"table", table,
			"natural_key", key,
			"reason", outcome.Reason,
			"detail", outcome.Detail,
		)
	}

	if opts.DryRun {
		return
	}

	event := audit.NewChangeEvent(table, key, prov.BatchID, string(outcome.Kind))
	event.Reason = string(outcome.Reason)
	event.Before = before
	event.After = after
	event.Source = prov.SourceSystem
	event.Actor = prov.Actor
	event.Timestamp = prov.At
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if err := e.changes.Append(ctx, event); err != nil {
		// The change log shares the batch transaction; a failed append will
		// surface when the coordinator commits. Log it for visibility.
		e.logger.ErrorContext(ctx, "change log append failed", "table", table, "error", err)
	}
}

// naturalKeyOf builds the composite key string from the configured field
// tuple. Any absent or null field fails extraction.
func naturalKeyOf(cfg TableConfig, record Record) (string, error) {
	parts := make([]string, len(cfg.NaturalKey))
	for i, field := range cfg.NaturalKey {
		value, ok := record[field]
		if !ok || value == nil {
			return "", fmt.Errorf("natural key field %q is missing or null", field)
		}
		parts[i] = canonical(value)
	}
	return strings.Join(parts, "|"), nil
}

func immutableViolations(cfg TableConfig, stored, incoming Record) []string {
	var violations []string
	for field, value := range incoming {
		if !cfg.isImmutable(field) {
			continue
		}
		storedValue, ok := stored[field]
		if !ok {
			continue // first write of an immutable field is allowed
		}
		if canonical(storedValue) != canonical(value) {
			violations = append(violations, field)
		}
	}
	sort.Strings(violations)
	return violations
}

// diff returns the mutable fields whose values differ, plus the prior values
// of exactly those fields.
func diff(cfg TableConfig, stored, incoming Record) (changes, before Record) {
	changes = Record{}
	before = Record{}
	for field, value := range incoming {
		if cfg.isImmutable(field) {
			if _, ok := stored[field]; !ok {
				// First persist of a declared-immutable field.
				changes[field] = value
			}
			continue
		}
		storedValue, ok := stored[field]
		if !ok || canonical(storedValue) != canonical(value) {
			changes[field] = value
			if ok {
				before[field] = storedValue
			}
		}
	}
	return changes, before
}

// canonical renders a value as JSON for comparison, so 5 and 5.0 compare
// equal regardless of which decoder produced them.
func canonical(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func cloneRecord(record Record) Record {
	out := make(Record, len(record))
	for field, value := range record {
		out[field] = value
	}
	return out
}
