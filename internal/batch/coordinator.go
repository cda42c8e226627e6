// Package batch coordinates loading queued fragments into canonical tables:
// one transaction per table per batch, per-record isolation by default, and a
// report of every outcome.
package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"concord/internal/platform/metrics"
	"concord/internal/queue"
	"concord/internal/upsert"
	"concord/pkg/domain"
	"concord/pkg/platform/tx"
	"concord/pkg/requestcontext"
)

const tracerName = "concord/internal/batch"

// errStrictAbort signals that strict mode saw a rejection; it never escapes
// the per-table load.
var errStrictAbort = errors.New("strict mode abort")

// TxBeginner starts database transactions. *sql.DB satisfies it; a nil
// beginner runs without transactions (in-memory stores).
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Config controls batch execution.
type Config struct {
	// StrictMode aborts and rolls back a table's whole transaction on the
	// first Rejected outcome, leaving its entries Pending. Off by default:
	// per-record isolation.
	StrictMode bool
	// BatchTimeout bounds one full batch load. Exceeding it fails the batch;
	// there is never a silent partial commit.
	BatchTimeout time.Duration
}

// Coordinator drains the validation queue for a batch and drives the upsert
// engine, one transaction per table, tables in parallel.
type Coordinator struct {
	queue   *queue.Service
	engine  *upsert.Engine
	db      TxBeginner
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewCoordinator(q *queue.Service, engine *upsert.Engine, db TxBeginner, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Coordinator, error) {
	if q == nil {
		return nil, errors.New("queue service is required")
	}
	if engine == nil {
		return nil, errors.New("upsert engine is required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{queue: q, engine: engine, db: db, cfg: cfg, logger: logger, metrics: m}, nil
}

// Run loads every eligible entry of a batch. With dryRun the same decisions
// execute against a transaction that is always rolled back, so the report is
// identical and the side effects are zero.
func (c *Coordinator) Run(ctx context.Context, batchID domain.BatchID, dryRun bool) (Report, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.BatchTimeout)
	defer cancel()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "batch.load")
	defer span.End()
	span.SetAttributes(
		attribute.String("batch.id", batchID.String()),
		attribute.Bool("batch.dry_run", dryRun),
	)

	started := time.Now()
	entries, err := c.queue.DequeueBatch(ctx, batchID)
	if err != nil {
		span.SetStatus(codes.Error, "dequeue failed")
		span.RecordError(err)
		return Report{}, err
	}

	report := Report{BatchID: batchID, DryRun: dryRun, StartedAt: started}
	if len(entries) == 0 {
		report.FinishedAt = time.Now()
		return report, nil
	}

	groups := groupByTable(entries)
	span.SetAttributes(
		attribute.Int("batch.entries", len(entries)),
		attribute.Int("batch.tables", len(groups)),
	)

	var (
		mu      sync.Mutex
		reports []TableReport
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, group := range groups {
		g.Go(func() error {
			tableReport := c.loadTable(gctx, batchID, group, dryRun)
			mu.Lock()
			reports = append(reports, tableReport)
			mu.Unlock()
			return nil
		})
	}
	// loadTable never returns an error; failures land in the table report.
	_ = g.Wait()

	sort.Slice(reports, func(i, j int) bool { return reports[i].Table < reports[j].Table })
	report.Tables = reports
	report.FinishedAt = time.Now()
	c.metrics.ObserveBatch(report.FinishedAt.Sub(started))

	c.logger.InfoContext(ctx, "batch load finished",
		"batch_id", batchID,
		"dry_run", dryRun,
		"tables", len(reports),
		"inserted", report.Count(upsert.Inserted),
		"updated", report.Count(upsert.Updated),
		"skipped", report.Count(upsert.Skipped),
		"rejected", report.Count(upsert.Rejected),
		"failed_tables", len(report.FailedTables()),
	)
	return report, nil
}

type tableGroup struct {
	table   string
	entries []queue.Entry
}

func groupByTable(entries []queue.Entry) []tableGroup {
	index := make(map[string]int)
	var groups []tableGroup
	for _, entry := range entries {
		i, ok := index[entry.Table]
		if !ok {
			i = len(groups)
			index[entry.Table] = i
			groups = append(groups, tableGroup{table: entry.Table})
		}
		groups[i].entries = append(groups[i].entries, entry)
	}
	return groups
}

// loadTable applies one table's entries inside a single transaction. All
// failure modes are absorbed into the report: an infrastructure error rolls
// the transaction back and marks the entries Failed, a strict-mode rejection
// rolls back and leaves them Pending.
func (c *Coordinator) loadTable(ctx context.Context, batchID domain.BatchID, group tableGroup, dryRun bool) TableReport {
	report := TableReport{Table: group.table, Counts: map[upsert.OutcomeKind]int{}}

	// Fragments whose payload does not decode fail before the engine sees
	// the batch.
	records := make([]upsert.Record, 0, len(group.entries))
	applicable := make([]queue.Entry, 0, len(group.entries))
	var badPayload []queue.Entry
	for _, entry := range group.entries {
		var record upsert.Record
		if err := json.Unmarshal(entry.Payload, &record); err != nil {
			report.Counts[upsert.Rejected]++
			report.Rejections = append(report.Rejections, Rejection{
				FragmentID: entry.FragmentID,
				Reason:     "invalid_payload",
				Detail:     err.Error(),
			})
			badPayload = append(badPayload, entry)
			continue
		}
		records = append(records, record)
		applicable = append(applicable, entry)
	}
	if !dryRun {
		for _, entry := range badPayload {
			c.mark(ctx, entry.FragmentID, queue.StatusFailed, "invalid_payload")
		}
	}

	prov := upsert.Provenance{
		SourceSystem: commonSource(applicable),
		BatchID:      batchID,
		Actor:        requestcontext.Actor(ctx),
		At:           requestcontext.Now(ctx),
	}

	err := c.withTableTx(ctx, dryRun, func(txCtx context.Context) error {
		outcomes, err := c.engine.ApplyBatch(txCtx, group.table, records, prov, upsert.Options{DryRun: dryRun})
		if err != nil {
			return err
		}

		for i, outcome := range outcomes {
			report.Counts[outcome.Kind]++
			if outcome.Kind == upsert.Rejected {
				report.Rejections = append(report.Rejections, Rejection{
					FragmentID: applicable[i].FragmentID,
					Reason:     string(outcome.Reason),
					Detail:     outcome.Detail,
				})
			}
		}

		if c.cfg.StrictMode {
			for _, outcome := range outcomes {
				if outcome.Kind == upsert.Rejected {
					return errStrictAbort
				}
			}
		}

		if dryRun {
			return nil
		}
		for i, outcome := range outcomes {
			c.mark(txCtx, applicable[i].FragmentID, statusFor(outcome), failureReason(outcome))
		}
		return nil
	})

	switch {
	case errors.Is(err, errStrictAbort):
		// Rolled back; entries stay Pending and the rejections explain why.
		report.Aborted = true
		c.logger.WarnContext(ctx, "strict mode aborted table load",
			"batch_id", batchID,
			"table", group.table,
			"rejected", report.Counts[upsert.Rejected],
		)
	case err != nil:
		// Infrastructure failure: nothing committed, the whole table group
		// goes Failed. Marks happen outside the rolled-back transaction.
		report.Counts = map[upsert.OutcomeKind]int{}
		report.Rejections = nil
		report.Error = err.Error()
		if !dryRun {
			for _, entry := range applicable {
				c.mark(ctx, entry.FragmentID, queue.StatusFailed, err.Error())
			}
		}
		c.logger.ErrorContext(ctx, "table load failed",
			"batch_id", batchID,
			"table", group.table,
			"error", err,
		)
	}
	return report
}

// withTableTx runs fn inside a transaction when a database is configured.
// Dry-run transactions always roll back; live ones commit only when fn
// succeeds.
func (c *Coordinator) withTableTx(ctx context.Context, dryRun bool, fn func(ctx context.Context) error) error {
	if c.db == nil {
		return fn(ctx)
	}

	sqlTx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin table transaction: %w", err)
	}

	if err := fn(tx.WithTx(ctx, sqlTx)); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if dryRun {
		if err := sqlTx.Rollback(); err != nil {
			return fmt.Errorf("roll back dry run: %w", err)
		}
		return nil
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit table transaction: %w", err)
	}
	return nil
}

func (c *Coordinator) mark(ctx context.Context, fragmentID domain.FragmentID, status queue.Status, errMsg string) {
	if err := c.queue.Mark(ctx, fragmentID, status, errMsg); err != nil {
		c.logger.ErrorContext(ctx, "mark queue entry failed",
			"fragment_id", fragmentID,
			"status", status,
			"error", err,
		)
	}
}

func statusFor(outcome upsert.Outcome) queue.Status {
	switch outcome.Kind {
	case upsert.Inserted, upsert.Updated:
		return queue.StatusLoaded
	case upsert.Skipped:
		return queue.StatusSkipped
	default:
		return queue.StatusFailed
	}
}

func failureReason(outcome upsert.Outcome) string {
	if outcome.Kind != upsert.Rejected {
		return ""
	}
	if outcome.Detail == "" {
		return string(outcome.Reason)
	}
	return string(outcome.Reason) + ": " + outcome.Detail
}

// commonSource returns the source system shared by all entries, or empty when
// the batch mixes sources.
func commonSource(entries []queue.Entry) string {
	if len(entries) == 0 {
		return ""
	}
	source := entries[0].Source
	for _, entry := range entries[1:] {
		if entry.Source != source {
			return ""
		}
	}
	return source
}
