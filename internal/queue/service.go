package queue

import (
	"context"
	"encoding/json"
	"log/slog"

	"concord/pkg/domain"
	domainerrors "concord/pkg/domain-errors"
	"concord/pkg/requestcontext"
)

// Config controls reprocessing policy.
type Config struct {
	// RetrySkipped makes re-running a batch id re-attempt Skipped entries in
	// addition to Pending ones. Failed entries are never eligible: they
	// require explicit re-queueing.
	RetrySkipped bool
}

// Service owns the queue state machine on top of an EntryStore.
type Service struct {
	store  EntryStore
	cfg    Config
	logger *slog.Logger
}

func NewService(store EntryStore, cfg Config, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, domainerrors.New(domainerrors.CodeInternal, "entry store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cfg: cfg, logger: logger}, nil
}

// Enqueue queues one validated fragment as Pending.
func (s *Service) Enqueue(ctx context.Context, table string, batchID domain.BatchID, source string, payload json.RawMessage) (Entry, error) {
	if table == "" {
		return Entry{}, domainerrors.New(domainerrors.CodeInvalidInput, "table is required")
	}
	if batchID.IsNil() {
		return Entry{}, domainerrors.New(domainerrors.CodeInvalidInput, "batch id is required")
	}
	if !json.Valid(payload) {
		return Entry{}, domainerrors.New(domainerrors.CodeInvalidInput, "payload is not valid JSON")
	}

	now := requestcontext.Now(ctx)
	entry := Entry{
		FragmentID: domain.NewFragmentID(),
		Table:      table,
		BatchID:    batchID,
		Source:     source,
		Payload:    payload,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Insert(ctx, entry); err != nil {
		return Entry{}, domainerrors.Wrap(domainerrors.CodeInternal, "enqueue fragment", err)
	}

	s.logger.InfoContext(ctx, "fragment queued",
		"fragment_id", entry.FragmentID,
		"table", table,
		"batch_id", batchID,
	)
	return entry, nil
}

// DequeueBatch returns the batch's entries still eligible for loading.
// Re-running a batch id re-attempts Pending entries only, unless RetrySkipped
// widens that to Skipped ones.
func (s *Service) DequeueBatch(ctx context.Context, batchID domain.BatchID) ([]Entry, error) {
	if batchID.IsNil() {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "batch id is required")
	}
	entries, err := s.store.ListByBatch(ctx, batchID, s.eligible())
	if err != nil {
		return nil, domainerrors.Wrap(domainerrors.CodeInternal, "dequeue batch", err)
	}
	return entries, nil
}

// Mark transitions an entry to a terminal status. Transitions out of a
// terminal status return sentinel.ErrTerminalState (except Skipped when
// RetrySkipped is on).
func (s *Service) Mark(ctx context.Context, fragmentID domain.FragmentID, status Status, errMsg string) error {
	if !status.Terminal() {
		return domainerrors.New(domainerrors.CodeInvalidInput, "entries can only be marked with a terminal status")
	}
	return s.store.Mark(ctx, fragmentID, status, errMsg, s.eligible())
}

// Counts reports the batch's per-status entry counts.
func (s *Service) Counts(ctx context.Context, batchID domain.BatchID) (map[Status]int, error) {
	return s.store.CountByStatus(ctx, batchID)
}

func (s *Service) eligible() []Status {
	if s.cfg.RetrySkipped {
		return []Status{StatusPending, StatusSkipped}
	}
	return []Status{StatusPending}
}
