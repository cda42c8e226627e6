package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Sink is where the worker ships committed events (Kafka in production).
type Sink interface {
	Publish(ctx context.Context, events []ChangeEvent) error
}

const workerPageSize = 100

// Worker drains the outbox into the sink. It keeps background publishing out
// of the write path: batch transactions only ever touch the outbox table.
type Worker struct {
	outbox   OutboxReader
	sink     Sink
	interval time.Duration
	logger   *slog.Logger
}

func NewWorker(outbox OutboxReader, sink Sink, interval time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Worker{outbox: outbox, sink: sink, interval: interval, logger: logger}
}

// Run polls until the context is cancelled. Publish failures are logged and
// retried on the next tick; events stay in the outbox until acknowledged.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drain(ctx); err != nil {
				w.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

func (w *Worker) drain(ctx context.Context) error {
	for {
		events, err := w.outbox.Unpublished(ctx, workerPageSize)
		if err != nil {
			return fmt.Errorf("read outbox: %w", err)
		}
		if len(events) == 0 {
			return nil
		}
		if err := w.sink.Publish(ctx, events); err != nil {
			return fmt.Errorf("publish events: %w", err)
		}
		ids := make([]uuid.UUID, len(events))
		for i, event := range events {
			ids[i] = event.ID
		}
		if err := w.outbox.MarkPublished(ctx, ids); err != nil {
			return fmt.Errorf("mark published: %w", err)
		}
		if len(events) < workerPageSize {
			return nil
		}
	}
}
