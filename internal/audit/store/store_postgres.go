package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"concord/internal/audit"
	txcontext "concord/pkg/platform/tx"
)

var (
	_ audit.ChangeLog    = (*PostgresOutbox)(nil)
	_ audit.OutboxReader = (*PostgresOutbox)(nil)
)

// PostgresOutbox implements the transactional outbox pattern: events insert
// into change_outbox inside the caller's transaction, so an aborted batch
// never leaks audit rows, and the outbox worker publishes committed rows to
// Kafka afterwards.
type PostgresOutbox struct {
	db *sql.DB
}

func NewPostgresOutbox(db *sql.DB) *PostgresOutbox {
	return &PostgresOutbox{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresOutbox) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append writes a change event to the outbox. Idempotent via ON CONFLICT
// DO NOTHING on the event id.
func (s *PostgresOutbox) Append(ctx context.Context, event audit.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}

	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO change_outbox (id, table_name, natural_key, batch_id, outcome, payload, created_at, published)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false)
		ON CONFLICT (id) DO NOTHING
	`,
		event.ID,
		event.Table,
		event.NaturalKey,
		uuid.UUID(event.BatchID),
		event.Outcome,
		payload,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (s *PostgresOutbox) Unpublished(ctx context.Context, limit int) ([]audit.ChangeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload
		FROM change_outbox
		WHERE NOT published
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var events []audit.ChangeEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		var event audit.ChangeEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("unmarshal outbox entry: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return events, nil
}

func (s *PostgresOutbox) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE change_outbox SET published = true WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}
