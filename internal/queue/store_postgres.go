package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"concord/pkg/domain"
	"concord/pkg/platform/sentinel"
	txcontext "concord/pkg/platform/tx"
)

var _ EntryStore = (*PostgresEntryStore)(nil)

// PostgresEntryStore backs the validation queue with the validation_queue
// table. Mark uses a guarded UPDATE so the no-regression rule holds even when
// two loader instances process overlapping batches.
type PostgresEntryStore struct {
	db *sql.DB
}

func NewPostgresEntryStore(db *sql.DB) *PostgresEntryStore {
	return &PostgresEntryStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresEntryStore) querier(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresEntryStore) Insert(ctx context.Context, entry Entry) error {
	_, err := s.querier(ctx).ExecContext(ctx, `
		INSERT INTO validation_queue (fragment_id, table_name, batch_id, source_system, payload, status, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		uuid.UUID(entry.FragmentID),
		entry.Table,
		uuid.UUID(entry.BatchID),
		entry.Source,
		[]byte(entry.Payload),
		string(entry.Status),
		entry.Error,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert queue entry: %w", err)
	}
	return nil
}

func (s *PostgresEntryStore) Find(ctx context.Context, fragmentID domain.FragmentID) (Entry, error) {
	row := s.querier(ctx).QueryRowContext(ctx, `
		SELECT fragment_id, table_name, batch_id, source_system, payload, status, error, created_at, updated_at
		FROM validation_queue
		WHERE fragment_id = $1
	`, uuid.UUID(fragmentID))
	return scanEntry(row)
}

func (s *PostgresEntryStore) ListByBatch(ctx context.Context, batchID domain.BatchID, statuses []Status) ([]Entry, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, `
		SELECT fragment_id, table_name, batch_id, source_system, payload, status, error, created_at, updated_at
		FROM validation_queue
		WHERE batch_id = $1 AND status = ANY($2)
		ORDER BY created_at, fragment_id
	`, uuid.UUID(batchID), pq.Array(statusStrings(statuses)))
	if err != nil {
		return nil, fmt.Errorf("query queue entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue entries: %w", err)
	}
	return entries, nil
}

func (s *PostgresEntryStore) Mark(ctx context.Context, fragmentID domain.FragmentID, status Status, errMsg string, allowedFrom []Status) error {
	result, err := s.querier(ctx).ExecContext(ctx, `
		UPDATE validation_queue
		SET status = $2, error = $3, updated_at = now()
		WHERE fragment_id = $1 AND status = ANY($4)
	`, uuid.UUID(fragmentID), string(status), errMsg, pq.Array(statusStrings(allowedFrom)))
	if err != nil {
		return fmt.Errorf("mark queue entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark queue entry: %w", err)
	}
	if affected == 0 {
		// Either the entry is unknown or it already reached a terminal
		// status. Distinguish for the caller.
		var exists bool
		err := s.querier(ctx).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM validation_queue WHERE fragment_id = $1)`,
			uuid.UUID(fragmentID),
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check queue entry: %w", err)
		}
		if !exists {
			return fmt.Errorf("fragment %s: %w", fragmentID, sentinel.ErrNotFound)
		}
		return fmt.Errorf("fragment %s: %w", fragmentID, sentinel.ErrTerminalState)
	}
	return nil
}

func (s *PostgresEntryStore) CountByStatus(ctx context.Context, batchID domain.BatchID) (map[Status]int, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, `
		SELECT status, count(*)
		FROM validation_queue
		WHERE batch_id = $1
		GROUP BY status
	`, uuid.UUID(batchID))
	if err != nil {
		return nil, fmt.Errorf("count queue entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan queue count: %w", err)
		}
		counts[Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue counts: %w", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry      Entry
		fragmentID uuid.UUID
		batchID    uuid.UUID
		payload    []byte
		status     string
	)
	err := row.Scan(&fragmentID, &entry.Table, &batchID, &entry.Source, &payload, &status, &entry.Error, &entry.CreatedAt, &entry.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("scan queue entry: %w", err)
	}
	entry.FragmentID = domain.FragmentID(fragmentID)
	entry.BatchID = domain.BatchID(batchID)
	entry.Payload = payload
	entry.Status = Status(status)
	return entry, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
