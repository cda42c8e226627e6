package refdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"concord/pkg/platform/sentinel"
	txcontext "concord/pkg/platform/tx"
)

var _ CenterStore = (*PostgresCenterStore)(nil)

// PostgresCenterStore persists centers in the centers table. The
// normalized_name column is maintained on write so exact lookups stay indexed.
type PostgresCenterStore struct {
	db *sql.DB
}

func NewPostgresCenterStore(db *sql.DB) *PostgresCenterStore {
	return &PostgresCenterStore{db: db}
}

type centerQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresCenterStore) querier(ctx context.Context) centerQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresCenterStore) List(ctx context.Context) ([]Center, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, `
		SELECT id, name, low_confidence, created_at
		FROM centers
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query centers: %w", err)
	}
	defer rows.Close()

	var centers []Center
	for rows.Next() {
		var center Center
		if err := rows.Scan(&center.ID, &center.Name, &center.LowConfidence, &center.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan center: %w", err)
		}
		centers = append(centers, center)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate centers: %w", err)
	}
	return centers, nil
}

func (s *PostgresCenterStore) FindByNormalizedName(ctx context.Context, normalized string) (Center, error) {
	var center Center
	err := s.querier(ctx).QueryRowContext(ctx, `
		SELECT id, name, low_confidence, created_at
		FROM centers
		WHERE normalized_name = $1
		ORDER BY id
		LIMIT 1
	`, normalized).Scan(&center.ID, &center.Name, &center.LowConfidence, &center.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Center{}, sentinel.ErrNotFound
		}
		return Center{}, fmt.Errorf("query center by name: %w", err)
	}
	return center, nil
}

func (s *PostgresCenterStore) Create(ctx context.Context, center Center) (Center, error) {
	err := s.querier(ctx).QueryRowContext(ctx, `
		INSERT INTO centers (name, normalized_name, low_confidence, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, center.Name, Normalize(center.Name), center.LowConfidence, center.CreatedAt).Scan(&center.ID)
	if err != nil {
		return Center{}, fmt.Errorf("insert center: %w", err)
	}
	return center, nil
}
