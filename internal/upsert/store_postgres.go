package upsert

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	txcontext "concord/pkg/platform/tx"
)

var _ RecordStore = (*PostgresRecordStore)(nil)

// PostgresRecordStore keeps canonical records in a single domain_records table
// keyed by (table_name, natural_key), with the field payload as JSONB. All
// writes go through the transaction carried in the context when present, so a
// batch commits or rolls back as a unit.
type PostgresRecordStore struct {
	db *sql.DB
}

func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresRecordStore) querier(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresRecordStore) FindByNaturalKeys(ctx context.Context, table string, keys []string) (map[string]StoredRecord, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, `
		SELECT natural_key, fields
		FROM domain_records
		WHERE table_name = $1 AND natural_key = ANY($2)
	`, table, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("query domain records: %w", err)
	}
	defer rows.Close()

	found := make(map[string]StoredRecord)
	for rows.Next() {
		var (
			key     string
			payload []byte
		)
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, fmt.Errorf("scan domain record: %w", err)
		}
		var fields Record
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, fmt.Errorf("unmarshal domain record %s/%s: %w", table, key, err)
		}
		found[key] = StoredRecord{NaturalKey: key, Fields: fields}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domain records: %w", err)
	}
	return found, nil
}

func (s *PostgresRecordStore) Insert(ctx context.Context, table string, record StoredRecord, prov Provenance) error {
	payload, err := json.Marshal(record.Fields)
	if err != nil {
		return fmt.Errorf("marshal domain record: %w", err)
	}

	_, err = s.querier(ctx).ExecContext(ctx, `
		INSERT INTO domain_records (table_name, natural_key, fields, source_system, batch_id, actor, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`,
		table,
		record.NaturalKey,
		payload,
		prov.SourceSystem,
		uuid.UUID(prov.BatchID),
		prov.Actor,
		prov.At,
	)
	if err != nil {
		return fmt.Errorf("insert domain record %s/%s: %w", table, record.NaturalKey, err)
	}
	return nil
}

func (s *PostgresRecordStore) Update(ctx context.Context, table string, naturalKey string, changes Record, prov Provenance) error {
	payload, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshal field changes: %w", err)
	}

	// JSONB || merges only the changed fields over the stored payload.
	result, err := s.querier(ctx).ExecContext(ctx, `
		UPDATE domain_records
		SET fields = fields || $3::jsonb,
		    source_system = $4,
		    batch_id = $5,
		    actor = $6,
		    updated_at = $7
		WHERE table_name = $1 AND natural_key = $2
	`,
		table,
		naturalKey,
		payload,
		prov.SourceSystem,
		uuid.UUID(prov.BatchID),
		prov.Actor,
		prov.At,
	)
	if err != nil {
		return fmt.Errorf("update domain record %s/%s: %w", table, naturalKey, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update domain record %s/%s: %w", table, naturalKey, err)
	}
	if affected == 0 {
		return fmt.Errorf("no row with natural key %q in %s", naturalKey, table)
	}
	return nil
}
