package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"concord/internal/identity"
	"concord/pkg/domain"
	"concord/pkg/platform/sentinel"
	txcontext "concord/pkg/platform/tx"
)

// uniqueViolation is the PostgreSQL error code raised when an insert trips a
// uniqueness constraint. It is the concurrency backstop for the
// check-then-insert race in identity registration.
const uniqueViolation = "23505"

var (
	_ identity.SubjectStore         = (*PostgresSubjectStore)(nil)
	_ identity.LocalIdentifierStore = (*PostgresLocalIdentifierStore)(nil)
	_ identity.ResolutionLog        = (*PostgresResolutionLog)(nil)
)

type dbQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func querier(ctx context.Context, db *sql.DB) dbQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return db
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// PostgresSubjectStore persists subjects in the subjects table.
type PostgresSubjectStore struct {
	db *sql.DB
}

func NewPostgresSubjectStore(db *sql.DB) *PostgresSubjectStore {
	return &PostgresSubjectStore{db: db}
}

func (s *PostgresSubjectStore) FindByGlobalID(ctx context.Context, globalID domain.GlobalID) (identity.Subject, error) {
	query := `
		SELECT global_id, center_id, withdrawn, flagged_for_review, created_at, created_by, updated_at
		FROM subjects
		WHERE global_id = $1
	`
	var subject identity.Subject
	err := querier(ctx, s.db).QueryRowContext(ctx, query, globalID.String()).Scan(
		&subject.GlobalID,
		&subject.CenterID,
		&subject.Withdrawn,
		&subject.FlaggedForReview,
		&subject.CreatedAt,
		&subject.CreatedBy,
		&subject.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.Subject{}, sentinel.ErrNotFound
		}
		return identity.Subject{}, fmt.Errorf("query subject: %w", err)
	}

	attrs, err := s.loadAttributes(ctx, globalID)
	if err != nil {
		return identity.Subject{}, err
	}
	subject.Attributes = attrs
	return subject, nil
}

func (s *PostgresSubjectStore) loadAttributes(ctx context.Context, globalID domain.GlobalID) (map[string]string, error) {
	rows, err := querier(ctx, s.db).QueryContext(ctx,
		`SELECT name, value FROM subject_attributes WHERE global_id = $1`, globalID.String())
	if err != nil {
		return nil, fmt.Errorf("query subject attributes: %w", err)
	}
	defer rows.Close()

	var attrs map[string]string
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan subject attribute: %w", err)
		}
		if attrs == nil {
			attrs = make(map[string]string)
		}
		attrs[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subject attributes: %w", err)
	}
	return attrs, nil
}

func (s *PostgresSubjectStore) UpdateAttributes(ctx context.Context, globalID domain.GlobalID, attrs map[string]string) error {
	q := querier(ctx, s.db)
	for name, value := range attrs {
		_, err := q.ExecContext(ctx, `
			INSERT INTO subject_attributes (global_id, name, value)
			VALUES ($1, $2, $3)
			ON CONFLICT (global_id, name) DO UPDATE SET value = EXCLUDED.value
		`, globalID.String(), name, value)
		if err != nil {
			return fmt.Errorf("upsert subject attribute %s: %w", name, err)
		}
	}
	if err := s.touch(ctx, globalID); err != nil {
		return err
	}
	return nil
}

func (s *PostgresSubjectStore) touch(ctx context.Context, globalID domain.GlobalID) error {
	result, err := querier(ctx, s.db).ExecContext(ctx,
		`UPDATE subjects SET updated_at = now() WHERE global_id = $1`, globalID.String())
	if err != nil {
		return fmt.Errorf("touch subject: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresSubjectStore) SetReviewFlag(ctx context.Context, globalID domain.GlobalID, flagged bool) error {
	result, err := querier(ctx, s.db).ExecContext(ctx,
		`UPDATE subjects SET flagged_for_review = $2, updated_at = now() WHERE global_id = $1`,
		globalID.String(), flagged)
	if err != nil {
		return fmt.Errorf("set review flag: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresSubjectStore) SetWithdrawn(ctx context.Context, globalID domain.GlobalID, withdrawn bool) error {
	result, err := querier(ctx, s.db).ExecContext(ctx,
		`UPDATE subjects SET withdrawn = $2, updated_at = now() WHERE global_id = $1`,
		globalID.String(), withdrawn)
	if err != nil {
		return fmt.Errorf("set withdrawn: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresSubjectStore) ListFlagged(ctx context.Context) ([]identity.Subject, error) {
	rows, err := querier(ctx, s.db).QueryContext(ctx, `
		SELECT global_id, center_id, withdrawn, flagged_for_review, created_at, created_by, updated_at
		FROM subjects
		WHERE flagged_for_review
		ORDER BY global_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query flagged subjects: %w", err)
	}
	defer rows.Close()

	var subjects []identity.Subject
	for rows.Next() {
		var subject identity.Subject
		if err := rows.Scan(
			&subject.GlobalID,
			&subject.CenterID,
			&subject.Withdrawn,
			&subject.FlaggedForReview,
			&subject.CreatedAt,
			&subject.CreatedBy,
			&subject.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan flagged subject: %w", err)
		}
		subjects = append(subjects, subject)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flagged subjects: %w", err)
	}
	return subjects, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// PostgresLocalIdentifierStore persists the local-to-global mapping. The
// UNIQUE (center_id, local_value, id_type) constraint on local_identifiers is
// what makes Register safe under concurrent resolvers.
type PostgresLocalIdentifierStore struct {
	db *sql.DB
}

func NewPostgresLocalIdentifierStore(db *sql.DB) *PostgresLocalIdentifierStore {
	return &PostgresLocalIdentifierStore{db: db}
}

func (s *PostgresLocalIdentifierStore) Find(ctx context.Context, centerID domain.CenterID, localValue string, idType domain.IdentifierType) (identity.LocalIdentifier, error) {
	query := `
		SELECT center_id, local_value, id_type, global_id, created_at
		FROM local_identifiers
		WHERE center_id = $1 AND local_value = $2 AND id_type = $3
	`
	var localID identity.LocalIdentifier
	err := querier(ctx, s.db).QueryRowContext(ctx, query, int64(centerID), localValue, string(idType)).Scan(
		&localID.CenterID,
		&localID.LocalValue,
		&localID.IDType,
		&localID.GlobalID,
		&localID.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.LocalIdentifier{}, sentinel.ErrNotFound
		}
		return identity.LocalIdentifier{}, fmt.Errorf("query local identifier: %w", err)
	}
	return localID, nil
}

func (s *PostgresLocalIdentifierStore) FindByValue(ctx context.Context, centerID domain.CenterID, localValue string) ([]identity.LocalIdentifier, error) {
	rows, err := querier(ctx, s.db).QueryContext(ctx, `
		SELECT center_id, local_value, id_type, global_id, created_at
		FROM local_identifiers
		WHERE center_id = $1 AND local_value = $2
		ORDER BY id_type
	`, int64(centerID), localValue)
	if err != nil {
		return nil, fmt.Errorf("query local identifiers by value: %w", err)
	}
	defer rows.Close()

	var matches []identity.LocalIdentifier
	for rows.Next() {
		var localID identity.LocalIdentifier
		if err := rows.Scan(
			&localID.CenterID,
			&localID.LocalValue,
			&localID.IDType,
			&localID.GlobalID,
			&localID.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan local identifier: %w", err)
		}
		matches = append(matches, localID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate local identifiers: %w", err)
	}
	if len(matches) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return matches, nil
}

// Register atomically creates the subject and its identifier mapping. When a
// concurrent resolver already registered the same natural key, the uniqueness
// constraint fires and the caller receives sentinel.ErrDuplicate to recover
// via retry-as-lookup.
func (s *PostgresLocalIdentifierStore) Register(ctx context.Context, subject identity.Subject, localID identity.LocalIdentifier) error {
	if tx, ok := txcontext.From(ctx); ok {
		return s.register(ctx, tx, subject, localID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin register tx: %w", err)
	}
	if err := s.register(ctx, tx, subject, localID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit register tx: %w", err)
	}
	return nil
}

func (s *PostgresLocalIdentifierStore) register(ctx context.Context, tx *sql.Tx, subject identity.Subject, localID identity.LocalIdentifier) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO subjects (global_id, center_id, withdrawn, flagged_for_review, created_at, created_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		subject.GlobalID.String(),
		int64(subject.CenterID),
		subject.Withdrawn,
		subject.FlaggedForReview,
		subject.CreatedAt,
		subject.CreatedBy,
		subject.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("insert subject: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO local_identifiers (center_id, local_value, id_type, global_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		int64(localID.CenterID),
		localID.LocalValue,
		string(localID.IDType),
		localID.GlobalID.String(),
		localID.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("insert local identifier: %w", err)
	}
	return nil
}

// PostgresResolutionLog appends to the identity_resolution_log table. Rows are
// never updated or deleted.
type PostgresResolutionLog struct {
	db *sql.DB
}

func NewPostgresResolutionLog(db *sql.DB) *PostgresResolutionLog {
	return &PostgresResolutionLog{db: db}
}

func (l *PostgresResolutionLog) Append(ctx context.Context, record identity.ResolutionRecord) error {
	var globalID *string
	if record.GlobalID != nil {
		v := record.GlobalID.String()
		globalID = &v
	}
	_, err := querier(ctx, l.db).ExecContext(ctx, `
		INSERT INTO identity_resolution_log
			(id, center_id, local_value, id_type, global_id, strategy, confidence, requires_review, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		record.ID,
		int64(record.CenterID),
		record.LocalValue,
		string(record.IDType),
		globalID,
		string(record.Strategy),
		record.Confidence,
		record.RequiresReview,
		record.Actor,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert resolution record: %w", err)
	}
	return nil
}

func (l *PostgresResolutionLog) ListByIdentifier(ctx context.Context, centerID domain.CenterID, localValue string, idType domain.IdentifierType) ([]identity.ResolutionRecord, error) {
	rows, err := querier(ctx, l.db).QueryContext(ctx, `
		SELECT id, center_id, local_value, id_type, global_id, strategy, confidence, requires_review, actor, created_at
		FROM identity_resolution_log
		WHERE center_id = $1 AND local_value = $2 AND id_type = $3
		ORDER BY created_at
	`, int64(centerID), localValue, string(idType))
	if err != nil {
		return nil, fmt.Errorf("query resolution records: %w", err)
	}
	defer rows.Close()

	var records []identity.ResolutionRecord
	for rows.Next() {
		var (
			record   identity.ResolutionRecord
			globalID *string
		)
		if err := rows.Scan(
			&record.ID,
			&record.CenterID,
			&record.LocalValue,
			&record.IDType,
			&globalID,
			&record.Strategy,
			&record.Confidence,
			&record.RequiresReview,
			&record.Actor,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan resolution record: %w", err)
		}
		if globalID != nil {
			g := domain.GlobalID(*globalID)
			record.GlobalID = &g
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolution records: %w", err)
	}
	return records, nil
}
