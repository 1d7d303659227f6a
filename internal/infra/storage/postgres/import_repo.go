package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/flowgate/internal/core/domain"
	"github.com/vietddude/flowgate/internal/infra/storage"
)

const importTable = "import_records"

// SQLSTATE undefined_table
const codeUndefinedTable = "42P01"

// ImportRepo implements storage.ImportRepository using PostgreSQL.
type ImportRepo struct {
	db *DB
}

var _ storage.ImportRepository = (*ImportRepo)(nil)

// NewImportRepo creates a new PostgreSQL import repository.
func NewImportRepo(db *DB) *ImportRepo {
	return &ImportRepo{db: db}
}

// OpenImportRepo connects to cfg.URL and returns a repository owning the
// connection. Close releases it.
func OpenImportRepo(ctx context.Context, cfg Config) (*ImportRepo, error) {
	db, err := NewDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewImportRepo(db), nil
}

// Close closes the underlying connection pool.
func (r *ImportRepo) Close() error {
	return r.db.Close()
}

// Create inserts a new import record.
func (r *ImportRepo) Create(ctx context.Context, rec *domain.ImportRecord) error {
	if rec.Status == "" {
		rec.Status = domain.ImportStatusPending
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now

	query := `
		INSERT INTO import_records (id, name, import_status, last_error, created_at, updated_at)
		VALUES (:id, :name, :import_status, :last_error, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to create import: %w", mapError(err))
	}
	return nil
}

// Get retrieves an import record by id.
func (r *ImportRepo) Get(ctx context.Context, id string) (*domain.ImportRecord, error) {
	query := `
		SELECT id, name, import_status, last_error, created_at, updated_at
		FROM import_records
		WHERE id = $1
	`
	var rec domain.ImportRecord
	err := r.db.GetContext(ctx, &rec, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import: %w", mapError(err))
	}
	return &rec, nil
}

// SetStatus sets status and last error.
func (r *ImportRepo) SetStatus(
	ctx context.Context,
	id string,
	status domain.ImportStatus,
	lastError string,
) error {
	query := `
		UPDATE import_records
		SET import_status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, string(status), lastError)
	if err != nil {
		return fmt.Errorf("failed to update import status: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Transition moves the record to `to` if its status is one of `from`.
func (r *ImportRepo) Transition(
	ctx context.Context,
	id string,
	from []domain.ImportStatus,
	to domain.ImportStatus,
) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}

	query, args, err := sqlx.In(`
		UPDATE import_records
		SET import_status = ?, last_error = '', updated_at = NOW()
		WHERE id = ? AND import_status IN (?)
	`, string(to), id, statuses)
	if err != nil {
		return false, fmt.Errorf("failed to build transition query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition import: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// CountByStatus returns the number of records per status.
func (r *ImportRepo) CountByStatus(ctx context.Context) (map[domain.ImportStatus]int, error) {
	query := `
		SELECT import_status, COUNT(*) AS count
		FROM import_records
		GROUP BY import_status
	`
	var rows []struct {
		Status string `db:"import_status"`
		Count  int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count imports: %w", mapError(err))
	}

	counts := make(map[domain.ImportStatus]int, len(rows))
	for _, row := range rows {
		counts[domain.ImportStatus(row.Status)] = row.Count
	}
	return counts, nil
}

// ResetStuck moves importing/updating records back to pending in a single
// statement and returns their ids.
func (r *ImportRepo) ResetStuck(ctx context.Context, lastError string) ([]string, error) {
	query := `
		UPDATE import_records
		SET import_status = 'pending', last_error = $1, updated_at = NOW()
		WHERE import_status IN ('importing', 'updating')
		RETURNING id
	`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, lastError); err != nil {
		return nil, fmt.Errorf("failed to reset stuck imports: %w", mapError(err))
	}
	return ids, nil
}

// Ping checks the database through DB.Health.
func (r *ImportRepo) Ping(ctx context.Context) error {
	return r.db.Health(ctx)
}

// TableExists reports whether import_records has been created.
func (r *ImportRepo) TableExists(ctx context.Context) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, "SELECT to_regclass($1::text) IS NOT NULL", importTable); err != nil {
		return false, fmt.Errorf("failed to check import table: %w", err)
	}
	return exists, nil
}

// mapError converts undefined_table into storage.ErrTableMissing.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUndefinedTable {
		return fmt.Errorf("%w: %s", storage.ErrTableMissing, pgErr.Message)
	}
	return err
}
