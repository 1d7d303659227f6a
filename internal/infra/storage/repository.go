package storage

import (
	"context"
	"errors"

	"github.com/vietddude/flowgate/internal/core/domain"
)

var (
	// ErrNotFound is returned when an import record doesn't exist
	ErrNotFound = errors.New("import not found")

	// ErrTableMissing is returned when the import table has not been migrated yet
	ErrTableMissing = errors.New("import table does not exist")
)

// ImportRepository handles import record storage operations
type ImportRepository interface {
	// Create inserts a new record
	Create(ctx context.Context, rec *domain.ImportRecord) error

	// Get retrieves a record by id
	Get(ctx context.Context, id string) (*domain.ImportRecord, error)

	// SetStatus unconditionally sets status and last error
	SetStatus(ctx context.Context, id string, status domain.ImportStatus, lastError string) error

	// Transition moves a record to status `to` only if its current status is one
	// of `from`. It reports whether the record was moved.
	Transition(
		ctx context.Context,
		id string,
		from []domain.ImportStatus,
		to domain.ImportStatus,
	) (bool, error)

	// CountByStatus returns the number of records per status
	CountByStatus(ctx context.Context) (map[domain.ImportStatus]int, error)

	// ResetStuck moves every importing/updating record back to pending with the
	// given last error, in one atomic statement. It returns the affected ids.
	ResetStuck(ctx context.Context, lastError string) ([]string, error)

	// Ping verifies connectivity with a trivial round trip
	Ping(ctx context.Context) error

	// TableExists reports whether the import table is present
	TableExists(ctx context.Context) (bool, error)
}
