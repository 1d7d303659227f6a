package domain

import "time"

// ImportRecord tracks one multi-step import driven through the workflow engine.
type ImportRecord struct {
	ID        string       `json:"id"         db:"id"`
	Name      string       `json:"name"       db:"name"`
	Status    ImportStatus `json:"status"     db:"import_status"`
	LastError string       `json:"last_error" db:"last_error"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

type ImportStatus string

const (
	ImportStatusPending   ImportStatus = "pending"
	ImportStatusImporting ImportStatus = "importing"
	ImportStatusUpdating  ImportStatus = "updating"
	ImportStatusCompleted ImportStatus = "completed"
	ImportStatusFailed    ImportStatus = "failed"
)

// InProgress reports whether the status is one a crash can leave behind.
func (s ImportStatus) InProgress() bool {
	return s == ImportStatusImporting || s == ImportStatusUpdating
}

// Terminal reports whether the import reached a final state.
func (s ImportStatus) Terminal() bool {
	return s == ImportStatusCompleted || s == ImportStatusFailed
}

// AllImportStatuses lists statuses in lifecycle order.
var AllImportStatuses = []ImportStatus{
	ImportStatusPending,
	ImportStatusImporting,
	ImportStatusUpdating,
	ImportStatusCompleted,
	ImportStatusFailed,
}
