package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/flowgate/internal/core/domain"
	"github.com/vietddude/flowgate/internal/infra/storage"
)

// ImportRepo is an in-process ImportRepository used when no database is
// configured, and in tests.
type ImportRepo struct {
	mu      sync.RWMutex
	records map[string]*domain.ImportRecord
	now     func() time.Time
}

var _ storage.ImportRepository = (*ImportRepo)(nil)

func NewImportRepo() *ImportRepo {
	return &ImportRepo{
		records: make(map[string]*domain.ImportRecord),
		now:     time.Now,
	}
}

func (r *ImportRepo) Create(ctx context.Context, rec *domain.ImportRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	cp := *rec
	if cp.Status == "" {
		cp.Status = domain.ImportStatusPending
	}
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.records[cp.ID] = &cp
	rec.Status, rec.CreatedAt, rec.UpdatedAt = cp.Status, now, now
	return nil
}

func (r *ImportRepo) Get(ctx context.Context, id string) (*domain.ImportRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *ImportRepo) SetStatus(
	ctx context.Context,
	id string,
	status domain.ImportStatus,
	lastError string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	rec.Status = status
	rec.LastError = lastError
	rec.UpdatedAt = r.now().UTC()
	return nil
}

func (r *ImportRepo) Transition(
	ctx context.Context,
	id string,
	from []domain.ImportStatus,
	to domain.ImportStatus,
) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || !slices.Contains(from, rec.Status) {
		return false, nil
	}
	rec.Status = to
	rec.LastError = ""
	rec.UpdatedAt = r.now().UTC()
	return true, nil
}

func (r *ImportRepo) CountByStatus(ctx context.Context) (map[domain.ImportStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[domain.ImportStatus]int)
	for _, rec := range r.records {
		counts[rec.Status]++
	}
	return counts, nil
}

func (r *ImportRepo) ResetStuck(ctx context.Context, lastError string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	var ids []string
	for id, rec := range r.records {
		if !rec.Status.InProgress() {
			continue
		}
		rec.Status = domain.ImportStatusPending
		rec.LastError = lastError
		rec.UpdatedAt = now
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping always succeeds.
func (r *ImportRepo) Ping(ctx context.Context) error {
	return nil
}

// TableExists always reports true.
func (r *ImportRepo) TableExists(ctx context.Context) (bool, error) {
	return true, nil
}

// Close is a no-op; records stay readable.
func (r *ImportRepo) Close() error {
	return nil
}
