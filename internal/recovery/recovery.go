// Package recovery repairs import records left in an in-progress status by a
// crash. It runs once at process start, before requests are served.
package recovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vietddude/flowgate/internal/infra/storage"
	"github.com/vietddude/flowgate/internal/metrics"
)

// StuckImportMessage is written to last_error of every reset record.
const StuckImportMessage = "Import interrupted by a server restart; reset to pending for retry"

const lockName = "startup-recovery"

// Store is the subset of storage the routine needs.
type Store interface {
	Ping(ctx context.Context) error
	TableExists(ctx context.Context) (bool, error)
	ResetStuck(ctx context.Context, lastError string) ([]string, error)
	Close() error
}

// Opener connects to the store identified by dsn.
type Opener func(ctx context.Context, dsn string) (Store, error)

// Locker provides a cross-replica mutual exclusion lock.
type Locker interface {
	TryLock(
		ctx context.Context,
		name string,
		ttl time.Duration,
	) (release func(context.Context) error, acquired bool, err error)
}

// Config holds routine settings.
type Config struct {
	DatabaseURL string
	LockTTL     time.Duration
	Timeout     time.Duration
}

// Routine resets stuck imports.
type Routine struct {
	cfg    Config
	open   Opener
	locker Locker
	log    *slog.Logger
}

// Option configures a Routine.
type Option func(*Routine)

// WithLogger sets the routine's logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Routine) {
		if log != nil {
			r.log = log
		}
	}
}

// WithLocker makes the routine skip when another replica holds the lock.
func WithLocker(l Locker) Option {
	return func(r *Routine) {
		r.locker = l
	}
}

// New creates a recovery routine.
func New(cfg Config, open Opener, opts ...Option) *Routine {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	r := &Routine{
		cfg:  cfg,
		open: open,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("component", "recovery")
	return r
}

// Run resets every importing/updating record to pending and returns how many
// were reset. It never fails: every error is logged and yields 0.
func (r *Routine) Run(ctx context.Context) (count int) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Startup recovery panicked", "panic", p)
			count = 0
		}
	}()

	if r.cfg.DatabaseURL == "" {
		r.log.Info("Startup recovery skipped: no database configured")
		return 0
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	if r.locker != nil {
		release, acquired, err := r.locker.TryLock(ctx, lockName, r.cfg.LockTTL)
		switch {
		case err != nil:
			r.log.Warn("Recovery lock unavailable, continuing without it", "error", err)
		case !acquired:
			r.log.Info("Startup recovery skipped: another instance holds the lock")
			return 0
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					r.log.Warn("Failed to release recovery lock", "error", err)
				}
			}()
		}
	}

	start := time.Now()
	store, err := r.open(ctx, r.cfg.DatabaseURL)
	if err != nil {
		r.log.Error("Startup recovery failed to connect", "error", err)
		return 0
	}
	defer func() {
		if err := store.Close(); err != nil {
			r.log.Warn("Failed to close recovery connection", "error", err)
		}
	}()

	if err := store.Ping(ctx); err != nil {
		r.log.Error("Startup recovery connectivity check failed", "error", err)
		return 0
	}

	exists, err := store.TableExists(ctx)
	if err != nil {
		r.log.Error("Startup recovery failed to inspect schema", "error", err)
		return 0
	}
	if !exists {
		r.log.Info("Startup recovery skipped: import table does not exist yet")
		return 0
	}

	ids, err := store.ResetStuck(ctx, StuckImportMessage)
	if errors.Is(err, storage.ErrTableMissing) {
		r.log.Info("Startup recovery skipped: import table does not exist yet")
		return 0
	}
	if err != nil {
		r.log.Error("Startup recovery failed to reset stuck imports", "error", err)
		return 0
	}

	if len(ids) == 0 {
		r.log.Info("No stuck imports found", "duration", time.Since(start))
		return 0
	}

	metrics.RecoveryResetTotal.Add(float64(len(ids)))
	r.log.Warn("Reset stuck imports to pending",
		"count", len(ids),
		"ids", ids,
		"duration", time.Since(start),
	)
	return len(ids)
}
