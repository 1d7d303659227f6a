// Package control wires configuration, storage, the forwarding client and the
// gateway server into a running process.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vietddude/flowgate/internal/core/config"
	"github.com/vietddude/flowgate/internal/gateway"
	redisclient "github.com/vietddude/flowgate/internal/infra/redis"
	"github.com/vietddude/flowgate/internal/infra/storage"
	"github.com/vietddude/flowgate/internal/infra/storage/memory"
	"github.com/vietddude/flowgate/internal/infra/storage/postgres"
	"github.com/vietddude/flowgate/internal/infra/webhook"
	"github.com/vietddude/flowgate/internal/recovery"
)

// App is the gateway process.
type App struct {
	cfg     config.AppConfig
	db      *postgres.DB
	imports storage.ImportRepository
	client  *webhook.Client
	server  *gateway.Server
	log     *slog.Logger
}

// NewApp creates the application with all dependencies initialized. Without a
// database URL imports are kept in memory.
func NewApp(ctx context.Context, cfg config.AppConfig, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	var db *postgres.DB
	var imports storage.ImportRepository
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to migrate db: %w", err)
			}
		}
		imports = postgres.NewImportRepo(db)
		log.Info("Using PostgreSQL storage")
	} else {
		imports = memory.NewImportRepo()
		log.Info("Using Memory storage")
	}

	client := webhook.NewClient(cfg.Webhook.BaseURL, webhook.WithLogger(log))
	if !client.Configured() {
		log.Warn("Webhook base URL not set, workflow calls will fail")
	}

	return &App{
		cfg:     cfg,
		db:      db,
		imports: imports,
		client:  client,
		server:  gateway.NewServer(cfg.Server.Port, cfg.Webhook, client, imports, log),
		log:     log,
	}, nil
}

// Handler returns the gateway's HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Start starts the HTTP server and background collectors. It does not block.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Gateway server failed", "error", err)
		}
	}()

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	a.log.Info("Gateway listening", "port", a.cfg.Server.Port)
	return nil
}

// Stop drains in-flight requests and releases the database.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping gateway...")

	err := a.server.Stop(ctx)
	if a.db != nil {
		if cerr := a.db.Close(); cerr != nil {
			a.log.Warn("Failed to close database", "error", cerr)
		}
	}
	return err
}

// Recover runs the startup recovery routine against cfg.Database.URL and
// returns how many imports were reset. It never fails. When Redis is
// configured only one replica performs the reset.
func Recover(ctx context.Context, cfg config.AppConfig, log *slog.Logger) int {
	if log == nil {
		log = slog.Default()
	}

	opts := []recovery.Option{recovery.WithLogger(log)}
	// Without a database the routine only logs a skip, so Redis is not dialed.
	if cfg.Redis.URL != "" && cfg.Database.URL != "" {
		rdb, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, recovering without lock", "error", err)
		} else {
			defer func() {
				_ = rdb.Close()
			}()
			opts = append(opts, recovery.WithLocker(rdb))
		}
	}

	routine := recovery.New(recovery.Config{
		DatabaseURL: cfg.Database.URL,
		LockTTL:     cfg.Recovery.LockTTL,
		Timeout:     cfg.Recovery.Timeout,
	}, OpenRecoveryStore(cfg.Database), opts...)

	return routine.Run(ctx)
}

// OpenRecoveryStore returns a recovery.Opener backed by PostgreSQL using the
// pool settings in base.
func OpenRecoveryStore(base postgres.Config) recovery.Opener {
	return func(ctx context.Context, dsn string) (recovery.Store, error) {
		cfg := base
		cfg.URL = dsn
		// Recovery holds a single connection for one statement.
		cfg.MaxConns, cfg.MinConns = 1, 1
		repo, err := postgres.OpenImportRepo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
}
