package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vietddude/flowgate/internal/control"
	"github.com/vietddude/flowgate/internal/core/config"
	"github.com/vietddude/flowgate/internal/core/logging"
)

var (
	cfgPath     string
	isDebug     bool
	skipRecover bool
)

var rootCmd = &cobra.Command{
	Use:   "flowgate",
	Short: "Flowgate workflow gateway",
	Long:  `Flowgate proxies browser requests to a workflow engine's webhooks and tracks imports.`,
	Run:   runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Recover stuck imports, then serve the gateway API",
	Run:   runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	serveCmd.Flags().BoolVar(&skipRecover, "skip-recovery", false, "do not reset stuck imports at startup")
	rootCmd.AddCommand(serveCmd)
}

// readConfig reads .env and the config file, then installs the logger. On
// error the default logger is installed and the error returned.
func readConfig() (config.AppConfig, error) {
	_ = godotenv.Load()

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		logging.Setup(config.LoggingConfig{}, isDebug)
		return config.AppConfig{}, err
	}
	logging.Setup(cfg.Logging, isDebug)
	return *cfg, nil
}

// loadConfig is readConfig for commands that cannot run without a config.
func loadConfig() config.AppConfig {
	cfg, err := readConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	return cfg
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stuck imports are reset before migrations run and before any request is served.
	if !skipRecover && !cfg.Recovery.Disabled {
		control.Recover(ctx, cfg, slog.Default())
	}

	app, err := control.NewApp(ctx, cfg, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize gateway", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start gateway", "error", err)
		os.Exit(1)
	}

	slog.Info("Gateway started", "config", cfgPath)

	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
}
