// Command recover resets imports stuck in importing/updating to pending.
// It always exits 0 so it can run as a pre-start hook without blocking a deploy.
package main

import (
	"context"
	"flag"
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/vietddude/flowgate/internal/control"
	"github.com/vietddude/flowgate/internal/core/config"
	"github.com/vietddude/flowgate/internal/core/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	isDebug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logging.Setup(config.LoggingConfig{}, *isDebug)
		slog.Error("Failed to load config, skipping recovery", "error", err)
		return
	}
	logging.Setup(cfg.Logging, *isDebug)

	n := control.Recover(context.Background(), *cfg, slog.Default())
	slog.Info("Recovery finished", "reset", n)
}
