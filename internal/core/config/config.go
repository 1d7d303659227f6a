package config

import (
	"time"

	redisclient "github.com/vietddude/flowgate/internal/infra/redis"
	"github.com/vietddude/flowgate/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Webhook  WebhookConfig      `yaml:"webhook"`
	Database postgres.Config    `yaml:"database"`
	Redis    redisclient.Config `yaml:"redis"`
	Recovery RecoveryConfig     `yaml:"recovery"`
	Logging  LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// WebhookConfig holds settings for the workflow engine webhooks.
type WebhookConfig struct {
	BaseURL            string        `yaml:"base_url"`
	Timeout            time.Duration `yaml:"timeout"`              // per attempt
	LongRunningTimeout time.Duration `yaml:"long_running_timeout"` // per attempt, for LongRunning operations
	LongRunning        []string      `yaml:"long_running"`
	MaxRetries         *int          `yaml:"max_retries"` // nil = default, 0 = no retries
	BaseDelay          time.Duration `yaml:"base_delay"`
	MaxDelay           time.Duration `yaml:"max_delay"`
}

// IsLongRunning reports whether an operation uses the long-running timeout.
func (c WebhookConfig) IsLongRunning(operation string) bool {
	for _, op := range c.LongRunning {
		if op == operation {
			return true
		}
	}
	return false
}

// RecoveryConfig holds settings for the startup recovery routine.
type RecoveryConfig struct {
	Disabled bool          `yaml:"disabled"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}
