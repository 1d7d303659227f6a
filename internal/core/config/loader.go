package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	defaultPort               = 8080
	defaultShutdownTimeout    = 15 * time.Second
	defaultWebhookTimeout     = 60 * time.Second
	defaultLongRunningTimeout = 120 * time.Second
	defaultMaxRetries         = 3
	defaultBaseDelay          = 1 * time.Second
	defaultMaxDelay           = 30 * time.Second
	defaultLockTTL            = 5 * time.Minute
	defaultRecoveryTimeout    = 30 * time.Second
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadOrDefault behaves like Load but falls back to environment-only
// configuration when the file does not exist.
func LoadOrDefault(path string) (*AppConfig, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return FromEnv(), nil
}

// FromEnv builds a configuration from WEBHOOK_BASE_URL, DATABASE_URL and REDIS_URL.
func FromEnv() *AppConfig {
	cfg := &AppConfig{}
	cfg.Webhook.BaseURL = os.Getenv("WEBHOOK_BASE_URL")
	cfg.Database.URL = os.Getenv("DATABASE_URL")
	cfg.Redis.URL = os.Getenv("REDIS_URL")
	cfg.Logging.Level = os.Getenv("LOG_LEVEL")
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultPort
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}

	w := &cfg.Webhook
	if w.Timeout == 0 {
		w.Timeout = defaultWebhookTimeout
	}
	if w.LongRunningTimeout == 0 {
		w.LongRunningTimeout = defaultLongRunningTimeout
	}
	if w.MaxRetries == nil {
		n := defaultMaxRetries
		w.MaxRetries = &n
	}
	if w.BaseDelay == 0 {
		w.BaseDelay = defaultBaseDelay
	}
	if w.MaxDelay == 0 {
		w.MaxDelay = defaultMaxDelay
	}
	if len(w.LongRunning) == 0 {
		w.LongRunning = []string{"import"}
	}

	if cfg.Recovery.LockTTL == 0 {
		cfg.Recovery.LockTTL = defaultLockTTL
	}
	if cfg.Recovery.Timeout == 0 {
		cfg.Recovery.Timeout = defaultRecoveryTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
