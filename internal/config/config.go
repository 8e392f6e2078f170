package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config captures the runtime configuration for the Honey sync client.
type Config struct {
	APIBaseURL     string
	StateDir       string
	RequestTimeout time.Duration
	ChatPoll       time.Duration
	SessionPoll    time.Duration
	SessionDetail  time.Duration
	StatusPort     int
	LogLevel       string
	ChatStreamOn   bool
}

// Load reads configuration from environment variables, applying sensible
// defaults for local development while allowing overrides per variable.
func Load() (Config, error) {
	cfg := Config{
		APIBaseURL:     getString("HONEY_API_URL", "http://localhost:8000"),
		StateDir:       getString("HONEY_STATE_DIR", defaultStateDir()),
		RequestTimeout: getDuration("HONEY_REQUEST_TIMEOUT", 20*time.Second),
		ChatPoll:       getDuration("HONEY_CHAT_POLL", 15*time.Second),
		SessionPoll:    getDuration("HONEY_SESSION_POLL", 10*time.Second),
		SessionDetail:  getDuration("HONEY_SESSION_DETAIL_POLL", 5*time.Second),
		StatusPort:     getInt("HONEY_STATUS_PORT", 8642),
		LogLevel:       getString("HONEY_LOG_LEVEL", "info"),
		ChatStreamOn:   getBool("HONEY_CHAT_STREAM", true),
	}

	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return Config{}, fmt.Errorf("ensure state dir: %w", err)
	}

	return cfg, nil
}

// StorePath returns the location of the local mirror database.
func (c Config) StorePath() string {
	return filepath.Join(c.StateDir, "honeysync.db")
}

// MachineKeyPath returns the location of the credential-sealing key.
func (c Config) MachineKeyPath() string {
	return filepath.Join(c.StateDir, "machine.key")
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "honeysync")
	}
	return ".honeysync"
}

func getString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
