// Package config loads server configuration from flags, environment variables and .env files.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendFirestore = "firestore"
	BackendBadger    = "badger"
)

// Config holds the application configuration.
type Config struct {
	App    AppConfig
	Logger LoggerConfig
	Server ServerConfig
	Store  StoreConfig
	LINE   LINEConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
	SSEHeartbeat    time.Duration
	// SessionIdleTimeout is how long an owner's session survives without
	// requests or connected streams.
	SessionIdleTimeout time.Duration
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Backend string
	// ProjectID is the Google Cloud project, required for firestore.
	ProjectID string
	// BadgerPath is the badger directory. Empty runs badger in memory.
	BadgerPath string
}

// LINEConfig holds the LINE messaging channel credentials.
// The webhook is only mounted when both are set.
type LINEConfig struct {
	ChannelToken  string
	ChannelSecret string
}

// Enabled reports whether the LINE webhook should be served.
func (c LINEConfig) Enabled() bool {
	return c.ChannelToken != "" && c.ChannelSecret != ""
}

// Load loads configuration with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	port := fs.String("port", "", "Server port (default: 8080)")
	backend := fs.String("store", "", "Document store backend (firestore, badger)")
	projectID := fs.String("project", "", "Google Cloud project for firestore")
	badgerPath := fs.String("badger-path", "", "Badger directory (empty: in-memory)")
	shutdownTimeout := fs.String("shutdown-timeout", "", "Graceful shutdown timeout (default: 10s)")
	sseHeartbeat := fs.String("sse-heartbeat", "", "SSE heartbeat interval (default: 30s)")
	sessionIdle := fs.String("session-idle-timeout", "", "Idle time before a session is released (default: 30m)")
	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// .env never overrides variables that are already set.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", *envFile, err)
	}

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Port: getConfigValue(*port, "PORT", "8080"),
		},
		Store: StoreConfig{
			Backend:    getConfigValue(*backend, "STORE_BACKEND", BackendBadger),
			ProjectID:  getConfigValue(*projectID, "GOOGLE_CLOUD_PROJECT", ""),
			BadgerPath: getConfigValue(*badgerPath, "BADGER_PATH", ""),
		},
		LINE: LINEConfig{
			ChannelToken:  os.Getenv("LINE_CHANNEL_TOKEN"),
			ChannelSecret: os.Getenv("LINE_CHANNEL_SECRET"),
		},
	}

	var err error
	if cfg.Server.ShutdownTimeout, err = getDurationConfigValue(*shutdownTimeout, "SHUTDOWN_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.Server.SSEHeartbeat, err = getDurationConfigValue(*sseHeartbeat, "SSE_HEARTBEAT", "30s"); err != nil {
		return nil, err
	}
	if cfg.Server.SessionIdleTimeout, err = getDurationConfigValue(*sessionIdle, "SESSION_IDLE_TIMEOUT", "30m"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	switch c.Store.Backend {
	case BackendFirestore:
		if c.Store.ProjectID == "" {
			return errors.New("GOOGLE_CLOUD_PROJECT is required for the firestore backend")
		}
	case BackendBadger:
	default:
		return fmt.Errorf("invalid store backend: %s (must be firestore or badger)", c.Store.Backend)
	}

	if c.Server.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	return nil
}

// getConfigValue returns the flag value, then the env value, then the default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return defaultValue
}

func getDurationConfigValue(flagValue, envKey, defaultValue string) (time.Duration, error) {
	raw := getConfigValue(flagValue, envKey, defaultValue)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", strings.ToLower(envKey), raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", strings.ToLower(envKey), raw)
	}
	return d, nil
}
