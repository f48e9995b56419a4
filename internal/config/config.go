// Package config resolves runtime settings from flags, LOCADORA_* environment
// variables and defaults, in that order of precedence.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

const (
	defaultBackend      = BackendSQLite
	defaultListenAddr   = "127.0.0.1:8787"
	defaultPollInterval = 250 * time.Millisecond
	defaultLimitWindow  = 15 * time.Minute
	defaultLimitFails   = 5
	defaultLimitBlock   = 15 * time.Minute
	envPrefix           = "LOCADORA_"
)

// Config holds all settings shared by the binaries.
type Config struct {
	// Storage
	Backend      string
	DBPath       string
	PostgresDSN  string
	PollInterval time.Duration
	SeedFile     string

	// ContextID identifies this execution context on writes. Random per run
	// unless set.
	ContextID string

	// HTTP API
	ListenAddr string

	// Sessions
	SessionKey string
	SessionTTL time.Duration

	// Login limiter
	LimitWindow   time.Duration
	LimitMaxFails int
	LimitBlockFor time.Duration

	Dev bool
}

// RegisterFlags binds the settings to fs with environment-derived defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Backend, "backend", getEnv("BACKEND", defaultBackend), "storage backend: sqlite, postgres or memory (Env: LOCADORA_BACKEND)")
	fs.StringVar(&c.DBPath, "db", getEnv("DB_PATH", defaultDBPath()), "SQLite database file (Env: LOCADORA_DB_PATH)")
	fs.StringVar(&c.PostgresDSN, "dsn", getEnv("DSN", ""), "PostgreSQL DSN for the postgres backend (Env: LOCADORA_DSN)")
	fs.DurationVar(&c.PollInterval, "poll", getEnvDuration("POLL_INTERVAL", defaultPollInterval), "SQLite change poll interval (Env: LOCADORA_POLL_INTERVAL)")
	fs.StringVar(&c.SeedFile, "seed", getEnv("SEED_FILE", ""), "base dataset JSON; empty uses the bundled one (Env: LOCADORA_SEED_FILE)")
	fs.StringVar(&c.ContextID, "context-id", getEnv("CONTEXT_ID", ""), "execution context ID; random when empty (Env: LOCADORA_CONTEXT_ID)")
	fs.StringVar(&c.ListenAddr, "addr", getEnv("LISTEN_ADDR", defaultListenAddr), "HTTP listen address (Env: LOCADORA_LISTEN_ADDR)")
	fs.StringVar(&c.SessionKey, "session-key", getEnv("SESSION_KEY", ""), "session signing key; generated and stored when empty (Env: LOCADORA_SESSION_KEY)")
	fs.DurationVar(&c.SessionTTL, "session-ttl", getEnvDuration("SESSION_TTL", 0), "session lifetime; 0 keeps it until logout (Env: LOCADORA_SESSION_TTL)")
	fs.DurationVar(&c.LimitWindow, "limit-window", getEnvDuration("LIMIT_WINDOW", defaultLimitWindow), "login failure window (Env: LOCADORA_LIMIT_WINDOW)")
	fs.IntVar(&c.LimitMaxFails, "limit-max-fails", getEnvInt("LIMIT_MAX_FAILS", defaultLimitFails), "failures before a lockout (Env: LOCADORA_LIMIT_MAX_FAILS)")
	fs.DurationVar(&c.LimitBlockFor, "limit-block", getEnvDuration("LIMIT_BLOCK", defaultLimitBlock), "lockout duration (Env: LOCADORA_LIMIT_BLOCK)")
	fs.BoolVar(&c.Dev, "dev", getEnvBool("DEV", false), "development logging (Env: LOCADORA_DEV)")
}

// Load parses args into a new Config and validates it.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	c := &Config{}
	c.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := c.Finalize(); err != nil {
		return nil, err
	}
	return c, nil
}

// Finalize validates the settings and fills derived values.
func (c *Config) Finalize() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case BackendSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("config: -db is required for the sqlite backend")
		}
		abs, err := filepath.Abs(c.DBPath)
		if err != nil {
			return fmt.Errorf("config: db path %q: %w", c.DBPath, err)
		}
		if fi, err := os.Stat(abs); err == nil && fi.IsDir() {
			return fmt.Errorf("config: db path %q is a directory", abs)
		}
		c.DBPath = abs
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("config: -dsn is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll interval must be positive")
	}
	if c.LimitMaxFails <= 0 || c.LimitWindow <= 0 || c.LimitBlockFor <= 0 {
		return fmt.Errorf("config: limiter settings must be positive")
	}
	if c.ContextID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("config: context id: %w", err)
		}
		c.ContextID = id.String()
	}
	return nil
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "locadora.db"
	}
	return filepath.Join(dir, "locadora", "locadora.db")
}

// getEnv retrieves LOCADORA_<key> or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(envPrefix + key); exists {
		return value
	}
	return fallback
}

// getEnvBool recognizes "true", "1", "yes" and "false", "0", "no" (case-insensitive).
func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if n, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return n
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return d
	}
	return fallback
}
