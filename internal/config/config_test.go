package config

import (
	"flag"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LOCADORA_DB_PATH", filepath.Join(t.TempDir(), "x.db"))

	cfg, err := Load(newFlagSet(), []string{"-backend", "sqlite"})
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.True(t, filepath.IsAbs(cfg.DBPath))
	assert.Equal(t, defaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, defaultPollInterval, cfg.PollInterval)
	assert.Equal(t, defaultLimitFails, cfg.LimitMaxFails)
	assert.Zero(t, cfg.SessionTTL)
	_, err = uuid.FromString(cfg.ContextID)
	assert.NoError(t, err, "context id should be a generated UUID")
}

func TestLoad_EnvThenFlags(t *testing.T) {
	t.Setenv("LOCADORA_BACKEND", "memory")
	t.Setenv("LOCADORA_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("LOCADORA_LIMIT_MAX_FAILS", "9")
	t.Setenv("LOCADORA_SESSION_TTL", "2h")
	t.Setenv("LOCADORA_DEV", "yes")
	t.Setenv("LOCADORA_POLL_INTERVAL", "not-a-duration")

	cfg, err := Load(newFlagSet(), []string{"-addr", "127.0.0.1:9100", "-context-id", "tab-1"})
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, "127.0.0.1:9100", cfg.ListenAddr, "flag beats env")
	assert.Equal(t, 9, cfg.LimitMaxFails)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.True(t, cfg.Dev)
	assert.Equal(t, defaultPollInterval, cfg.PollInterval, "bad env duration falls back")
	assert.Equal(t, "tab-1", cfg.ContextID)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string][]string{
		"unknown backend":      {"-backend", "redis"},
		"postgres without dsn": {"-backend", "postgres", "-dsn", ""},
		"db is a directory":    {"-backend", "sqlite", "-db", dir},
		"bad limiter":          {"-backend", "memory", "-limit-max-fails", "0"},
		"bad poll":             {"-backend", "memory", "-poll", "0s"},
		"unknown flag":         {"-nope"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(newFlagSet(), args)
			require.Error(t, err)
		})
	}
}
