package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modhost/internal/testutil"
	"github.com/GoCodeAlone/modhost/lifecycle"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	p, err := cfg.AbortPolicy()
	require.NoError(t, err)
	assert.Equal(t, lifecycle.AbortLeave, p)
	assert.Len(t, cfg.PoolOptions(), 4)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"workers", func(c *Config) { c.Pool.MaxWorkers = 0 }, ErrInvalidMaxWorkers},
		{"keep alive", func(c *Config) { c.Pool.KeepAlive = 0 }, ErrInvalidDuration},
		{"stop timeout", func(c *Config) { c.StopTimeout = -time.Second }, ErrInvalidDuration},
		{"policy", func(c *Config) { c.Pool.AbortPolicy = "explode" }, ErrInvalidAbortPolicy},
		{"schedule", func(c *Config) { c.RefreshSchedule = "every tuesday" }, ErrInvalidSchedule},
		{"history", func(c *Config) { c.EventHistoryLimit = -1 }, ErrInvalidHistoryLimit},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, ErrInvalidLogLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}

	cfg := Default()
	cfg.RefreshSchedule = "*/5 * * * *"
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileThenEnv(t *testing.T) {
	testutil.Isolate(t, EnvPrefix+"_")
	path := filepath.Join(t.TempDir(), "modhost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pool:
  maxWorkers: 8
  abortPolicy: terminate
deployDir: /srv/modules
logLevel: debug
`), 0o600))
	t.Setenv("MODHOST_MAX_WORKERS", "2")
	t.Setenv("MODHOST_STOP_TIMEOUT", "5s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Pool.MaxWorkers, "env overrides file")
	assert.Equal(t, "terminate", cfg.Pool.AbortPolicy)
	assert.Equal(t, "/srv/modules", cfg.DeployDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.StopTimeout)
	assert.Equal(t, time.Minute, cfg.Pool.KeepAlive, "defaults survive")
}

func TestLoadSection(t *testing.T) {
	testutil.Isolate(t, EnvPrefix+"_")
	path := filepath.Join(t.TempDir(), "app.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 8080

[runtime.modhost]
deployDir = "/srv/modules"
`), 0o600))

	cfg, err := Load(path, WithSection("runtime.modhost"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/modules", cfg.DeployDir)

	l, err := NewLoader(path, WithSection("runtime.modhost"))
	require.NoError(t, err)
	assert.Equal(t, Source{Type: "file", Location: path + "#runtime.modhost"}, l.Sources()[0])
}

func TestLoadEnvOnly(t *testing.T) {
	testutil.Isolate(t, EnvPrefix+"_")
	t.Setenv("MODHOST_ABORT_POLICY", "deprioritize")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "deprioritize", cfg.Pool.AbortPolicy)

	l, err := NewLoader("")
	require.NoError(t, err)
	assert.Equal(t, []Source{{Type: "env", Location: "MODHOST_*"}}, l.Sources())
}

func TestLoadErrors(t *testing.T) {
	testutil.Isolate(t, EnvPrefix+"_")
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	t.Setenv("MODHOST_LOG_LEVEL", "loud")
	_, err = Load("")
	assert.ErrorIs(t, err, ErrInvalidLogLevel)
}
