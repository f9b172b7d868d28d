// Package config holds the runtime configuration of a modhost framework and
// loads it from a file plus MODHOST_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/modhost/lifecycle"
)

var (
	ErrInvalidMaxWorkers   = errors.New("max workers must be positive")
	ErrInvalidDuration     = errors.New("duration must be positive")
	ErrInvalidAbortPolicy  = errors.New("invalid abort policy")
	ErrInvalidSchedule     = errors.New("invalid refresh schedule")
	ErrInvalidLogLevel     = errors.New("invalid log level")
	ErrInvalidHistoryLimit = errors.New("event history limit cannot be negative")
)

// PoolConfig configures the lifecycle worker pool.
type PoolConfig struct {
	MaxWorkers   int           `yaml:"maxWorkers" toml:"maxWorkers" json:"maxWorkers" env:"MAX_WORKERS"`
	KeepAlive    time.Duration `yaml:"keepAlive" toml:"keepAlive" json:"keepAlive" env:"KEEP_ALIVE"`
	PollInterval time.Duration `yaml:"pollInterval" toml:"pollInterval" json:"pollInterval" env:"POLL_INTERVAL"`
	AbortPolicy  string        `yaml:"abortPolicy" toml:"abortPolicy" json:"abortPolicy" env:"ABORT_POLICY"`
}

// Config is the runtime configuration of a framework.
type Config struct {
	Pool PoolConfig `yaml:"pool" toml:"pool" json:"pool"`

	// DeployDir is watched for module archives when set
	DeployDir string `yaml:"deployDir" toml:"deployDir" json:"deployDir" env:"DEPLOY_DIR"`
	// ConfigDir is watched for component configuration files when set
	ConfigDir string `yaml:"configDir" toml:"configDir" json:"configDir" env:"CONFIG_DIR"`
	// RefreshSchedule is a cron spec for purging removal-pending revisions
	RefreshSchedule string `yaml:"refreshSchedule" toml:"refreshSchedule" json:"refreshSchedule" env:"REFRESH_SCHEDULE"`

	StopTimeout       time.Duration `yaml:"stopTimeout" toml:"stopTimeout" json:"stopTimeout" env:"STOP_TIMEOUT"`
	EventHistoryLimit int           `yaml:"eventHistoryLimit" toml:"eventHistoryLimit" json:"eventHistoryLimit" env:"EVENT_HISTORY_LIMIT"`
	LogLevel          string        `yaml:"logLevel" toml:"logLevel" json:"logLevel" env:"LOG_LEVEL"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			MaxWorkers:   4,
			KeepAlive:    time.Minute,
			PollInterval: 50 * time.Millisecond,
			AbortPolicy:  string(lifecycle.AbortLeave),
		},
		StopTimeout:       30 * time.Second,
		EventHistoryLimit: 1000,
		LogLevel:          "info",
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Pool.MaxWorkers <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxWorkers, c.Pool.MaxWorkers)
	}
	for name, d := range map[string]time.Duration{
		"pool.keepAlive":    c.Pool.KeepAlive,
		"pool.pollInterval": c.Pool.PollInterval,
		"stopTimeout":       c.StopTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s=%s", ErrInvalidDuration, name, d)
		}
	}
	if _, err := c.AbortPolicy(); err != nil {
		return err
	}
	if c.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(c.RefreshSchedule); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, c.RefreshSchedule, err)
		}
	}
	if c.EventHistoryLimit < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidHistoryLimit, c.EventHistoryLimit)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return nil
}

// AbortPolicy parses Pool.AbortPolicy.
func (c *Config) AbortPolicy() (lifecycle.AbortPolicy, error) {
	p, err := lifecycle.ParseAbortPolicy(c.Pool.AbortPolicy)
	if err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidAbortPolicy, err)
	}
	return p, nil
}

// PoolOptions converts the pool settings to lifecycle pool options.
func (c *Config) PoolOptions() []lifecycle.PoolOption {
	policy, _ := c.AbortPolicy()
	return []lifecycle.PoolOption{
		lifecycle.WithMaxWorkers(c.Pool.MaxWorkers),
		lifecycle.WithKeepAlive(c.Pool.KeepAlive),
		lifecycle.WithPollInterval(c.Pool.PollInterval),
		lifecycle.WithAbortPolicy(policy),
	}
}
