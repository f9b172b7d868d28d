package config

import (
	"fmt"
	"os"

	"github.com/golobby/config/v3"

	"github.com/GoCodeAlone/modhost/feeders"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MODHOST"

// Source describes one place configuration was read from.
type Source struct {
	Type     string // "file" or "env"
	Location string
}

// Loader feeds a Config from an optional file and the environment.
// Later sources override earlier ones.
type Loader struct {
	path    string
	section string
	feeders []config.Feeder
	sources []Source
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithSection reads the runtime settings from the dotted table section of
// the file, so they can share a file with an application's configuration.
func WithSection(section string) LoaderOption {
	return func(l *Loader) {
		l.section = section
	}
}

// NewLoader creates a loader for the file at path. An empty path reads only
// the environment.
func NewLoader(path string, opts ...LoaderOption) (*Loader, error) {
	l := &Loader{path: path}
	for _, opt := range opts {
		opt(l)
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		f, err := feeders.ForFile(path, l.section)
		if err != nil {
			return nil, err
		}
		location := path
		if l.section != "" {
			location += "#" + l.section
		}
		l.feeders = append(l.feeders, f)
		l.sources = append(l.sources, Source{Type: "file", Location: location})
	}
	l.feeders = append(l.feeders, feeders.NewAffixedEnvFeeder(EnvPrefix, ""))
	l.sources = append(l.sources, Source{Type: "env", Location: EnvPrefix + "_*"})
	return l, nil
}

// Sources lists the configured sources in feeding order.
func (l *Loader) Sources() []Source {
	return append([]Source(nil), l.sources...)
}

// Load feeds cfg from every source and validates the result.
func (l *Loader) Load(cfg *Config) error {
	c := config.New()
	for _, f := range l.feeders {
		c.AddFeeder(f)
	}
	c.AddStruct(cfg)
	if err := c.Feed(); err != nil {
		return fmt.Errorf("feed config: %w", err)
	}
	return cfg.Validate()
}

// Load returns Default overridden by the file at path and the environment.
func Load(path string, opts ...LoaderOption) (*Config, error) {
	l, err := NewLoader(path, opts...)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := l.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
