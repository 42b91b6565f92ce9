// Package config loads analysis settings from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/roach88/causal/internal/checker/lifetime"
	"github.com/roach88/causal/internal/checker/resolution"
	"github.com/roach88/causal/internal/fixpoint"
	"github.com/roach88/causal/internal/interproc"
)

// Defaults for a config file that leaves a setting out.
const (
	DefaultMaxNodeVisits = 10000
	DefaultWidenAfter    = 2
	DefaultTimeout       = 30 * time.Second
	DefaultChecker       = resolution.Name
	DefaultLogLevel      = "info"
)

// Config is the analysis configuration.
type Config struct {
	// Workers bounds concurrent root analyses.
	Workers int `yaml:"workers"`

	// MaxNodeVisits is the per-procedure node-visit budget. 0 disables it.
	MaxNodeVisits int `yaml:"max_node_visits"`

	// Timeout is the per-procedure wall-clock budget. 0 disables it.
	Timeout time.Duration `yaml:"timeout"`

	// WidenAfter is how many times a loop header is revisited before
	// widening kicks in.
	WidenAfter int `yaml:"widen_after"`

	// Checker selects the abstract semantics: "resolution" or "lifetime".
	Checker string `yaml:"checker"`

	// ReportUnresolved makes the resolution checker report every
	// unresolved call.
	ReportUnresolved bool `yaml:"report_unresolved"`

	// AssumeUnknownInvalidates makes the lifetime checker treat arguments of
	// unresolved calls as possibly invalidated.
	AssumeUnknownInvalidates bool `yaml:"assume_unknown_invalidates"`

	Cache Cache `yaml:"cache"`

	// LogLevel is a logrus level name.
	LogLevel string `yaml:"log_level"`
}

// Cache configures the durable summary cache.
type Cache struct {
	// Path is the SQLite database file. Empty keeps summaries in memory.
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Workers:       interproc.DefaultWorkers,
		MaxNodeVisits: DefaultMaxNodeVisits,
		Timeout:       DefaultTimeout,
		WidenAfter:    DefaultWidenAfter,
		Checker:       DefaultChecker,
		LogLevel:      DefaultLogLevel,
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every setting and returns the first problem as a
// configuration error.
func (c *Config) Validate() error {
	switch {
	case c.Workers < 1:
		return interproc.NewConfigError("workers", "must be at least 1, got %d", c.Workers)
	case c.MaxNodeVisits < 0:
		return interproc.NewConfigError("max_node_visits", "must not be negative, got %d", c.MaxNodeVisits)
	case c.Timeout < 0:
		return interproc.NewConfigError("timeout", "must not be negative, got %s", c.Timeout)
	case c.WidenAfter < 0:
		return interproc.NewConfigError("widen_after", "must not be negative, got %d", c.WidenAfter)
	}
	if c.Checker != resolution.Name && c.Checker != lifetime.Name {
		return interproc.NewConfigError("checker", "unknown checker %q (want %q or %q)", c.Checker, resolution.Name, lifetime.Name)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return interproc.NewConfigError("log_level", "%v", err)
	}
	return nil
}

// Level returns the parsed log level. Validate has already rejected bad
// names.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// EngineOptions translates the budgets into fixpoint engine options.
func (c *Config) EngineOptions(logger logrus.FieldLogger) []fixpoint.Option {
	opts := []fixpoint.Option{
		fixpoint.WithMaxNodeVisits(c.MaxNodeVisits),
		fixpoint.WithTimeout(c.Timeout),
		fixpoint.WithWidenAfter(c.WidenAfter),
	}
	if logger != nil {
		opts = append(opts, fixpoint.WithLogger(logger))
	}
	return opts
}
