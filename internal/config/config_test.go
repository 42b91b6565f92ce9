package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causal/internal/interproc"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, interproc.DefaultWorkers, cfg.Workers)
	assert.Equal(t, "resolution", cfg.Checker)
	assert.Equal(t, logrus.InfoLevel, cfg.Level())
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
workers: 8
timeout: 5s
checker: lifetime
assume_unknown_invalidates: true
cache:
  path: summaries.db
log_level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, "lifetime", cfg.Checker)
	assert.True(t, cfg.AssumeUnknownInvalidates)
	assert.Equal(t, "summaries.db", cfg.Cache.Path)
	assert.Equal(t, logrus.DebugLevel, cfg.Level())

	assert.Equal(t, DefaultMaxNodeVisits, cfg.MaxNodeVisits)
	assert.Equal(t, DefaultWidenAfter, cfg.WidenAfter)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("wokers: 2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wokers")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		setting string
	}{
		{"no workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"negative visits", func(c *Config) { c.MaxNodeVisits = -1 }, "max_node_visits"},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }, "timeout"},
		{"negative widen", func(c *Config) { c.WidenAfter = -1 }, "widen_after"},
		{"unknown checker", func(c *Config) { c.Checker = "taint" }, "checker"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, interproc.IsConfigError(err))

			var ierr *interproc.Error
			require.ErrorAs(t, err, &ierr)
			assert.Equal(t, tt.setting, ierr.Details["setting"])
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "causal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("widen_after: 0\nmax_node_visits: 0\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.WidenAfter)
	assert.Zero(t, cfg.MaxNodeVisits)
	assert.Len(t, cfg.EngineOptions(nil), 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
