package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults apply without a file", func(t *testing.T) {
		cfg, err := Load("")

		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Retry.MaxAttempts)
		assert.Equal(t, "1s", cfg.Retry.InitialDelay)
		assert.Equal(t, 2.0, cfg.Retry.Multiplier)
		assert.Equal(t, "5m", cfg.Retry.MaxDelay)
		assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
		assert.Equal(t, "30s", cfg.Breaker.Cooldown)
		assert.Equal(t, "30m", cfg.Cache.TTL)
		assert.Equal(t, 1000, cfg.Cache.MaxEntries)
		assert.Equal(t, "events.{module}.dlq", cfg.Dlq.TopicPattern)
		assert.False(t, cfg.Reprocess.ManualIntervention)
	})

	t.Run("yaml file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "eventgate.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
module: manufacturing
retry:
  max_attempts: 5
breaker:
  cooldown: 45s
dlq:
  topic_pattern: "biotrace.{module}.dlq"
  high_priority_modules:
    - distribution
`), 0o644))

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, "manufacturing", cfg.Module)
		assert.Equal(t, 5, cfg.Retry.MaxAttempts)
		assert.Equal(t, "45s", cfg.Breaker.Cooldown)
		assert.Equal(t, "biotrace.{module}.dlq", cfg.Dlq.TopicPattern)
		assert.Equal(t, []string{"distribution"}, cfg.Dlq.HighPriorityModules)
		// Untouched keys keep their defaults.
		assert.Equal(t, "1s", cfg.Retry.InitialDelay)
	})

	t.Run("environment overrides file and defaults", func(t *testing.T) {
		t.Setenv("EVENTGATE_MODULE", "labeling")
		t.Setenv("EVENTGATE_RETRY__MAX_ATTEMPTS", "4")
		t.Setenv("EVENTGATE_REPROCESS__MANUAL_INTERVENTION", "true")

		cfg, err := Load("")

		require.NoError(t, err)
		assert.Equal(t, "labeling", cfg.Module)
		assert.Equal(t, 4, cfg.Retry.MaxAttempts)
		assert.True(t, cfg.Reprocess.ManualIntervention)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad durations are rejected", func(t *testing.T) {
		t.Setenv("EVENTGATE_BREAKER__COOLDOWN", "soon")

		_, err := Load("")
		assert.ErrorContains(t, err, "breaker.cooldown")
	})

	t.Run("duration helper parses validated values", func(t *testing.T) {
		assert.Equal(t, 30*time.Second, Duration("30s"))
	})
}
