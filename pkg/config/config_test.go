package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearChoirEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HTTP_PORT", "GIN_MODE", "CHOIR_RUNS_DIR",
		"CHOIR_DB_HOST", "CHOIR_DB_PORT", "CHOIR_DB_USER", "CHOIR_DB_PASSWORD", "CHOIR_DB_NAME", "CHOIR_DB_SSLMODE",
		"CHOIR_SANDBOX_ROOT",
		"CHOIR_SIGNAL_MAX_FINDINGS", "CHOIR_SIGNAL_MAX_LEARNINGS", "CHOIR_SIGNAL_MAX_ESCALATIONS",
		"CHOIR_SIGNAL_MAX_ARTIFACTS", "CHOIR_SIGNAL_MIN_CONFIDENCE",
		"CHOIR_SIGNAL_DUP_WINDOW_SEC", "CHOIR_SIGNAL_ESCALATION_COOLDOWN_SEC",
	} {
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadAppliesDefaultsWithoutEnvOrOverlay(t *testing.T) {
	clearChoirEnv(t)
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "conductor/runs", cfg.RunsDir)
	assert.Equal(t, 2, cfg.SignalPolicy.MaxFindingsPerTurn)
	assert.Equal(t, 0.55, cfg.SignalPolicy.MinConfidence)
	assert.Equal(t, []string{"**"}, cfg.Sandbox.WritableGlobs)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearChoirEnv(t)
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("CHOIR_SIGNAL_MAX_FINDINGS", "10")
	t.Setenv("CHOIR_SIGNAL_MIN_CONFIDENCE", "0.9")
	t.Setenv("CHOIR_SIGNAL_DUP_WINDOW_SEC", "120")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, 10, cfg.SignalPolicy.MaxFindingsPerTurn)
	assert.Equal(t, 0.9, cfg.SignalPolicy.MinConfidence)
	assert.Equal(t, 120*time.Second, cfg.SignalPolicy.DuplicateWindow)
}

func TestLoadClampsOutOfRangeSignalEnv(t *testing.T) {
	clearChoirEnv(t)
	t.Setenv("CHOIR_SIGNAL_MAX_FINDINGS", "9999")
	t.Setenv("CHOIR_SIGNAL_MIN_CONFIDENCE", "5")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.SignalPolicy.MaxFindingsPerTurn)
	assert.Equal(t, 1.0, cfg.SignalPolicy.MinConfidence)
}

func TestLoadMergesYamlSandboxOverlay(t *testing.T) {
	clearChoirEnv(t)
	dir := t.TempDir()
	overlay := "sandbox:\n  root: /var/choir/runs\n  writable_globs:\n    - \"notes/**\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "choir.yaml"), []byte(overlay), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "/var/choir/runs", cfg.Sandbox.Root)
	assert.Equal(t, []string{"notes/**"}, cfg.Sandbox.WritableGlobs)
}
