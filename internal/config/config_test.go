package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeTestConfig(t, `
[queue]
queued_sync_limit = 64

[download]
cursor_retry_cap = 4

[logging]
level = "debug"
`)

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.QueuedSyncLimit)
	assert.Equal(t, 4, cfg.CursorRetryCap)
	assert.Equal(t, "debug", cfg.LoggingConfig.Level)
	assert.Equal(t, 2, cfg.MaxFailedTicks, "unset keys keep their default")
}

func TestLoad_RejectsUnknownKey(t *testing.T) {
	path := writeTestConfig(t, `
[queue]
queud_sync_limit = 64
`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key")
}

func TestLoad_RejectsInvalidLogLevel(t *testing.T) {
	path := writeTestConfig(t, `
[logging]
level = "verbose"
`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
}

func TestValidate_RejectsNonPositiveLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueuedSyncLimit = 0
	require.Error(t, Validate(cfg))
}
