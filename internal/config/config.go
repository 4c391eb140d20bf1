// Package config loads the TOML configuration for a Syncer's queue depth,
// heartbeat failure limits, cursor-rotation retry cap, and logging: a
// default-then-override shape, with unknown keys rejected rather than
// silently ignored. The package only loads and validates these values;
// nothing in this module passes them to a Syncer.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// QueueConfig tunes Syncer.Sync's admission control.
type QueueConfig struct {
	QueuedSyncLimit int `toml:"queued_sync_limit"`
}

// HeartbeatConfig tunes the lock/heartbeat protocol.
type HeartbeatConfig struct {
	MaxFailedTicks    int `toml:"max_failed_ticks"`
	InFlightTickLimit int `toml:"in_flight_tick_limit"`
}

// DownloadConfig tunes the download pipeline.
type DownloadConfig struct {
	CursorRetryCap int `toml:"cursor_retry_cap"`
}

// LoggingConfig carries the logger's level and output format.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the root of the syncer's TOML configuration file.
type Config struct {
	QueueConfig     `toml:"queue"`
	HeartbeatConfig `toml:"heartbeat"`
	DownloadConfig  `toml:"download"`
	LoggingConfig   `toml:"logging"`
}

// DefaultConfig returns safe, reasonable starting values, used both as the
// pre-decode baseline and as the fallback when no config file is present.
func DefaultConfig() *Config {
	return &Config{
		QueueConfig:     QueueConfig{QueuedSyncLimit: 32},
		HeartbeatConfig: HeartbeatConfig{MaxFailedTicks: 2, InFlightTickLimit: 3},
		DownloadConfig:  DownloadConfig{CursorRetryCap: 16},
		LoggingConfig:   LoggingConfig{Level: "info", Format: "auto"},
	}
}

// Load reads and decodes a TOML config file over the defaults, rejecting
// unknown top-level keys, then validates the result.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	logger.Debug("config file parsed", "path", path,
		"queued_sync_limit", cfg.QueuedSyncLimit, "cursor_retry_cap", cfg.CursorRetryCap)

	return cfg, nil
}

// Validate rejects settings that would make the syncer misbehave rather
// than merely underperform.
func Validate(cfg *Config) error {
	if cfg.QueuedSyncLimit <= 0 {
		return fmt.Errorf("config: queue.queued_sync_limit must be positive, got %d", cfg.QueuedSyncLimit)
	}

	if cfg.MaxFailedTicks <= 0 {
		return fmt.Errorf("config: heartbeat.max_failed_ticks must be positive, got %d", cfg.MaxFailedTicks)
	}

	if cfg.InFlightTickLimit <= 0 {
		return fmt.Errorf("config: heartbeat.in_flight_tick_limit must be positive, got %d", cfg.InFlightTickLimit)
	}

	if cfg.CursorRetryCap <= 0 {
		return fmt.Errorf("config: download.cursor_retry_cap must be positive, got %d", cfg.CursorRetryCap)
	}

	switch cfg.LoggingConfig.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level %q not one of debug/info/warn/error", cfg.LoggingConfig.Level)
	}

	return nil
}
