// Package config loads and validates the tool configuration. Settings
// come from a JSON file in the raw-data root, with LABMIRROR_* environment
// variables overriding individual fields.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"

	"github.com/neuroforge/labmirror/pkg/archive"
	"github.com/neuroforge/labmirror/pkg/plog"
	"github.com/neuroforge/labmirror/pkg/util"
)

// ConfigFileName is the name of the configuration file, looked up in the
// raw-data root.
const ConfigFileName = "labmirror.config.json"

// Config holds all user-tunable settings.
type Config struct {
	// RawRoot is the local directory holding one subdirectory per project.
	RawRoot string `json:"rawRoot" env:"LABMIRROR_RAW_ROOT"`

	// ChunkSizeMB is the copy chunk size in mebibytes. 0 uses the default.
	ChunkSizeMB int `json:"chunkSizeMB" env:"LABMIRROR_CHUNK_SIZE_MB"`

	// FailFast aborts a mirror run on the first copy error. When false,
	// errors are collected and the run continues past failing files.
	FailFast bool `json:"failFast" env:"LABMIRROR_FAIL_FAST"`

	// LogLevel is one of debug, notice, info, warn, error.
	LogLevel string `json:"logLevel" env:"LABMIRROR_LOG_LEVEL"`

	// ArchiveFormat selects the compression used for project exports.
	ArchiveFormat string `json:"archiveFormat" env:"LABMIRROR_ARCHIVE_FORMAT"`

	// WatchSettleSeconds is how long the source must stay quiet after a
	// change before a watched run starts.
	WatchSettleSeconds int `json:"watchSettleSeconds" env:"LABMIRROR_WATCH_SETTLE_SECONDS"`

	// FreeSpaceCheck skips runs that would not fit on the server share.
	FreeSpaceCheck bool `json:"freeSpaceCheck" env:"LABMIRROR_FREE_SPACE_CHECK"`

	// MountCheck refuses server roots that resolve to the system disk,
	// which usually means the share is not mounted.
	MountCheck bool `json:"mountCheck" env:"LABMIRROR_MOUNT_CHECK"`
}

// NewDefault returns the configuration used when no config file exists.
func NewDefault() *Config {
	return &Config{
		ChunkSizeMB:        4,
		FailFast:           true,
		LogLevel:           "info",
		ArchiveFormat:      string(archive.TarGz),
		WatchSettleSeconds: 5,
		FreeSpaceCheck:     true,
		MountCheck:         false,
	}
}

// Load reads the config file from rawRoot (falling back to defaults when
// it does not exist) and applies environment overrides on top.
func Load(rawRoot string) (*Config, error) {
	cfg := NewDefault()
	cfg.RawRoot = rawRoot

	path := filepath.Join(rawRoot, ConfigFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("could not parse config file %s: %w", path, err)
		}
		plog.Debug("Loaded config file", "path", path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("could not read config file %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("could not apply environment overrides: %w", err)
	}

	if cfg.RawRoot == "" {
		cfg.RawRoot = rawRoot
	}
	cfg.RawRoot, err = util.ExpandPath(cfg.RawRoot)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field values without touching the filesystem.
func (c *Config) Validate() error {
	if c.RawRoot == "" {
		return fmt.Errorf("rawRoot must be set")
	}
	if c.ChunkSizeMB < 0 {
		return fmt.Errorf("chunkSizeMB must not be negative, got %d", c.ChunkSizeMB)
	}
	if c.WatchSettleSeconds < 0 {
		return fmt.Errorf("watchSettleSeconds must not be negative, got %d", c.WatchSettleSeconds)
	}
	if _, err := archive.ParseFormat(c.ArchiveFormat); err != nil {
		return err
	}
	// LevelFromString accepts anything (unknown degrades to info), so a
	// typo in logLevel should be caught here instead.
	switch c.LogLevel {
	case "debug", "notice", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logLevel: %q. Must be 'debug', 'notice', 'info', 'warn', 'warning', or 'error'", c.LogLevel)
	}
	return nil
}

// ChunkSizeBytes converts ChunkSizeMB for the copier. Zero means the
// copier's default.
func (c *Config) ChunkSizeBytes() int {
	return c.ChunkSizeMB * 1024 * 1024
}

// WriteDefault writes a default config file into rawRoot for the user to
// edit. It refuses to overwrite an existing file.
func WriteDefault(rawRoot string) (string, error) {
	path := filepath.Join(rawRoot, ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config file already exists: %s", path)
	}

	cfg := NewDefault()
	cfg.RawRoot = rawRoot
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("could not marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, util.UserWritableFilePerms); err != nil {
		return "", fmt.Errorf("could not write config file %s: %w", path, err)
	}
	return path, nil
}

// LogSummary logs the effective configuration at debug level.
func (c *Config) LogSummary() {
	plog.Debug("Effective configuration",
		"rawRoot", c.RawRoot,
		"chunkSizeMB", c.ChunkSizeMB,
		"failFast", c.FailFast,
		"logLevel", c.LogLevel,
		"archiveFormat", c.ArchiveFormat,
		"watchSettleSeconds", c.WatchSettleSeconds,
		"freeSpaceCheck", c.FreeSpaceCheck,
		"mountCheck", c.MountCheck,
	)
}
