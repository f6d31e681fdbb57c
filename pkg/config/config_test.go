package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	rawRoot := t.TempDir()

	cfg, err := Load(rawRoot)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.RawRoot != rawRoot {
		t.Errorf("RawRoot %q, want %q", cfg.RawRoot, rawRoot)
	}
	if cfg.ChunkSizeMB != 4 {
		t.Errorf("ChunkSizeMB %d, want 4", cfg.ChunkSizeMB)
	}
	if !cfg.FailFast {
		t.Error("FailFast should default to true")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel %q, want info", cfg.LogLevel)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	rawRoot := t.TempDir()
	content := `{"chunkSizeMB": 8, "failFast": false, "logLevel": "debug"}`
	if err := os.WriteFile(filepath.Join(rawRoot, ConfigFileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(rawRoot)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ChunkSizeMB != 8 {
		t.Errorf("ChunkSizeMB %d, want 8", cfg.ChunkSizeMB)
	}
	if cfg.FailFast {
		t.Error("FailFast should be overridden to false")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel %q, want debug", cfg.LogLevel)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	rawRoot := t.TempDir()
	content := `{"chunkSizeMB": 8}`
	if err := os.WriteFile(filepath.Join(rawRoot, ConfigFileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LABMIRROR_CHUNK_SIZE_MB", "16")
	t.Setenv("LABMIRROR_LOG_LEVEL", "warn")

	cfg, err := Load(rawRoot)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ChunkSizeMB != 16 {
		t.Errorf("ChunkSizeMB %d, want 16 from environment", cfg.ChunkSizeMB)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel %q, want warn from environment", cfg.LogLevel)
	}
}

func TestLoad_CorruptFile(t *testing.T) {
	rawRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(rawRoot, ConfigFileName), []byte("{oops"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(rawRoot); err == nil {
		t.Fatal("expected error for corrupt config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"Defaults", func(c *Config) {}, false},
		{"Negative Chunk Size", func(c *Config) { c.ChunkSizeMB = -1 }, true},
		{"Negative Settle", func(c *Config) { c.WatchSettleSeconds = -1 }, true},
		{"Bad Archive Format", func(c *Config) { c.ArchiveFormat = "rar" }, true},
		{"Warning Alias", func(c *Config) { c.LogLevel = "warning" }, false},
		{"Bad Log Level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"Empty Raw Root", func(c *Config) { c.RawRoot = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			cfg.RawRoot = "/data/raw"
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault(t *testing.T) {
	rawRoot := t.TempDir()

	path, err := WriteDefault(rawRoot)
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(rawRoot, ConfigFileName) {
		t.Errorf("unexpected path %q", path)
	}

	// The generated file must load cleanly.
	if _, err := Load(rawRoot); err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}

	// A second write must not clobber the file.
	if _, err := WriteDefault(rawRoot); err == nil {
		t.Fatal("expected error when config file already exists")
	}
}

func TestChunkSizeBytes(t *testing.T) {
	cfg := NewDefault()
	if got := cfg.ChunkSizeBytes(); got != 4*1024*1024 {
		t.Errorf("ChunkSizeBytes() = %d", got)
	}
	cfg.ChunkSizeMB = 0
	if got := cfg.ChunkSizeBytes(); got != 0 {
		t.Errorf("ChunkSizeBytes() = %d, want 0 for default", got)
	}
}
