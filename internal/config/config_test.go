package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv(EnvPort, "")
	t.Setenv(EnvHistoryBackend, "")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.HistoryBackend() != HistoryBackendSQLite {
		t.Errorf("HistoryBackend = %q, want %q", cfg.HistoryBackend(), HistoryBackendSQLite)
	}
	if cfg.EngineTimeout() != DefaultEngineTimeout {
		t.Errorf("EngineTimeout = %s, want %s", cfg.EngineTimeout(), DefaultEngineTimeout)
	}
	if cfg.SharedMusic() {
		t.Error("SharedMusic should default to false")
	}
	if !cfg.WatchArtifacts() {
		t.Error("WatchArtifacts should default to true")
	}
	if cfg.MirrorEnabled() {
		t.Error("MirrorEnabled should be false without a bucket")
	}
}

func TestNew_DerivedPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvConfigFile, "")
	t.Setenv(EnvDataDir, dir)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DBPath", cfg.DBPath(), filepath.Join(dir, DBFilename)},
		{"PreviewsDir", cfg.PreviewsDir(), filepath.Join(dir, "previews")},
		{"UploadsDir", cfg.UploadsDir(), filepath.Join(dir, "uploads")},
		{"AudioDir", cfg.AudioDir(), filepath.Join(dir, "audio")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestNew_EnvOverrides(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv(EnvPort, "9100")
	t.Setenv(EnvSharedMusic, "true")
	t.Setenv(EnvEngineTimeout, "90s")
	t.Setenv(EnvMirrorBucket, "cutline-previews")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9100 {
		t.Errorf("Port = %d, want 9100", cfg.Port())
	}
	if !cfg.SharedMusic() {
		t.Error("SharedMusic = false, want true")
	}
	if cfg.EngineTimeout() != 90*time.Second {
		t.Errorf("EngineTimeout = %s, want 90s", cfg.EngineTimeout())
	}
	if !cfg.MirrorEnabled() || cfg.MirrorBucket() != "cutline-previews" {
		t.Errorf("MirrorBucket = %q, want cutline-previews", cfg.MirrorBucket())
	}
}

func TestNew_ZeroEngineTimeout(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv(EnvEngineTimeout, "0s")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if cfg.EngineTimeout() != 0 {
		t.Errorf("EngineTimeout = %s, want 0 (no deadline)", cfg.EngineTimeout())
	}
}

func TestNew_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port not a number", EnvPort, "abc"},
		{"port out of range", EnvPort, "70000"},
		{"bad timeout", EnvEngineTimeout, "soon"},
		{"negative timeout", EnvEngineTimeout, "-5s"},
		{"bad bool", EnvSharedMusic, "maybe"},
		{"unknown backend", EnvHistoryBackend, "mongo"},
		{"postgres without dsn", EnvHistoryBackend, "postgres"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvConfigFile, "")
			t.Setenv(EnvPostgresDSN, "")
			t.Setenv(tt.key, tt.value)

			if _, err := New(); err == nil {
				t.Errorf("New() with %s=%q should fail", tt.key, tt.value)
			}
		})
	}
}

func TestNew_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cutline.yaml")
	content := `
port: 9300
log_level: debug
history:
  backend: postgres
  postgres_dsn: postgres://localhost/cutline
media:
  timeout: 2m
  shared_music: true
  watch_artifacts: false
mirror:
  bucket: previews-bucket
  prefix: edits
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvPort, "")
	t.Setenv(EnvHistoryBackend, "")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9300 {
		t.Errorf("Port = %d, want 9300", cfg.Port())
	}
	if cfg.LogLevel() != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel())
	}
	if cfg.HistoryBackend() != HistoryBackendPostgres {
		t.Errorf("HistoryBackend = %q, want postgres", cfg.HistoryBackend())
	}
	if cfg.EngineTimeout() != 2*time.Minute {
		t.Errorf("EngineTimeout = %s, want 2m", cfg.EngineTimeout())
	}
	if !cfg.SharedMusic() {
		t.Error("SharedMusic = false, want true")
	}
	if cfg.WatchArtifacts() {
		t.Error("WatchArtifacts = true, want false")
	}
	if cfg.MirrorPrefix() != "edits" {
		t.Errorf("MirrorPrefix = %q, want edits", cfg.MirrorPrefix())
	}
}

func TestNew_EnvBeatsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cutline.yaml")
	if err := os.WriteFile(path, []byte("port: 9300\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvPort, "9400")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9400 {
		t.Errorf("Port = %d, want 9400", cfg.Port())
	}
}

func TestNew_MissingConfigFile(t *testing.T) {
	t.Setenv(EnvConfigFile, filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := New(); err == nil {
		t.Error("New() should fail when the config file does not exist")
	}
}
