package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envVars = []string{
	PathEnv,
	"MUSICCARD_BACKEND_URL", "MUSICCARD_BACKEND_API_KEY", "MUSICCARD_BACKEND_TIMEOUT",
	"MUSICCARD_BACKEND_RPS", "MUSICCARD_AUDIO_PROXY", "MUSICCARD_LYRICS_TIMEOUT",
	"MUSICCARD_FALLBACK_LYRICS", "MUSICCARD_PORT", "MUSICCARD_SHARE_BASE_URL",
	"MUSICCARD_TICK_INTERVAL", "MUSICCARD_FRAME_RATE", "MUSICCARD_DUCK_LEVEL",
	"MUSICCARD_DUCK_TIME", "MUSICCARD_RESTORE_LEVEL", "MUSICCARD_RESTORE_TIME",
	"MUSICCARD_FFT_SIZE", "MUSICCARD_SMOOTHING", "MUSICCARD_AUTOPLAY", "MUSICCARD_FFMPEG",
	"MUSICCARD_NARRATION_MODE", "MUSICCARD_VOICE", "MUSICCARD_STORE", "MUSICCARD_STORE_PATH",
	"MUSICCARD_LOG_LEVEL", "MUSICCARD_LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envVars {
		// t.Setenv restores the original value after the test.
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.BackendURL != "https://music-card-backend.onrender.com" {
		t.Errorf("BackendURL = %q, want default", cfg.BackendURL)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if time.Duration(cfg.TickInterval) != 50*time.Millisecond {
		t.Errorf("TickInterval = %v, want 50ms", time.Duration(cfg.TickInterval))
	}
	if cfg.DuckLevel != 0.15 {
		t.Errorf("DuckLevel = %f, want 0.15", cfg.DuckLevel)
	}
	if time.Duration(cfg.DuckTime) != 500*time.Millisecond {
		t.Errorf("DuckTime = %v, want 500ms", time.Duration(cfg.DuckTime))
	}
	if cfg.RestoreLevel != 1.0 {
		t.Errorf("RestoreLevel = %f, want 1.0", cfg.RestoreLevel)
	}
	if time.Duration(cfg.RestoreTime) != time.Second {
		t.Errorf("RestoreTime = %v, want 1s", time.Duration(cfg.RestoreTime))
	}
	if cfg.FFTSize != 64 {
		t.Errorf("FFTSize = %d, want 64", cfg.FFTSize)
	}
	if cfg.FrameInterval() != time.Second/60 {
		t.Errorf("FrameInterval = %v, want 1/60s", cfg.FrameInterval())
	}
	if cfg.NarrationMode != "auto" {
		t.Errorf("NarrationMode = %q, want 'auto'", cfg.NarrationMode)
	}
	if cfg.StoreKind != "remote" {
		t.Errorf("StoreKind = %q, want 'remote'", cfg.StoreKind)
	}
	if cfg.AutoplayAllowed {
		t.Error("AutoplayAllowed should default to false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("MUSICCARD_BACKEND_URL", "http://localhost:9000")
	t.Setenv("MUSICCARD_BACKEND_API_KEY", "test-key-123")
	t.Setenv("MUSICCARD_PORT", "3000")
	t.Setenv("MUSICCARD_DUCK_LEVEL", "0.3")
	t.Setenv("MUSICCARD_DUCK_TIME", "750ms")
	t.Setenv("MUSICCARD_RESTORE_TIME", "2000")
	t.Setenv("MUSICCARD_AUTOPLAY", "true")
	t.Setenv("MUSICCARD_NARRATION_MODE", "server")
	t.Setenv("MUSICCARD_STORE", "sqlite")

	cfg := Load()

	if cfg.BackendURL != "http://localhost:9000" {
		t.Errorf("BackendURL = %q, want env override", cfg.BackendURL)
	}
	if cfg.BackendAPIKey != "test-key-123" {
		t.Errorf("BackendAPIKey = %q, want env override", cfg.BackendAPIKey)
	}
	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.DuckLevel != 0.3 {
		t.Errorf("DuckLevel = %f, want 0.3", cfg.DuckLevel)
	}
	if time.Duration(cfg.DuckTime) != 750*time.Millisecond {
		t.Errorf("DuckTime = %v, want 750ms", time.Duration(cfg.DuckTime))
	}
	if time.Duration(cfg.RestoreTime) != 2*time.Second {
		t.Errorf("RestoreTime = %v, want 2s from bare milliseconds", time.Duration(cfg.RestoreTime))
	}
	if !cfg.AutoplayAllowed {
		t.Error("AutoplayAllowed = false, want env override")
	}
	if cfg.NarrationMode != "server" {
		t.Errorf("NarrationMode = %q, want 'server'", cfg.NarrationMode)
	}
	if cfg.StoreKind != "sqlite" {
		t.Errorf("StoreKind = %q, want 'sqlite'", cfg.StoreKind)
	}
}

func TestEnvIntInvalidFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("MUSICCARD_PORT", "not-a-number")
	t.Setenv("MUSICCARD_DUCK_TIME", "soon")
	cfg := Load()
	if cfg.Port != 8080 {
		t.Errorf("Invalid int env should fallback to default: got %d, want 8080", cfg.Port)
	}
	if time.Duration(cfg.DuckTime) != 500*time.Millisecond {
		t.Errorf("Invalid duration env should fallback: got %v", time.Duration(cfg.DuckTime))
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "musiccard.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileOverlay(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
port = 9090
duck_level = 0.2
restore_time = "1500ms"
store = "badger"
store_path = "/var/lib/musiccard"
`)
	t.Setenv("MUSICCARD_PORT", "7070")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Port != 7070 {
		t.Errorf("Port = %d, env should win over file", cfg.Port)
	}
	if cfg.DuckLevel != 0.2 {
		t.Errorf("DuckLevel = %f, want 0.2 from file", cfg.DuckLevel)
	}
	if time.Duration(cfg.RestoreTime) != 1500*time.Millisecond {
		t.Errorf("RestoreTime = %v, want 1.5s from file", time.Duration(cfg.RestoreTime))
	}
	if cfg.StoreKind != "badger" || cfg.StorePath != "/var/lib/musiccard" {
		t.Errorf("store = %q %q", cfg.StoreKind, cfg.StorePath)
	}
	if cfg.FFTSize != 64 {
		t.Errorf("FFTSize = %d, unset keys keep defaults", cfg.FFTSize)
	}
}

func TestLoadFileFromEnvPath(t *testing.T) {
	clearEnv(t)
	t.Setenv(PathEnv, writeConfig(t, `voice = "filipp"`))
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Voice != "filipp" {
		t.Errorf("Voice = %q, want 'filipp'", cfg.Voice)
	}

	t.Setenv(PathEnv, filepath.Join(t.TempDir(), "absent.toml"))
	if _, err := LoadFile(""); err != nil {
		t.Errorf("missing implicit file should be ignored: %v", err)
	}
}

func TestLoadFileErrors(t *testing.T) {
	clearEnv(t)
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("missing explicit file: expected error")
	}
	if _, err := LoadFile(writeConfig(t, `colour = "red"`)); err == nil {
		t.Error("unknown key: expected error")
	}
	if _, err := LoadFile(writeConfig(t, `duck_time = "soon"`)); err == nil {
		t.Error("bad duration: expected error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Config)
		want string
	}{
		{"port", func(c *Config) { c.Port = 70000 }, "port"},
		{"fft not power of two", func(c *Config) { c.FFTSize = 100 }, "fft_size"},
		{"fft too small", func(c *Config) { c.FFTSize = 16 }, "fft_size"},
		{"duck level", func(c *Config) { c.DuckLevel = 1.5 }, "duck_level"},
		{"frame rate", func(c *Config) { c.FrameRate = 0 }, "frame_rate"},
		{"tick", func(c *Config) { c.TickInterval = 0 }, "tick_interval"},
		{"mode", func(c *Config) { c.NarrationMode = "karaoke" }, "narration_mode"},
		{"store", func(c *Config) { c.StoreKind = "redis" }, "store"},
		{"store path", func(c *Config) { c.StoreKind, c.StorePath = "sqlite", "" }, "store_path"},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.edit(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: Validate() = %v, want error mentioning %q", tt.name, err, tt.want)
		}
	}
}
