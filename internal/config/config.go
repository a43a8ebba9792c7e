package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// PathEnv names the environment variable holding the config file path.
const PathEnv = "MUSICCARD_CONFIG"

// Duration is a time.Duration written as "500ms" or "1s" in config files.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config holds all runtime configuration. Defaults are overlaid by an
// optional TOML file, which is overlaid by environment variables.
type Config struct {
	// Card backend
	BackendURL     string   `toml:"backend_url"`
	BackendAPIKey  string   `toml:"backend_api_key"`
	BackendTimeout Duration `toml:"backend_timeout"`
	BackendRPS     float64  `toml:"backend_rps"` // 0 = unlimited
	AudioProxy     bool     `toml:"audio_proxy"` // rewrite remote tracks through the backend proxy
	LyricsTimeout  Duration `toml:"lyrics_timeout"`
	FallbackLyrics string   `toml:"fallback_lyrics"`

	// Server
	Port         int    `toml:"port"`
	ShareBaseURL string `toml:"share_base_url"`

	// Playback
	TickInterval    Duration `toml:"tick_interval"` // volume envelope step
	FrameRate       int      `toml:"frame_rate"`    // visualizer frames per second
	DuckLevel       float64  `toml:"duck_level"`
	DuckTime        Duration `toml:"duck_time"`
	RestoreLevel    float64  `toml:"restore_level"`
	RestoreTime     Duration `toml:"restore_time"`
	FFTSize         int      `toml:"fft_size"`
	Smoothing       float64  `toml:"smoothing"`
	AutoplayAllowed bool     `toml:"autoplay_allowed"`
	FFmpegPath      string   `toml:"ffmpeg_path"`

	// Narration
	NarrationMode string `toml:"narration_mode"` // client, server, auto
	Voice         string `toml:"voice"`

	// Card storage
	StoreKind string `toml:"store"` // remote, sqlite, badger, memory
	StorePath string `toml:"store_path"`

	// Logging
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BackendURL:     "https://music-card-backend.onrender.com",
		BackendTimeout: Duration(60 * time.Second),
		BackendRPS:     2,
		AudioProxy:     false,
		LyricsTimeout:  Duration(90 * time.Second),
		FallbackLyrics: "К сожалению, не удалось связаться с ИИ. Пожалуйста, подождите немного, пока сервер запустится.",

		Port:         8080,
		ShareBaseURL: "https://music-card-frontend.vercel.app/",

		TickInterval:    Duration(50 * time.Millisecond),
		FrameRate:       60,
		DuckLevel:       0.15,
		DuckTime:        Duration(500 * time.Millisecond),
		RestoreLevel:    1.0,
		RestoreTime:     Duration(time.Second),
		FFTSize:         64,
		Smoothing:       0.8,
		AutoplayAllowed: false,
		FFmpegPath:      "ffmpeg",

		NarrationMode: "auto",
		Voice:         "alena",

		StoreKind: "remote",
		StorePath: "musiccard.db",

		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads defaults, then the TOML file at path (or $MUSICCARD_CONFIG
// when path is empty), then the environment, and validates the result. A
// missing file is only an error when path was given explicitly.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(PathEnv)
	}
	if path != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer f.Close()
			if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(&cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return Config{}, fmt.Errorf("open config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.BackendURL = envStr("MUSICCARD_BACKEND_URL", c.BackendURL)
	c.BackendAPIKey = envStr("MUSICCARD_BACKEND_API_KEY", c.BackendAPIKey)
	c.BackendTimeout = envDuration("MUSICCARD_BACKEND_TIMEOUT", c.BackendTimeout)
	c.BackendRPS = envFloat("MUSICCARD_BACKEND_RPS", c.BackendRPS)
	c.AudioProxy = envBool("MUSICCARD_AUDIO_PROXY", c.AudioProxy)
	c.LyricsTimeout = envDuration("MUSICCARD_LYRICS_TIMEOUT", c.LyricsTimeout)
	c.FallbackLyrics = envStr("MUSICCARD_FALLBACK_LYRICS", c.FallbackLyrics)

	c.Port = envInt("MUSICCARD_PORT", c.Port)
	c.ShareBaseURL = envStr("MUSICCARD_SHARE_BASE_URL", c.ShareBaseURL)

	c.TickInterval = envDuration("MUSICCARD_TICK_INTERVAL", c.TickInterval)
	c.FrameRate = envInt("MUSICCARD_FRAME_RATE", c.FrameRate)
	c.DuckLevel = envFloat("MUSICCARD_DUCK_LEVEL", c.DuckLevel)
	c.DuckTime = envDuration("MUSICCARD_DUCK_TIME", c.DuckTime)
	c.RestoreLevel = envFloat("MUSICCARD_RESTORE_LEVEL", c.RestoreLevel)
	c.RestoreTime = envDuration("MUSICCARD_RESTORE_TIME", c.RestoreTime)
	c.FFTSize = envInt("MUSICCARD_FFT_SIZE", c.FFTSize)
	c.Smoothing = envFloat("MUSICCARD_SMOOTHING", c.Smoothing)
	c.AutoplayAllowed = envBool("MUSICCARD_AUTOPLAY", c.AutoplayAllowed)
	c.FFmpegPath = envStr("MUSICCARD_FFMPEG", c.FFmpegPath)

	c.NarrationMode = envStr("MUSICCARD_NARRATION_MODE", c.NarrationMode)
	c.Voice = envStr("MUSICCARD_VOICE", c.Voice)

	c.StoreKind = envStr("MUSICCARD_STORE", c.StoreKind)
	c.StorePath = envStr("MUSICCARD_STORE_PATH", c.StorePath)

	c.LogLevel = envStr("MUSICCARD_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envStr("MUSICCARD_LOG_FORMAT", c.LogFormat)
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("tick_interval must be positive"))
	}
	if c.FrameRate <= 0 || c.FrameRate > 240 {
		errs = append(errs, fmt.Errorf("frame_rate %d out of range 1-240", c.FrameRate))
	}
	for name, v := range map[string]float64{"duck_level": c.DuckLevel, "restore_level": c.RestoreLevel, "smoothing": c.Smoothing} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s %v out of range 0-1", name, v))
		}
	}
	if c.DuckTime < 0 || c.RestoreTime < 0 {
		errs = append(errs, errors.New("duck_time and restore_time must not be negative"))
	}
	if c.FFTSize < 32 || c.FFTSize > 32768 || c.FFTSize&(c.FFTSize-1) != 0 {
		errs = append(errs, fmt.Errorf("fft_size %d must be a power of two in 32-32768", c.FFTSize))
	}
	switch strings.ToLower(c.NarrationMode) {
	case "", "auto", "client", "server":
	default:
		errs = append(errs, fmt.Errorf("narration_mode %q must be auto, client or server", c.NarrationMode))
	}
	switch strings.ToLower(c.StoreKind) {
	case "remote", "memory":
	case "sqlite", "badger":
		if c.StorePath == "" {
			errs = append(errs, fmt.Errorf("store %s needs store_path", c.StoreKind))
		}
	default:
		errs = append(errs, fmt.Errorf("store %q must be remote, sqlite, badger or memory", c.StoreKind))
	}
	if c.BackendRPS < 0 {
		errs = append(errs, errors.New("backend_rps must not be negative"))
	}
	return errors.Join(errs...)
}

// FrameInterval is the visualizer frame period.
func (c Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.FrameRate)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go durations ("750ms") or bare milliseconds.
func envDuration(key string, fallback Duration) Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return Duration(d)
	}
	if n, err := strconv.Atoi(v); err == nil {
		return Duration(time.Duration(n) * time.Millisecond)
	}
	return fallback
}
