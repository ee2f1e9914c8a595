package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ent0n29/voicelog/internal/playback"
)

// Config contains all runtime settings for the voice logging client.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	ServerURL        string
	HandshakeTimeout time.Duration
	KeepAlivePeriod  time.Duration
	WriteTimeout     time.Duration
	ReadLimitBytes   int
	SendControl      bool

	CaptureDevice     string
	CaptureCommand    string
	CaptureFile       string
	CaptureSampleRate int
	CaptureFrameMS    int

	PlaybackMode        string
	PlaybackCommand     string
	PlaybackDir         string
	PlaybackQueueSize   int
	PlaybackOverflow    string
	PlaybackItemTimeout time.Duration

	NotifyMinDuration time.Duration
	NotifyPerWord     time.Duration

	DatabaseURL      string
	RedisURL         string
	RedisPassword    string
	HistoryRedactPII bool
}

// Load reads an optional .env file and environment variables, then applies
// defaults and validation.
func Load() (Config, error) {
	envFile := envOrDefault("APP_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("APP_ENV_FILE %s: %w", envFile, err)
	}

	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", "127.0.0.1:8090"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voicelog"),
		ServerURL:        envOrDefault("LOG_SERVER_URL", "ws://localhost:8000/connect"),
		CaptureDevice:    strings.ToLower(envOrDefault("CAPTURE_DEVICE", "auto")),
		// Raw mono PCM16LE on stdout, matching CAPTURE_SAMPLE_RATE.
		CaptureCommand:   envOrDefault("CAPTURE_COMMAND", "arecord -q -f S16_LE -r 16000 -c 1 -t raw"),
		CaptureFile:      stringsTrimSpace("CAPTURE_FILE"),
		PlaybackMode:     strings.ToLower(envOrDefault("PLAYBACK_MODE", "auto")),
		PlaybackCommand:  envOrDefault("PLAYBACK_COMMAND", "ffplay -nodisp -autoexit -loglevel quiet -"),
		PlaybackDir:      stringsTrimSpace("PLAYBACK_DIR"),
		PlaybackOverflow: strings.ToLower(envOrDefault("PLAYBACK_OVERFLOW", "block")),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		RedisURL:         stringsTrimSpace("REDIS_URL"),
		RedisPassword:    stringsTrimSpace("REDIS_PASSWORD"),

		ShutdownTimeout:     10 * time.Second,
		HandshakeTimeout:    10 * time.Second,
		KeepAlivePeriod:     30 * time.Second,
		WriteTimeout:        10 * time.Second,
		ReadLimitBytes:      16 << 20,
		SendControl:         true,
		CaptureSampleRate:   16000,
		CaptureFrameMS:      40,
		PlaybackQueueSize:   32,
		PlaybackItemTimeout: 2 * time.Minute,
		NotifyMinDuration:   2 * time.Second,
		NotifyPerWord:       400 * time.Millisecond,
		HistoryRedactPII:    true,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.HandshakeTimeout, err = durationFromEnv("LOG_HANDSHAKE_TIMEOUT", cfg.HandshakeTimeout); err != nil {
		return Config{}, err
	}
	if cfg.KeepAlivePeriod, err = durationFromEnv("LOG_KEEPALIVE_PERIOD", cfg.KeepAlivePeriod); err != nil {
		return Config{}, err
	}
	if cfg.WriteTimeout, err = durationFromEnv("LOG_WRITE_TIMEOUT", cfg.WriteTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ReadLimitBytes, err = intFromEnv("LOG_READ_LIMIT_BYTES", cfg.ReadLimitBytes); err != nil {
		return Config{}, err
	}
	if cfg.SendControl, err = boolFromEnv("LOG_SEND_CONTROL", cfg.SendControl); err != nil {
		return Config{}, err
	}
	if cfg.CaptureSampleRate, err = intFromEnv("CAPTURE_SAMPLE_RATE", cfg.CaptureSampleRate); err != nil {
		return Config{}, err
	}
	if cfg.CaptureFrameMS, err = intFromEnv("CAPTURE_FRAME_MS", cfg.CaptureFrameMS); err != nil {
		return Config{}, err
	}
	if cfg.PlaybackQueueSize, err = intFromEnv("PLAYBACK_QUEUE_SIZE", cfg.PlaybackQueueSize); err != nil {
		return Config{}, err
	}
	if cfg.PlaybackItemTimeout, err = durationFromEnv("PLAYBACK_ITEM_TIMEOUT", cfg.PlaybackItemTimeout); err != nil {
		return Config{}, err
	}
	if cfg.NotifyMinDuration, err = durationFromEnv("NOTIFY_MIN_DURATION", cfg.NotifyMinDuration); err != nil {
		return Config{}, err
	}
	if cfg.NotifyPerWord, err = durationFromEnv("NOTIFY_PER_WORD", cfg.NotifyPerWord); err != nil {
		return Config{}, err
	}
	if cfg.HistoryRedactPII, err = boolFromEnv("HISTORY_REDACT_PII", cfg.HistoryRedactPII); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("LOG_SERVER_URL parse error: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("LOG_SERVER_URL must use ws:// or wss://, got %q", c.ServerURL)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("LOG_HANDSHAKE_TIMEOUT must be positive")
	}
	if c.KeepAlivePeriod < 0 {
		return fmt.Errorf("LOG_KEEPALIVE_PERIOD must be >= 0")
	}
	if c.ReadLimitBytes <= 0 {
		return fmt.Errorf("LOG_READ_LIMIT_BYTES must be positive")
	}
	switch c.CaptureDevice {
	case "auto", "mic", "command", "file", "none":
	default:
		return fmt.Errorf("invalid CAPTURE_DEVICE: %q (expected auto|mic|command|file|none)", c.CaptureDevice)
	}
	if c.CaptureDevice == "file" && c.CaptureFile == "" {
		return fmt.Errorf("CAPTURE_DEVICE=file requires CAPTURE_FILE")
	}
	if c.CaptureSampleRate <= 0 {
		return fmt.Errorf("CAPTURE_SAMPLE_RATE must be positive")
	}
	if c.CaptureFrameMS < 10 || c.CaptureFrameMS > 2000 {
		return fmt.Errorf("CAPTURE_FRAME_MS must be in [10,2000]")
	}
	switch c.PlaybackMode {
	case "auto", "command", "dir", "discard":
	default:
		return fmt.Errorf("invalid PLAYBACK_MODE: %q (expected auto|command|dir|discard)", c.PlaybackMode)
	}
	if c.PlaybackMode == "dir" && c.PlaybackDir == "" {
		return fmt.Errorf("PLAYBACK_MODE=dir requires PLAYBACK_DIR")
	}
	if c.PlaybackQueueSize <= 0 {
		return fmt.Errorf("PLAYBACK_QUEUE_SIZE must be positive")
	}
	if _, err := playback.ParseOverflowPolicy(c.PlaybackOverflow); err != nil {
		return fmt.Errorf("invalid PLAYBACK_OVERFLOW: %w", err)
	}
	if c.NotifyMinDuration <= 0 || c.NotifyPerWord <= 0 {
		return fmt.Errorf("NOTIFY_MIN_DURATION and NOTIFY_PER_WORD must be positive")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
