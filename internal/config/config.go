package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the warm transfer service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	TransportURL       string
	TransportAPIKey    string
	TransportAPISecret string

	TokenDefaultTTL time.Duration

	SummarizerMode    string
	SummarizerHTTPURL string
	SummarizerAPIKey  string
	SummarizerModel   string
	SummarizerTimeout time.Duration

	RoomDirectoryMode string

	HoldAudioFile string

	SessionSweepInterval time.Duration
	SessionIdleTimeout   time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "handoff"),
		AllowAnyOrigin:     false,
		TransportURL:       envOrDefault("TRANSPORT_URL", "http://localhost:7880"),
		TransportAPIKey:    envTrimmed("TRANSPORT_API_KEY"),
		TransportAPISecret: envTrimmed("TRANSPORT_API_SECRET"),
		SummarizerMode:     envOrDefault("SUMMARIZER_MODE", "auto"),
		SummarizerHTTPURL:  envOrDefault("SUMMARIZER_HTTP_URL", "https://api.openai.com/v1/chat/completions"),
		SummarizerAPIKey:   envTrimmed("SUMMARIZER_API_KEY"),
		SummarizerModel:    envOrDefault("SUMMARIZER_MODEL", "gpt-4o-mini"),
		RoomDirectoryMode:  envOrDefault("ROOM_DIRECTORY_MODE", "auto"),
		HoldAudioFile:      envOrDefault("HOLD_AUDIO_FILE", "hold_music.mp3"),
		DatabaseURL:        envTrimmed("DATABASE_URL"),

		ShutdownTimeout:      15 * time.Second,
		TokenDefaultTTL:      time.Hour,
		SummarizerTimeout:    10 * time.Second,
		SessionSweepInterval: 30 * time.Second,
		SessionIdleTimeout:   30 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenDefaultTTL, err = durationFromEnv("TOKEN_DEFAULT_TTL", cfg.TokenDefaultTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SummarizerTimeout, err = durationFromEnv("SUMMARIZER_TIMEOUT", cfg.SummarizerTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionSweepInterval, err = durationFromEnv("APP_SESSION_SWEEP_INTERVAL", cfg.SessionSweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = durationFromEnv("APP_SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.TokenDefaultTTL <= 0 {
		return Config{}, fmt.Errorf("TOKEN_DEFAULT_TTL must be positive")
	}
	if cfg.SummarizerTimeout <= 0 {
		return Config{}, fmt.Errorf("SUMMARIZER_TIMEOUT must be positive")
	}
	if cfg.SessionIdleTimeout < time.Minute {
		return Config{}, fmt.Errorf("APP_SESSION_IDLE_TIMEOUT must be at least 1m")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.SummarizerMode)) {
	case "auto", "http", "mock":
	default:
		return Config{}, fmt.Errorf("invalid SUMMARIZER_MODE: %q (expected auto|http|mock)", cfg.SummarizerMode)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.RoomDirectoryMode)) {
	case "auto", "http", "mock":
	default:
		return Config{}, fmt.Errorf("invalid ROOM_DIRECTORY_MODE: %q (expected auto|http|mock)", cfg.RoomDirectoryMode)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
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
