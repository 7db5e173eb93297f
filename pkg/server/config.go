// Package server provides the Dunijet Pizza HTTP/WebSocket server.
package server

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// Server settings
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`

	// Voice webhook (the automation endpoint utterances are forwarded to)
	WebhookURL     string        `json:"webhook_url" yaml:"webhook_url"`
	WebhookTimeout time.Duration `json:"webhook_timeout" yaml:"webhook_timeout"`

	// Storage paths
	AudioDir  string `json:"audio_dir" yaml:"audio_dir"`
	PublicDir string `json:"public_dir" yaml:"public_dir"`
	MenuPath  string `json:"menu_path" yaml:"menu_path"`

	// Rate limiting
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`

	// Observability
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`

	// CORS
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`

	// Request limits
	MaxRequestBodyBytes int64 `json:"max_request_body_bytes" yaml:"max_request_body_bytes"`

	// Timeouts
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`

	// Logger
	Logger *slog.Logger `json:"-" yaml:"-"`
}

// RateLimitConfig configures per-IP request limits.
type RateLimitConfig struct {
	// Enabled toggles rate limiting on or off.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// General API limit: requests per IP within APIWindow.
	APIRequests int           `json:"api_requests" yaml:"api_requests"`
	APIWindow   time.Duration `json:"api_window" yaml:"api_window"`

	// Stricter limit for the voice exchange endpoint.
	VoiceRequests int           `json:"voice_requests" yaml:"voice_requests"`
	VoiceWindow   time.Duration `json:"voice_window" yaml:"voice_window"`
}

// ObservabilityConfig configures metrics and logging.
type ObservabilityConfig struct {
	MetricsEnabled bool   `json:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path" yaml:"metrics_path"`

	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"` // "json" or "text"
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host: "0.0.0.0",
		Port: 8080,

		WebhookTimeout: 30 * time.Second,

		AudioDir:  "data/audio",
		PublicDir: "public",
		MenuPath:  "data/menu.json",

		RateLimit: RateLimitConfig{
			Enabled:       true,
			APIRequests:   100,
			APIWindow:     15 * time.Minute,
			VoiceRequests: 10,
			VoiceWindow:   time.Minute,
		},

		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			MetricsPath:    "/metrics",
			LogLevel:       "info",
			LogFormat:      "json",
		},

		AllowedOrigins:      []string{"*"},
		MaxRequestBodyBytes: 50 << 20,

		ReadTimeout:     60 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 30 * time.Second,

		Logger: slog.Default(),
	}
}

// LoadFromEnv overrides config fields from environment variables.
func (c *Config) LoadFromEnv() {
	c.Host = envOr("HOST", c.Host)
	c.Port = envIntOr("PORT", c.Port)
	c.WebhookURL = envOr("VOICE_WEBHOOK_URL", c.WebhookURL)
	c.WebhookTimeout = envDurationOr("VOICE_WEBHOOK_TIMEOUT", c.WebhookTimeout)
	c.AudioDir = envOr("AUDIO_DIR", c.AudioDir)
	c.PublicDir = envOr("PUBLIC_DIR", c.PublicDir)
	c.MenuPath = envOr("MENU_PATH", c.MenuPath)
	c.Observability.LogLevel = envOr("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOr("LOG_FORMAT", c.Observability.LogFormat)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// ConfigOption is a functional option for Config.
type ConfigOption func(*Config)

// WithHost sets the server host.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.Host = host
	}
}

// WithPort sets the server port.
func WithPort(port int) ConfigOption {
	return func(c *Config) {
		c.Port = port
	}
}

// WithWebhookURL sets the voice automation webhook endpoint.
func WithWebhookURL(url string) ConfigOption {
	return func(c *Config) {
		c.WebhookURL = url
	}
}

// WithWebhookTimeout sets the webhook request timeout.
func WithWebhookTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.WebhookTimeout = d
	}
}

// WithAudioDir sets the directory persisted audio clips are stored in.
func WithAudioDir(dir string) ConfigOption {
	return func(c *Config) {
		c.AudioDir = dir
	}
}

// WithPublicDir sets the static site directory.
func WithPublicDir(dir string) ConfigOption {
	return func(c *Config) {
		c.PublicDir = dir
	}
}

// WithMenuPath sets the path of the menu definition file.
func WithMenuPath(path string) ConfigOption {
	return func(c *Config) {
		c.MenuPath = path
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithAllowedOrigins sets the CORS allowed origins.
func WithAllowedOrigins(origins []string) ConfigOption {
	return func(c *Config) {
		c.AllowedOrigins = origins
	}
}

// WithRateLimit replaces the rate limit configuration.
func WithRateLimit(rl RateLimitConfig) ConfigOption {
	return func(c *Config) {
		c.RateLimit = rl
	}
}
