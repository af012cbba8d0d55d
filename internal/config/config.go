package config

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config holds configuration for the pollchat client and the chatsim emulator.
type Config struct {
	LogLevel  string       `mapstructure:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat string       `mapstructure:"log_format" yaml:"log_format" validate:"omitempty,oneof=console json"`
	Client    ClientConfig `mapstructure:"client" yaml:"client"`
	Server    ServerConfig `mapstructure:"server" yaml:"server"`
}

// ClientConfig configures a session against the service.
type ClientConfig struct {
	BaseURL          string        `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`
	Username         string        `mapstructure:"username" yaml:"username"`
	Password         string        `mapstructure:"password" yaml:"password"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" validate:"gt=0"`
	PollTimeout      time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout" validate:"gt=0"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout" validate:"gt=0"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	InitialBackoff   time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff" validate:"gt=0"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff" yaml:"max_backoff" validate:"gtefield=InitialBackoff"`
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold" validate:"min=1"`
	DedupeWindow     int           `mapstructure:"dedupe_window" yaml:"dedupe_window" validate:"min=0"`
}

// ServerConfig configures the chatsim emulator.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DBPath            string        `mapstructure:"db_path" yaml:"db_path" validate:"required"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret" validate:"required,min=16"`
	TokenTTL          time.Duration `mapstructure:"token_ttl" yaml:"token_ttl" validate:"gt=0"`
	MaxPollTimeout    time.Duration `mapstructure:"max_poll_timeout" yaml:"max_poll_timeout" validate:"gt=0"`
	// CaptchaAfter is the number of consecutive failed logins after which a
	// username must pass a captcha.
	CaptchaAfter int `mapstructure:"captcha_after" yaml:"captcha_after" validate:"min=1"`
	// LoginRateLimit caps login and register calls per client IP per minute; 0 disables it.
	LoginRateLimit int `mapstructure:"login_rate_limit" yaml:"login_rate_limit" validate:"min=0"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "console",
		Client: ClientConfig{
			BaseURL:          "http://localhost:8080",
			RequestTimeout:   15 * time.Second,
			PollTimeout:      30 * time.Second,
			FetchTimeout:     30 * time.Second,
			ShutdownTimeout:  5 * time.Second,
			InitialBackoff:   time.Second,
			MaxBackoff:       30 * time.Second,
			FailureThreshold: 3,
			DedupeWindow:     4096,
		},
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			DBPath:            "chatsim.db",
			JWTSecret:         "change-me-chatsim-secret",
			TokenTTL:          24 * time.Hour,
			MaxPollTimeout:    60 * time.Second,
			CaptchaAfter:      3,
			LoginRateLimit:    60,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	c.Client.updateFrom(other.Client)
	c.Server.updateFrom(other.Server)
}

func (c *ClientConfig) updateFrom(other ClientConfig) {
	if other.BaseURL != "" {
		c.BaseURL = other.BaseURL
	}
	if other.Username != "" {
		c.Username = other.Username
	}
	if other.Password != "" {
		c.Password = other.Password
	}
	if other.RequestTimeout != 0 {
		c.RequestTimeout = other.RequestTimeout
	}
	if other.PollTimeout != 0 {
		c.PollTimeout = other.PollTimeout
	}
	if other.FetchTimeout != 0 {
		c.FetchTimeout = other.FetchTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.InitialBackoff != 0 {
		c.InitialBackoff = other.InitialBackoff
	}
	if other.MaxBackoff != 0 {
		c.MaxBackoff = other.MaxBackoff
	}
	if other.FailureThreshold != 0 {
		c.FailureThreshold = other.FailureThreshold
	}
	if other.DedupeWindow != 0 {
		c.DedupeWindow = other.DedupeWindow
	}
}

func (c *ServerConfig) updateFrom(other ServerConfig) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.DBPath != "" {
		c.DBPath = other.DBPath
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.TokenTTL != 0 {
		c.TokenTTL = other.TokenTTL
	}
	if other.MaxPollTimeout != 0 {
		c.MaxPollTimeout = other.MaxPollTimeout
	}
	if other.CaptchaAfter != 0 {
		c.CaptchaAfter = other.CaptchaAfter
	}
	if other.LoginRateLimit != 0 {
		c.LoginRateLimit = other.LoginRateLimit
	}
}

// ValidateClient checks the fields a pollchat session needs.
func (c Config) ValidateClient() error {
	return validate.Struct(c.Client)
}

// ValidateServer checks the fields the emulator needs.
func (c Config) ValidateServer() error {
	return validate.Struct(c.Server)
}
