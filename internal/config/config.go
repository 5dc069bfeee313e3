package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Remote  RemoteConfig  `mapstructure:"remote" yaml:"remote"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Poll    PollConfig    `mapstructure:"poll" yaml:"poll"`
	Webhook WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
	Events  EventsConfig  `mapstructure:"events" yaml:"events"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// RemoteConfig configures the OpenHands client.
type RemoteConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	Token          string        `mapstructure:"token" yaml:"token"`
	StartTimeout   time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst          int           `mapstructure:"burst" yaml:"burst"`
}

// StoreConfig selects and configures the run store backend.
type StoreConfig struct {
	Driver       string `mapstructure:"driver" yaml:"driver"`
	DSN          string `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
}

// PollConfig configures the reconciliation sweep.
type PollConfig struct {
	Interval      time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxFailures   int           `mapstructure:"max_failures" yaml:"max_failures"`
	Concurrency   int           `mapstructure:"concurrency" yaml:"concurrency"`
	SettleWindow  time.Duration `mapstructure:"settle_window" yaml:"settle_window"`
	QueuedTimeout time.Duration `mapstructure:"queued_timeout" yaml:"queued_timeout"`
}

// WebhookConfig holds provider shared secrets.
type WebhookConfig struct {
	GitHubSecret  string `mapstructure:"github_secret" yaml:"github_secret"`
	GitLabToken   string `mapstructure:"gitlab_token" yaml:"gitlab_token"`
	AllowUnsigned bool   `mapstructure:"allow_unsigned" yaml:"allow_unsigned"`
}

// EventsConfig configures the in-process event bus.
type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Remote.Token = mask(c.Remote.Token)
	c.Webhook.GitHubSecret = mask(c.Webhook.GitHubSecret)
	c.Webhook.GitLabToken = mask(c.Webhook.GitLabToken)
	if c.Store.Driver == "postgres" {
		c.Store.DSN = mask(c.Store.DSN)
	}
	c.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	return c
}
