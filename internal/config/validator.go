package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateServer(&cfg.Server)
	v.validateRemote(&cfg.Remote)
	v.validateStore(&cfg.Store)
	v.validatePoll(&cfg.Poll, &cfg.Remote)
	v.validateEvents(&cfg.Events)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	if !logging.ValidLevel(cfg.Level) {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Port < 1 || cfg.Port > 65535 {
		v.addError("server.port", cfg.Port, "must be between 1 and 65535")
	}
	if cfg.RequestTimeout <= 0 {
		v.addError("server.request_timeout", cfg.RequestTimeout, "must be positive")
	}
	if cfg.ShutdownTimeout < 0 {
		v.addError("server.shutdown_timeout", cfg.ShutdownTimeout, "must not be negative")
	}
}

func (v *Validator) validateRemote(cfg *RemoteConfig) {
	u, err := url.Parse(cfg.BaseURL)
	if cfg.BaseURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.addError("remote.base_url", cfg.BaseURL, "must be an absolute http(s) URL")
	}
	if cfg.StartTimeout <= 0 {
		v.addError("remote.start_timeout", cfg.StartTimeout, "must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		v.addError("remote.request_timeout", cfg.RequestTimeout, "must be positive")
	}
	if cfg.RateLimit < 0 {
		v.addError("remote.rate_limit", cfg.RateLimit, "must not be negative (0 disables pacing)")
	}
	if cfg.RateLimit > 0 && cfg.Burst < 1 {
		v.addError("remote.burst", cfg.Burst, "must be >= 1 when rate_limit is set")
	}
}

func (v *Validator) validateStore(cfg *StoreConfig) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		if cfg.DSN == "" {
			v.addError("store.dsn", cfg.DSN, "database path required")
		} else if cfg.DSN != ":memory:" && !isValidPath(cfg.DSN) {
			v.addError("store.dsn", cfg.DSN, "invalid database path")
		}
	case "postgres":
		if !strings.HasPrefix(cfg.DSN, "postgres://") && !strings.HasPrefix(cfg.DSN, "postgresql://") {
			v.addError("store.dsn", "********", "must be a postgres:// URL")
		}
		if cfg.MaxOpenConns < 1 {
			v.addError("store.max_open_conns", cfg.MaxOpenConns, "must be >= 1")
		}
	case "memory":
	default:
		v.addError("store.driver", cfg.Driver, "must be one of: sqlite, postgres, memory")
	}
}

func (v *Validator) validatePoll(cfg *PollConfig, remote *RemoteConfig) {
	if cfg.Interval <= 0 {
		v.addError("poll.interval", cfg.Interval, "must be positive")
	}
	if cfg.MaxFailures < 1 {
		v.addError("poll.max_failures", cfg.MaxFailures, "must be >= 1")
	}
	if cfg.Concurrency < 1 || cfg.Concurrency > 256 {
		v.addError("poll.concurrency", cfg.Concurrency, "must be between 1 and 256")
	}
	if cfg.SettleWindow < 0 {
		v.addError("poll.settle_window", cfg.SettleWindow, "must not be negative")
	}
	if cfg.QueuedTimeout <= remote.StartTimeout {
		v.addError("poll.queued_timeout", cfg.QueuedTimeout, "must exceed remote.start_timeout")
	}
}

func (v *Validator) validateEvents(cfg *EventsConfig) {
	if cfg.BufferSize < 1 {
		v.addError("events.buffer_size", cfg.BufferSize, "must be >= 1")
	}
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
