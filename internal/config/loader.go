package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. RUNNER_REMOTE_BASE_URL.
const EnvPrefix = "RUNNER"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: EnvPrefix,
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: EnvPrefix,
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (RUNNER_*)
// 3. Project config (.runner/config.yaml)
// 4. User config (~/.config/runner/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")

		// First found wins
		l.v.AddConfigPath(ProjectConfigDir)
		if dir, err := UserConfigDir(); err == nil {
			l.v.AddConfigPath(dir)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Watch reloads the config file on change and hands the new configuration to
// onChange. Invalid reloads are reported through onError and otherwise
// ignored. It is a no-op when no config file was read.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) bool {
	if l.v.ConfigFileUsed() == "" {
		return false
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err == nil {
			err = NewValidator().Validate(cfg)
		}
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reloading %s: %w", e.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
	return true
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("server.host", "127.0.0.1")
	l.v.SetDefault("server.port", 8080)
	l.v.SetDefault("server.cors_origins", []string{"*"})
	l.v.SetDefault("server.request_timeout", "60s")
	l.v.SetDefault("server.shutdown_timeout", "10s")

	l.v.SetDefault("remote.base_url", "http://localhost:3000")
	l.v.SetDefault("remote.token", "")
	l.v.SetDefault("remote.start_timeout", "30s")
	l.v.SetDefault("remote.request_timeout", "15s")
	l.v.SetDefault("remote.rate_limit", 10.0)
	l.v.SetDefault("remote.burst", 5)

	l.v.SetDefault("store.driver", "sqlite")
	l.v.SetDefault("store.dsn", filepath.Join(ProjectConfigDir, "runner.db"))
	l.v.SetDefault("store.max_open_conns", 10)

	l.v.SetDefault("poll.interval", "5s")
	l.v.SetDefault("poll.max_failures", 5)
	l.v.SetDefault("poll.concurrency", 8)
	l.v.SetDefault("poll.settle_window", "10s")
	l.v.SetDefault("poll.queued_timeout", "2m")

	l.v.SetDefault("webhook.github_secret", "")
	l.v.SetDefault("webhook.gitlab_token", "")
	l.v.SetDefault("webhook.allow_unsigned", false)

	l.v.SetDefault("events.buffer_size", 100)
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// ProjectConfigDir holds the project-local config file and default database.
const ProjectConfigDir = ".runner"

// ProjectConfigPath is the config file `runner init` writes by default.
func ProjectConfigPath() string {
	return filepath.Join(ProjectConfigDir, "config.yaml")
}

// UserConfigDir returns ~/.config/runner.
func UserConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "runner"), nil
}
