package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points HOME at an empty directory so a developer's own
// ~/.config/runner/config.yaml does not leak into tests.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

func TestLoader_Defaults(t *testing.T) {
	isolate(t)
	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "auto" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "auto")
	}
	if cfg.Server.Addr() != "127.0.0.1:8080" {
		t.Errorf("Server.Addr() = %q, want %q", cfg.Server.Addr(), "127.0.0.1:8080")
	}
	if cfg.Remote.StartTimeout != 30*time.Second {
		t.Errorf("Remote.StartTimeout = %v, want 30s", cfg.Remote.StartTimeout)
	}
	if cfg.Poll.Interval != 5*time.Second {
		t.Errorf("Poll.Interval = %v, want 5s", cfg.Poll.Interval)
	}
	if cfg.Poll.MaxFailures != 5 {
		t.Errorf("Poll.MaxFailures = %d, want 5", cfg.Poll.MaxFailures)
	}
	if cfg.Poll.QueuedTimeout != 2*time.Minute {
		t.Errorf("Poll.QueuedTimeout = %v, want 2m", cfg.Poll.QueuedTimeout)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.DSN != filepath.Join(".runner", "runner.db") {
		t.Errorf("Store = %+v, want sqlite at .runner/runner.db", cfg.Store)
	}
	if cfg.Webhook.AllowUnsigned {
		t.Error("Webhook.AllowUnsigned = true, want false")
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoader_EnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("RUNNER_LOG_LEVEL", "debug")
	t.Setenv("RUNNER_REMOTE_BASE_URL", "https://openhands.internal:3000")
	t.Setenv("RUNNER_POLL_MAX_FAILURES", "9")
	t.Setenv("RUNNER_POLL_SETTLE_WINDOW", "45s")
	t.Setenv("RUNNER_WEBHOOK_GITHUB_SECRET", "s3cret")

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Remote.BaseURL != "https://openhands.internal:3000" {
		t.Errorf("Remote.BaseURL = %q", cfg.Remote.BaseURL)
	}
	if cfg.Poll.MaxFailures != 9 {
		t.Errorf("Poll.MaxFailures = %d, want 9", cfg.Poll.MaxFailures)
	}
	if cfg.Poll.SettleWindow != 45*time.Second {
		t.Errorf("Poll.SettleWindow = %v, want 45s", cfg.Poll.SettleWindow)
	}
	if cfg.Webhook.GitHubSecret != "s3cret" {
		t.Errorf("Webhook.GitHubSecret = %q, want %q", cfg.Webhook.GitHubSecret, "s3cret")
	}
}

func TestLoader_ConfigFileOverride(t *testing.T) {
	isolate(t)
	configPath := filepath.Join(t.TempDir(), "runner.yaml")
	content := `
log:
  level: warn
  format: json
remote:
  base_url: http://agent:3000
  rate_limit: 2.5
store:
  driver: memory
poll:
  interval: 250ms
  concurrency: 2
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	loader := NewLoader().WithConfigFile(configPath)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "warn" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want warn/json", cfg.Log)
	}
	if cfg.Remote.BaseURL != "http://agent:3000" {
		t.Errorf("Remote.BaseURL = %q", cfg.Remote.BaseURL)
	}
	if cfg.Remote.RateLimit != 2.5 {
		t.Errorf("Remote.RateLimit = %v, want 2.5", cfg.Remote.RateLimit)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Poll.Interval != 250*time.Millisecond {
		t.Errorf("Poll.Interval = %v, want 250ms", cfg.Poll.Interval)
	}
	// Unset keys keep defaults
	if cfg.Poll.MaxFailures != 5 {
		t.Errorf("Poll.MaxFailures = %d, want default 5", cfg.Poll.MaxFailures)
	}
	if loader.ConfigFile() != configPath {
		t.Errorf("ConfigFile() = %q, want %q", loader.ConfigFile(), configPath)
	}
}

func TestLoader_Precedence(t *testing.T) {
	isolate(t)
	configPath := filepath.Join(t.TempDir(), "runner.yaml")
	if err := os.WriteFile(configPath, []byte("log:\n  level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RUNNER_LOG_LEVEL", "error")

	cfg, err := NewLoader().WithConfigFile(configPath).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want env value %q", cfg.Log.Level, "error")
	}
}

func TestLoader_InvalidConfigFile(t *testing.T) {
	isolate(t)
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(configPath, []byte("log: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewLoader().WithConfigFile(configPath).Load(); err == nil {
		t.Fatal("Load() expected error for malformed YAML")
	}
}

func TestLoader_WithEnvPrefix(t *testing.T) {
	isolate(t)
	t.Setenv("ALT_LOG_LEVEL", "debug")

	cfg, err := NewLoader().WithEnvPrefix("ALT").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
}

func TestLoader_WatchWithoutFile(t *testing.T) {
	isolate(t)
	loader := NewLoader()
	if _, err := loader.Load(); err != nil {
		t.Fatal(err)
	}
	if loader.Watch(func(*Config) {}, nil) {
		t.Error("Watch() = true without a config file, want false")
	}
}

func TestLoader_WatchReloadsLevel(t *testing.T) {
	isolate(t)
	configPath := filepath.Join(t.TempDir(), "runner.yaml")
	if err := os.WriteFile(configPath, []byte("log:\n  level: info\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader().WithConfigFile(configPath)
	if _, err := loader.Load(); err != nil {
		t.Fatal(err)
	}

	changed := make(chan string, 16)
	onChange := func(c *Config) {
		select {
		case changed <- c.Log.Level:
		default:
		}
	}
	if !loader.Watch(onChange, nil) {
		t.Fatal("Watch() = false, want true")
	}

	if err := os.WriteFile(configPath, []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case level := <-changed:
			if level == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for config reload")
		}
	}
}

func TestDefaultConfigYAML_Loads(t *testing.T) {
	isolate(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(configPath, false); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	cfg, err := NewLoader().WithConfigFile(configPath).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("default YAML should validate, got %v", err)
	}

	if err := WriteDefault(configPath, false); err == nil {
		t.Error("WriteDefault() should refuse to overwrite without force")
	}
	if err := WriteDefault(configPath, true); err != nil {
		t.Errorf("WriteDefault(force) error = %v", err)
	}
}

func TestConfig_YAMLRedacted(t *testing.T) {
	isolate(t)
	t.Setenv("RUNNER_REMOTE_TOKEN", "tok-very-secret")
	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatal(err)
	}

	out, err := cfg.Redacted().YAML()
	if err != nil {
		t.Fatalf("YAML() error = %v", err)
	}
	text := string(out)
	if strings.Contains(text, "tok-very-secret") {
		t.Errorf("expected token to be redacted, got:\n%s", text)
	}
	if !strings.Contains(text, "interval: 5s") {
		t.Errorf("expected durations in string form, got:\n%s", text)
	}
	if cfg.Remote.Token != "tok-very-secret" {
		t.Error("Redacted() must not modify the receiver")
	}
}
