package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigYAML is the file written by `runner init`. Values not listed
// fall back to the loader defaults.
const DefaultConfigYAML = `# openhands-runner configuration
# Every key can be overridden with an environment variable, e.g.
# RUNNER_REMOTE_BASE_URL or RUNNER_WEBHOOK_GITHUB_SECRET.

log:
  level: info      # debug, info, warn, error (reloaded on change)
  format: auto     # auto, text, json

server:
  host: 127.0.0.1
  port: 8080
  cors_origins: ["*"]

remote:
  base_url: http://localhost:3000
  # token: set RUNNER_REMOTE_TOKEN instead of storing it here
  start_timeout: 30s
  request_timeout: 15s
  rate_limit: 10   # requests per second, 0 disables pacing
  burst: 5

store:
  driver: sqlite   # sqlite, postgres, memory
  dsn: .runner/runner.db

poll:
  interval: 5s
  max_failures: 5
  concurrency: 8
  settle_window: 10s
  queued_timeout: 2m

webhook:
  # github_secret: set RUNNER_WEBHOOK_GITHUB_SECRET
  # gitlab_token: set RUNNER_WEBHOOK_GITLAB_TOKEN
  allow_unsigned: false
`

// YAML renders the configuration with durations in their string form.
func (c Config) YAML() ([]byte, error) {
	d := func(v time.Duration) string { return v.String() }
	doc := map[string]interface{}{
		"log": map[string]interface{}{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
		"server": map[string]interface{}{
			"host":             c.Server.Host,
			"port":             c.Server.Port,
			"cors_origins":     c.Server.CORSOrigins,
			"request_timeout":  d(c.Server.RequestTimeout),
			"shutdown_timeout": d(c.Server.ShutdownTimeout),
		},
		"remote": map[string]interface{}{
			"base_url":        c.Remote.BaseURL,
			"token":           c.Remote.Token,
			"start_timeout":   d(c.Remote.StartTimeout),
			"request_timeout": d(c.Remote.RequestTimeout),
			"rate_limit":      c.Remote.RateLimit,
			"burst":           c.Remote.Burst,
		},
		"store": map[string]interface{}{
			"driver":         c.Store.Driver,
			"dsn":            c.Store.DSN,
			"max_open_conns": c.Store.MaxOpenConns,
		},
		"poll": map[string]interface{}{
			"interval":       d(c.Poll.Interval),
			"max_failures":   c.Poll.MaxFailures,
			"concurrency":    c.Poll.Concurrency,
			"settle_window":  d(c.Poll.SettleWindow),
			"queued_timeout": d(c.Poll.QueuedTimeout),
		},
		"webhook": map[string]interface{}{
			"github_secret":  c.Webhook.GitHubSecret,
			"gitlab_token":   c.Webhook.GitLabToken,
			"allow_unsigned": c.Webhook.AllowUnsigned,
		},
		"events": map[string]interface{}{
			"buffer_size": c.Events.BufferSize,
		},
	}
	return yaml.Marshal(doc)
}
