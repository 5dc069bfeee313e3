// Package openhands is the remote execution client for an OpenHands
// deployment. It starts conversations, polls their status, asks them to stop
// and probes service health.
package openhands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/logging"
)

const maxResponseBytes = 4 << 20

// Config configures the client.
type Config struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
	// RateLimit is requests per second across all calls. Zero disables pacing.
	RateLimit float64
	Burst     int
	// HTTPClient overrides the default transport, mainly for tests.
	HTTPClient *http.Client
}

// Client implements core.RemoteExecutor over the OpenHands REST API.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
	logger  *logging.Logger
}

var _ core.RemoteExecutor = (*Client)(nil)

// New creates a client.
func New(cfg Config, logger *logging.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, core.ErrValidation("INVALID_BASE_URL", fmt.Sprintf("invalid remote base url %q", cfg.BaseURL))
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		baseURL: base,
		token:   cfg.Token,
		timeout: cfg.RequestTimeout,
		http:    httpClient,
		limiter: limiter,
		logger:  logger.WithComponent("openhands"),
	}, nil
}

// BaseURL returns the configured service root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type startPayload struct {
	InitialUserMsg string `json:"initial_user_msg"`
	Repository     string `json:"repository,omitempty"`
}

// Start creates a conversation and returns its id.
func (c *Client) Start(ctx context.Context, req core.StartRequest) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/conversations", startPayload{
		InitialUserMsg: req.Prompt,
		Repository:     req.Repository,
	})
	if err != nil {
		return "", err
	}

	handle := stringField(body, "conversation_id")
	if handle == "" {
		handle = stringField(body, "id")
	}
	if handle == "" {
		return "", core.ErrFatalUpstream("remote start returned no conversation id")
	}
	c.logger.Info("conversation started", "remote_handle", handle)
	return handle, nil
}

// FetchStatus returns the mapped status of a conversation.
func (c *Client) FetchStatus(ctx context.Context, handle string) (*core.RemoteStatus, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(handle), nil)
	if err != nil {
		return nil, err
	}
	return MapStatus(body), nil
}

// Cancel asks the remote service to stop a conversation.
func (c *Client) Cancel(ctx context.Context, handle string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(handle)+"/stop", nil)
	return err
}

// Health probes the service root health endpoint.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil)
	return err
}

// do performs one paced request and decodes a JSON object response. Empty
// bodies decode to an empty map.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}) (map[string]interface{}, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, core.ErrTimeout("waiting for remote rate limiter").WithCause(err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, core.ErrFatalUpstream("building request").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, core.ErrTimeout(fmt.Sprintf("%s %s timed out", method, path)).WithCause(err)
		}
		return nil, core.ErrTransientUpstream(fmt.Sprintf("%s %s failed", method, path)).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, core.ErrTransientUpstream("reading response body").WithCause(err)
	}

	if err := classifyStatus(method, path, resp.StatusCode, data); err != nil {
		c.logger.Debug("remote request failed", "method", method, "path", path, "status", resp.StatusCode)
		return nil, err
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]interface{}{}, nil
	}
	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		// Health endpoints may answer with plain text
		if path == "/health" {
			return map[string]interface{}{}, nil
		}
		return nil, core.ErrFatalUpstream("undecodable response from " + path).WithCause(err)
	}
	return body, nil
}

// classifyStatus maps HTTP status codes onto the upstream error taxonomy:
// 429 and 5xx are transient, every other non-2xx is fatal.
func classifyStatus(method, path string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := fmt.Sprintf("%s %s returned %d", method, path, status)
	if snippet := strings.TrimSpace(string(body)); snippet != "" {
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		msg += ": " + snippet
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return core.ErrTransientUpstream(msg).WithDetail("status", status)
	}
	return core.ErrFatalUpstream(msg).WithDetail("status", status)
}

func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
