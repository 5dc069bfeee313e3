package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
)

// Webhook header names.
const (
	HeaderSignature = "X-Hub-Signature-256"
	HeaderEvent     = "X-GitHub-Event"
	HeaderDelivery  = "X-GitHub-Delivery"

	signaturePrefix = "sha256="
)

// ProviderName identifies GitHub in pull request events and artifacts.
const ProviderName = "github"

// completingActions are the pull_request actions that signal a run produced
// its pull request.
var completingActions = map[string]bool{
	"opened":      true,
	"reopened":    true,
	"synchronize": true,
}

// Webhook verifies and parses GitHub webhook deliveries.
type Webhook struct {
	secret        []byte
	allowUnsigned bool
}

// NewWebhook creates a webhook verifier. With an empty secret every delivery
// is rejected unless allowUnsigned is set.
func NewWebhook(secret string, allowUnsigned bool) *Webhook {
	return &Webhook{secret: []byte(secret), allowUnsigned: allowUnsigned}
}

// Name returns the provider name.
func (w *Webhook) Name() string {
	return ProviderName
}

// Verify checks the X-Hub-Signature-256 header against the raw body.
func (w *Webhook) Verify(header http.Header, body []byte) error {
	if len(w.secret) == 0 {
		if w.allowUnsigned {
			return nil
		}
		return core.ErrAuth("github webhook secret not configured")
	}
	return VerifySignature(w.secret, body, header.Get(HeaderSignature))
}

// VerifySignature validates a "sha256=<hex>" HMAC signature.
func VerifySignature(secret, body []byte, signature string) error {
	if signature == "" {
		return core.ErrAuth("missing " + HeaderSignature + " header")
	}
	if !strings.HasPrefix(signature, signaturePrefix) {
		return core.ErrAuth("unsupported signature format")
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return core.ErrAuth("malformed signature")
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return core.ErrAuth("signature mismatch")
	}
	return nil
}

// Sign returns the X-Hub-Signature-256 value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

type pullRequestPayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		State   string `json:"state"`
		HTMLURL string `json:"html_url"`
		Head    struct {
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Parse decodes a delivery. It returns a nil event for deliveries that are
// not completing pull_request actions.
func (w *Webhook) Parse(header http.Header, body []byte) (*core.PullRequestEvent, error) {
	return ParsePullRequest(header.Get(HeaderEvent), body)
}

// ParsePullRequest decodes a pull_request payload into a provider-neutral event.
func ParsePullRequest(eventType string, body []byte) (*core.PullRequestEvent, error) {
	var payload pullRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, core.ErrValidation(core.CodeInvalidPayload, "invalid JSON payload").WithCause(err)
	}
	if eventType != "pull_request" || !completingActions[payload.Action] {
		return nil, nil
	}
	if payload.Repository.FullName == "" {
		return nil, nil
	}

	return &core.PullRequestEvent{
		Provider:   ProviderName,
		Action:     payload.Action,
		Repository: payload.Repository.FullName,
		Branch:     payload.PullRequest.Head.Ref,
		Number:     payload.PullRequest.Number,
		Title:      payload.PullRequest.Title,
		State:      payload.PullRequest.State,
		URL:        payload.PullRequest.HTMLURL,
	}, nil
}
