// Package gitlab verifies and normalizes GitLab merge request webhooks.
package gitlab

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
)

// Webhook header names.
const (
	HeaderToken = "X-Gitlab-Token"
	HeaderEvent = "X-Gitlab-Event"
)

// ProviderName identifies GitLab in pull request events and artifacts.
const ProviderName = "gitlab"

var completingActions = map[string]bool{
	"open":   true,
	"reopen": true,
	"update": true,
}

// Webhook verifies and parses GitLab webhook deliveries.
type Webhook struct {
	token         []byte
	allowUnsigned bool
}

// NewWebhook creates a webhook verifier. With an empty token every delivery
// is rejected unless allowUnsigned is set.
func NewWebhook(token string, allowUnsigned bool) *Webhook {
	return &Webhook{token: []byte(token), allowUnsigned: allowUnsigned}
}

// Name returns the provider name.
func (w *Webhook) Name() string {
	return ProviderName
}

// Verify compares the X-Gitlab-Token header with the shared secret in
// constant time.
func (w *Webhook) Verify(header http.Header, _ []byte) error {
	if len(w.token) == 0 {
		if w.allowUnsigned {
			return nil
		}
		return core.ErrAuth("gitlab webhook token not configured")
	}
	got := header.Get(HeaderToken)
	if got == "" {
		return core.ErrAuth("missing " + HeaderToken + " header")
	}
	if subtle.ConstantTimeCompare([]byte(got), w.token) != 1 {
		return core.ErrAuth("token mismatch")
	}
	return nil
}

type mergeRequestPayload struct {
	ObjectKind       string `json:"object_kind"`
	ObjectAttributes struct {
		IID          int    `json:"iid"`
		Title        string `json:"title"`
		State        string `json:"state"`
		URL          string `json:"url"`
		SourceBranch string `json:"source_branch"`
		Action       string `json:"action"`
	} `json:"object_attributes"`
	Project struct {
		PathWithNamespace string `json:"path_with_namespace"`
	} `json:"project"`
}

// Parse decodes a delivery. Non-merge-request events and non-completing
// actions yield a nil event.
func (w *Webhook) Parse(_ http.Header, body []byte) (*core.PullRequestEvent, error) {
	return ParseMergeRequest(body)
}

// ParseMergeRequest decodes a merge_request payload into a provider-neutral
// event.
func ParseMergeRequest(body []byte) (*core.PullRequestEvent, error) {
	var payload mergeRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, core.ErrValidation(core.CodeInvalidPayload, "invalid JSON payload").WithCause(err)
	}
	attrs := payload.ObjectAttributes
	if payload.ObjectKind != "merge_request" || !completingActions[attrs.Action] {
		return nil, nil
	}
	if payload.Project.PathWithNamespace == "" {
		return nil, nil
	}

	return &core.PullRequestEvent{
		Provider:   ProviderName,
		Action:     attrs.Action,
		Repository: payload.Project.PathWithNamespace,
		Branch:     attrs.SourceBranch,
		Number:     attrs.IID,
		Title:      attrs.Title,
		State:      attrs.State,
		URL:        attrs.URL,
	}, nil
}
