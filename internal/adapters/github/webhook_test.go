package github

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
)

const samplePR = `{
  "action": "opened",
  "pull_request": {
    "number": 17,
    "title": "Add widgets",
    "state": "open",
    "html_url": "https://github.com/acme/widgets/pull/17",
    "head": {"ref": "feature/widgets"}
  },
  "repository": {"full_name": "acme/widgets"}
}`

func TestVerifySignature(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(samplePR)

	require.NoError(t, VerifySignature(secret, body, Sign(secret, body)))

	tests := []struct {
		name string
		sig  string
	}{
		{"missing", ""},
		{"wrong prefix", "sha1=abcdef"},
		{"not hex", "sha256=zzzz"},
		{"wrong secret", Sign([]byte("other"), body)},
		{"tampered body", Sign(secret, []byte(`{}`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(secret, body, tt.sig)
			require.Error(t, err)
			assert.True(t, core.IsCategory(err, core.ErrCatAuth))
		})
	}
}

func TestWebhook_VerifyWithoutSecret(t *testing.T) {
	h := http.Header{}

	err := NewWebhook("", false).Verify(h, []byte(samplePR))
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatAuth))

	assert.NoError(t, NewWebhook("", true).Verify(h, []byte(samplePR)))
}

func TestWebhook_VerifyHeader(t *testing.T) {
	w := NewWebhook("s3cret", false)
	body := []byte(samplePR)

	h := http.Header{}
	h.Set(HeaderSignature, Sign([]byte("s3cret"), body))
	assert.NoError(t, w.Verify(h, body))

	h.Set(HeaderSignature, Sign([]byte("nope"), body))
	assert.Error(t, w.Verify(h, body))
}

func TestParsePullRequest(t *testing.T) {
	ev, err := ParsePullRequest("pull_request", []byte(samplePR))
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, core.PullRequestEvent{
		Provider:   "github",
		Action:     "opened",
		Repository: "acme/widgets",
		Branch:     "feature/widgets",
		Number:     17,
		Title:      "Add widgets",
		State:      "open",
		URL:        "https://github.com/acme/widgets/pull/17",
	}, *ev)
}

func TestParsePullRequest_Ignored(t *testing.T) {
	tests := []struct {
		name  string
		event string
		body  string
	}{
		{"ping event", "ping", `{"zen":"Keep it logically awesome."}`},
		{"closed action", "pull_request", `{"action":"closed","repository":{"full_name":"acme/widgets"}}`},
		{"labeled action", "pull_request", `{"action":"labeled","repository":{"full_name":"acme/widgets"}}`},
		{"no repository", "pull_request", `{"action":"opened"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParsePullRequest(tt.event, []byte(tt.body))
			require.NoError(t, err)
			assert.Nil(t, ev)
		})
	}
}

func TestParsePullRequest_InvalidJSON(t *testing.T) {
	_, err := ParsePullRequest("pull_request", []byte(`{not json`))
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestWebhook_ParseReadsEventHeader(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderEvent, "pull_request")
	ev, err := NewWebhook("x", false).Parse(h, []byte(samplePR))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, 17, ev.Number)
}
