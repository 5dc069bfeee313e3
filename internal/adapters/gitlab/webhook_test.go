package gitlab

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
)

const sampleMR = `{
  "object_kind": "merge_request",
  "project": {"path_with_namespace": "acme/widgets"},
  "object_attributes": {
    "iid": 4,
    "title": "Add widgets",
    "state": "opened",
    "url": "https://gitlab.com/acme/widgets/-/merge_requests/4",
    "source_branch": "feature/widgets",
    "action": "open"
  }
}`

func TestWebhook_Verify(t *testing.T) {
	w := NewWebhook("tok", false)

	h := http.Header{}
	err := w.Verify(h, nil)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatAuth))

	h.Set(HeaderToken, "wrong")
	assert.Error(t, w.Verify(h, nil))

	h.Set(HeaderToken, "tok")
	assert.NoError(t, w.Verify(h, nil))
}

func TestWebhook_VerifyWithoutToken(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderToken, "anything")

	err := NewWebhook("", false).Verify(h, nil)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatAuth))

	assert.NoError(t, NewWebhook("", true).Verify(http.Header{}, nil))
}

func TestParseMergeRequest(t *testing.T) {
	ev, err := ParseMergeRequest([]byte(sampleMR))
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, "gitlab", ev.Provider)
	assert.Equal(t, "open", ev.Action)
	assert.Equal(t, "acme/widgets", ev.Repository)
	assert.Equal(t, "feature/widgets", ev.Branch)
	assert.Equal(t, 4, ev.Number)
	assert.Equal(t, "https://gitlab.com/acme/widgets/-/merge_requests/4", ev.URL)
}

func TestParseMergeRequest_Ignored(t *testing.T) {
	for name, body := range map[string]string{
		"push hook":    `{"object_kind":"push","project":{"path_with_namespace":"acme/widgets"}}`,
		"merge action": `{"object_kind":"merge_request","object_attributes":{"action":"merge"},"project":{"path_with_namespace":"acme/widgets"}}`,
		"no project":   `{"object_kind":"merge_request","object_attributes":{"action":"open"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			ev, err := ParseMergeRequest([]byte(body))
			require.NoError(t, err)
			assert.Nil(t, ev)
		})
	}
}

func TestParseMergeRequest_InvalidJSON(t *testing.T) {
	_, err := ParseMergeRequest([]byte(`[`))
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}
