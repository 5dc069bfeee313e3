package core

import "time"

// ArtifactType classifies what a run produced.
type ArtifactType string

const (
	ArtifactTypePR   ArtifactType = "pr"
	ArtifactTypeFile ArtifactType = "file"
	ArtifactTypeLog  ArtifactType = "log"
)

// Artifact is an output attached to a run, such as the pull request that
// completed it.
type Artifact struct {
	ID        string
	RunID     string
	Type      ArtifactType
	URL       string
	Content   map[string]interface{}
	CreatedAt time.Time
}

// NewPRArtifact records the pull/merge request that completed a run.
func NewPRArtifact(runID string, ev PullRequestEvent, now time.Time) *Artifact {
	return &Artifact{
		ID:    NewArtifactID(),
		RunID: runID,
		Type:  ArtifactTypePR,
		URL:   ev.URL,
		Content: map[string]interface{}{
			"provider":   ev.Provider,
			"number":     ev.Number,
			"title":      ev.Title,
			"state":      ev.State,
			"repository": ev.Repository,
			"branch":     ev.Branch,
			"action":     ev.Action,
		},
		CreatedAt: now,
	}
}
