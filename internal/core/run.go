package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "QUEUED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// ActiveStatuses are the non-terminal statuses. Runs in these states are the
// ones the poll sweep visits.
var ActiveStatuses = []RunStatus{RunStatusQueued, RunStatusRunning}

// ParseRunStatus parses a status string case-insensitively.
func ParseRunStatus(s string) (RunStatus, error) {
	status := RunStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", ErrValidation(CodeInvalidStatus, "unknown run status: "+s)
	}
	return status, nil
}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s has no outgoing transitions.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether next is a legal successor of s.
//
//	QUEUED  -> RUNNING | FAILED | CANCELLED
//	RUNNING -> RUNNING | COMPLETED | FAILED | CANCELLED
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	switch s {
	case RunStatusQueued:
		return next == RunStatusRunning || next == RunStatusFailed || next == RunStatusCancelled
	case RunStatusRunning:
		return next == RunStatusRunning || next.IsTerminal()
	default:
		return false
	}
}

// CompletionSource records which signal produced a transition.
type CompletionSource string

const (
	SourceStart   CompletionSource = "start"
	SourcePoll    CompletionSource = "poll"
	SourceWebhook CompletionSource = "webhook"
	SourceCancel  CompletionSource = "cancel"
	SourceSweep   CompletionSource = "sweep"
)

// Failure reasons written by the engine.
const (
	ReasonRemoteUnreachable = "remote unreachable"
	ReasonStartInterrupted  = "start interrupted"
	ReasonRemoteFailed      = "remote reported failure"
	ReasonCancelled         = "cancelled by request"
)

// Run is one request to execute a build task via the remote agent.
type Run struct {
	ID               string
	ProjectID        string
	Status           RunStatus
	Percent          int
	RemoteHandle     string
	Prompt           string
	Repository       string
	Branch           string
	Metadata         map[string]interface{}
	CompletionSource CompletionSource
	Reason           string
	PollFailures     int
	PendingFailure   string
	PendingFailureAt *time.Time
	Raw              map[string]interface{}
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
}

// IsTerminal reports whether the run has reached a final state.
func (r *Run) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// MatchesPullRequest reports whether a pull/merge request event belongs to
// this run. A run with a repository needs that repository to match, and its
// branch too when it has one. A run with only a branch matches on the branch
// in any repository.
func (r *Run) MatchesPullRequest(ev PullRequestEvent) bool {
	if r.Repository == "" {
		return r.Branch != "" && r.Branch == ev.Branch
	}
	if !strings.EqualFold(r.Repository, ev.Repository) {
		return false
	}
	if r.Branch != "" && r.Branch != ev.Branch {
		return false
	}
	return true
}

// Transition is one committed status change of a run.
type Transition struct {
	RunID  string
	From   RunStatus
	To     RunStatus
	Source CompletionSource
	Reason string
	At     time.Time
}

// CreateRunRequest carries the caller-supplied fields for a new run.
type CreateRunRequest struct {
	ProjectID      string
	CompiledPrompt string
	Repository     string
	Branch         string
	Metadata       map[string]interface{}
}

// Normalize trims fields and lifts repository/branch out of metadata when they
// were not given explicitly.
func (r *CreateRunRequest) Normalize() {
	r.ProjectID = strings.TrimSpace(r.ProjectID)
	r.Repository = strings.TrimSpace(r.Repository)
	r.Branch = strings.TrimSpace(r.Branch)
	if r.Repository == "" {
		if v, ok := r.Metadata["repository"].(string); ok {
			r.Repository = strings.TrimSpace(v)
		}
	}
	if r.Branch == "" {
		if v, ok := r.Metadata["branch"].(string); ok {
			r.Branch = strings.TrimSpace(v)
		}
	}
}

// Validate checks the request.
func (r *CreateRunRequest) Validate() error {
	if r.ProjectID == "" {
		return ErrValidation(CodeMissingProject, "project_id is required")
	}
	if strings.TrimSpace(r.CompiledPrompt) == "" {
		return ErrValidation(CodeEmptyPrompt, "compiled_prompt is required")
	}
	if len(r.CompiledPrompt) > MaxPromptLength {
		return ErrValidation(CodePromptTooLong, "compiled_prompt exceeds maximum length").
			WithDetail("max_length", MaxPromptLength)
	}
	return nil
}

// NewRun builds a QUEUED run from a validated request.
func NewRun(req CreateRunRequest, now time.Time) *Run {
	return &Run{
		ID:         NewRunID(),
		ProjectID:  req.ProjectID,
		Status:     RunStatusQueued,
		Prompt:     req.CompiledPrompt,
		Repository: req.Repository,
		Branch:     req.Branch,
		Metadata:   req.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return "run_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewArtifactID returns a fresh artifact identifier.
func NewArtifactID() string {
	return "artifact_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ClampPercent bounds a progress estimate to 0..100.
func ClampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
