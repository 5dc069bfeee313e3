package core

import (
	"context"
	"time"
)

// =============================================================================
// Remote Execution Port
// =============================================================================

// StartRequest describes the work handed to the remote agent service.
type StartRequest struct {
	Prompt     string
	Repository string
	Metadata   map[string]interface{}
}

// RemoteStatus is the remote service's view of an execution.
type RemoteStatus struct {
	Status  RunStatus // RUNNING, COMPLETED or FAILED
	Percent int
	Raw     map[string]interface{}
}

// RemoteExecutor is the typed interface to the remote coding-agent service.
// Errors are classified with ErrTransientUpstream / ErrFatalUpstream.
type RemoteExecutor interface {
	// Start begins a remote execution and returns its opaque handle.
	Start(ctx context.Context, req StartRequest) (string, error)

	// FetchStatus returns the current status and progress for a handle.
	FetchStatus(ctx context.Context, handle string) (*RemoteStatus, error)

	// Cancel asks the remote service to stop an execution. Best effort.
	Cancel(ctx context.Context, handle string) error

	// Health checks that the remote service is reachable.
	Health(ctx context.Context) error
}

// =============================================================================
// Run Store Port
// =============================================================================

// RunFilter narrows ListRuns. Zero values mean "any".
type RunFilter struct {
	ProjectID  string
	Statuses   []RunStatus
	Repository string
	Limit      int
	Offset     int
}

// ProgressUpdate is a non-terminal poll result.
type ProgressUpdate struct {
	Percent int
	Raw     map[string]interface{}
	At      time.Time
}

// Termination is a terminal write request.
type Termination struct {
	Status  RunStatus
	Source  CompletionSource
	Reason  string
	Percent int
	Raw     map[string]interface{}
	At      time.Time
}

// RunStore persists runs. Every terminal write goes through Terminate, which
// must be a single atomic compare-and-set on "status is non-terminal".
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// MarkRunning sets the remote handle and moves QUEUED -> RUNNING.
	// Returns false when the run is no longer QUEUED or already has a handle.
	MarkRunning(ctx context.Context, id, handle string, at time.Time) (bool, error)

	// RecordProgress raises percent (never lowers it) and clears the
	// consecutive failure counter. updated_at advances only when percent rises.
	// Returns false when the run is terminal.
	RecordProgress(ctx context.Context, id string, update ProgressUpdate) (bool, error)

	// RecordPollFailure increments the consecutive failure counter and
	// returns the new value. Returns 0 when the run is terminal.
	RecordPollFailure(ctx context.Context, id string, at time.Time) (int, error)

	// StagePendingFailure records a remote-reported failure awaiting the
	// settle window. The first staged failure is kept.
	StagePendingFailure(ctx context.Context, id, reason string, at time.Time) (bool, error)

	// Terminate commits a terminal status if and only if the run is still
	// non-terminal, appending the transition in the same transaction.
	Terminate(ctx context.Context, id string, t Termination) (bool, error)

	AddArtifact(ctx context.Context, artifact *Artifact) error
	ListArtifacts(ctx context.Context, runID string) ([]*Artifact, error)
	ListTransitions(ctx context.Context, runID string) ([]*Transition, error)

	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Webhook signals
// =============================================================================

// PullRequestEvent is a provider-neutral pull/merge request notification.
type PullRequestEvent struct {
	Provider   string
	Action     string
	Repository string
	Branch     string
	Number     int
	Title      string
	State      string
	URL        string
}
