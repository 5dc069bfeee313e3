package events

import "time"

// Event type constants for run lifecycle events.
const (
	TypeRunCreated   = "run_created"
	TypeRunStarted   = "run_started"
	TypeRunProgress  = "run_progress"
	TypeRunCompleted = "run_completed"
	TypeRunFailed    = "run_failed"
	TypeRunCancelled = "run_cancelled"
)

// RunCreatedEvent is emitted when a run is accepted and queued.
type RunCreatedEvent struct {
	BaseEvent
	Repository string `json:"repository,omitempty"`
	Branch     string `json:"branch,omitempty"`
}

// NewRunCreatedEvent creates a new run created event.
func NewRunCreatedEvent(runID, projectID, repository, branch string, at time.Time) RunCreatedEvent {
	return RunCreatedEvent{
		BaseEvent:  NewBaseEvent(TypeRunCreated, runID, projectID, at),
		Repository: repository,
		Branch:     branch,
	}
}

// RunStartedEvent is emitted when the remote service accepted the run.
type RunStartedEvent struct {
	BaseEvent
	RemoteHandle string `json:"remote_handle"`
}

// NewRunStartedEvent creates a new run started event.
func NewRunStartedEvent(runID, projectID, handle string, at time.Time) RunStartedEvent {
	return RunStartedEvent{
		BaseEvent:    NewBaseEvent(TypeRunStarted, runID, projectID, at),
		RemoteHandle: handle,
	}
}

// RunProgressEvent is emitted when a poll raised the stored percent.
type RunProgressEvent struct {
	BaseEvent
	Percent int `json:"percent"`
}

// NewRunProgressEvent creates a new run progress event.
func NewRunProgressEvent(runID, projectID string, percent int, at time.Time) RunProgressEvent {
	return RunProgressEvent{
		BaseEvent: NewBaseEvent(TypeRunProgress, runID, projectID, at),
		Percent:   percent,
	}
}

// RunTerminalEvent is emitted exactly once per run, when its terminal
// transition commits. Type is one of run_completed, run_failed or
// run_cancelled.
type RunTerminalEvent struct {
	BaseEvent
	Status string `json:"status"`
	Source string `json:"source"`
	Reason string `json:"reason,omitempty"`
}

// NewRunTerminalEvent creates the terminal event matching status.
func NewRunTerminalEvent(runID, projectID, status, source, reason string, at time.Time) RunTerminalEvent {
	eventType := TypeRunFailed
	switch status {
	case "COMPLETED":
		eventType = TypeRunCompleted
	case "CANCELLED":
		eventType = TypeRunCancelled
	}
	return RunTerminalEvent{
		BaseEvent: NewBaseEvent(eventType, runID, projectID, at),
		Status:    status,
		Source:    source,
		Reason:    reason,
	}
}
