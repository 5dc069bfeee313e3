package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
)

// MemoryStore is an in-process core.RunStore. All state is lost on exit.
type MemoryStore struct {
	mu          sync.RWMutex
	runs        map[string]*core.Run
	order       []string
	artifacts   map[string][]*core.Artifact
	transitions map[string][]*core.Transition
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:        make(map[string]*core.Run),
		artifacts:   make(map[string][]*core.Artifact),
		transitions: make(map[string][]*core.Transition),
	}
}

// Driver returns the backend name.
func (m *MemoryStore) Driver() string { return "memory" }

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateRun(_ context.Context, run *core.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return core.ErrConflict(core.CodeDuplicateRun, "run already exists: "+run.ID)
	}
	m.runs[run.ID] = cloneRun(run)
	m.order = append(m.order, run.ID)
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, id string) (*core.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, core.ErrNotFound("run", id)
	}
	return cloneRun(run), nil
}

func (m *MemoryStore) ListRuns(_ context.Context, filter core.RunFilter) ([]*core.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*core.Run
	for _, id := range m.order {
		run := m.runs[id]
		if filter.ProjectID != "" && run.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Repository != "" && !strings.EqualFold(run.Repository, filter.Repository) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, run.Status) {
			continue
		}
		out = append(out, cloneRun(run))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkRunning(_ context.Context, id, handle string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return false, core.ErrNotFound("run", id)
	}
	if run.Status != core.RunStatusQueued || run.RemoteHandle != "" {
		return false, nil
	}
	at = at.UTC()
	run.Status = core.RunStatusRunning
	run.RemoteHandle = handle
	run.StartedAt = &at
	run.UpdatedAt = at
	m.appendTransition(&core.Transition{
		RunID: id, From: core.RunStatusQueued, To: core.RunStatusRunning, Source: core.SourceStart, At: at,
	})
	return true, nil
}

func (m *MemoryStore) RecordProgress(_ context.Context, id string, update core.ProgressUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return false, core.ErrNotFound("run", id)
	}
	if run.IsTerminal() {
		return false, nil
	}
	if pct := core.ClampPercent(update.Percent); pct > run.Percent {
		run.Percent = pct
		run.UpdatedAt = update.At.UTC()
	}
	if update.Raw != nil {
		run.Raw = cloneMap(update.Raw)
	}
	run.PollFailures = 0
	return true, nil
}

func (m *MemoryStore) RecordPollFailure(_ context.Context, id string, _ time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return 0, core.ErrNotFound("run", id)
	}
	if run.IsTerminal() {
		return 0, nil
	}
	run.PollFailures++
	return run.PollFailures, nil
}

func (m *MemoryStore) StagePendingFailure(_ context.Context, id, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return false, core.ErrNotFound("run", id)
	}
	if run.IsTerminal() || run.PendingFailureAt != nil {
		return false, nil
	}
	at = at.UTC()
	run.PendingFailure = reason
	run.PendingFailureAt = &at
	return true, nil
}

func (m *MemoryStore) Terminate(_ context.Context, id string, t core.Termination) (bool, error) {
	if !t.Status.IsTerminal() {
		return false, core.ErrState(core.CodeInvalidTransition, "terminate requires a terminal status")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return false, core.ErrNotFound("run", id)
	}
	from := run.Status
	if !from.CanTransitionTo(t.Status) {
		return false, nil
	}

	at := t.At.UTC()
	run.Status = t.Status
	run.CompletionSource = t.Source
	run.Reason = t.Reason
	if pct := core.ClampPercent(t.Percent); pct > run.Percent {
		run.Percent = pct
	}
	if t.Raw != nil {
		run.Raw = cloneMap(t.Raw)
	}
	run.PendingFailure = ""
	run.PendingFailureAt = nil
	run.FinishedAt = &at
	run.UpdatedAt = at
	m.appendTransition(&core.Transition{
		RunID: id, From: from, To: t.Status, Source: t.Source, Reason: t.Reason, At: at,
	})
	return true, nil
}

func (m *MemoryStore) AddArtifact(_ context.Context, a *core.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[a.RunID]; !ok {
		return core.ErrNotFound("run", a.RunID)
	}
	cp := *a
	cp.Content = cloneMap(a.Content)
	m.artifacts[a.RunID] = append(m.artifacts[a.RunID], &cp)
	return nil
}

func (m *MemoryStore) ListArtifacts(_ context.Context, runID string) ([]*core.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.artifacts[runID]
	out := make([]*core.Artifact, 0, len(src))
	for _, a := range src {
		cp := *a
		cp.Content = cloneMap(a.Content)
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) ListTransitions(_ context.Context, runID string) ([]*core.Transition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.transitions[runID]
	out := make([]*core.Transition, 0, len(src))
	for _, tr := range src {
		cp := *tr
		out = append(out, &cp)
	}
	return out, nil
}

// appendTransition must be called with m.mu held.
func (m *MemoryStore) appendTransition(tr *core.Transition) {
	m.transitions[tr.RunID] = append(m.transitions[tr.RunID], tr)
}

func containsStatus(list []core.RunStatus, s core.RunStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func cloneRun(r *core.Run) *core.Run {
	cp := *r
	cp.Metadata = cloneMap(r.Metadata)
	cp.Raw = cloneMap(r.Raw)
	if r.PendingFailureAt != nil {
		t := *r.PendingFailureAt
		cp.PendingFailureAt = &t
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
