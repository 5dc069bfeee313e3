// Package query provides read-only views of runs.
package query

import (
	"context"
	"fmt"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
)

// Listing bounds.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ListOptions filters a run listing. Status is parsed case-insensitively.
type ListOptions struct {
	ProjectID string
	Status    string
	Limit     int
	Offset    int
}

// RunDetail is a run with its history and outputs.
type RunDetail struct {
	Run         *core.Run
	Transitions []*core.Transition
	Artifacts   []*core.Artifact
}

// Service reads runs from the store.
type Service struct {
	store core.RunStore
}

// New creates a query service.
func New(store core.RunStore) *Service {
	return &Service{store: store}
}

// Get returns one run.
func (s *Service) Get(ctx context.Context, runID string) (*core.Run, error) {
	return s.store.GetRun(ctx, runID)
}

// Detail returns a run with its transitions and artifacts.
func (s *Service) Detail(ctx context.Context, runID string) (*RunDetail, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	transitions, err := s.store.ListTransitions(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("listing transitions: %w", err)
	}
	artifacts, err := s.store.ListArtifacts(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	return &RunDetail{Run: run, Transitions: transitions, Artifacts: artifacts}, nil
}

// List returns runs ordered by creation time. Limit defaults to DefaultLimit
// and is capped at MaxLimit.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*core.Run, error) {
	filter, err := opts.filter()
	if err != nil {
		return nil, err
	}
	runs, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	if runs == nil {
		runs = []*core.Run{}
	}
	return runs, nil
}

func (o ListOptions) filter() (core.RunFilter, error) {
	f := core.RunFilter{ProjectID: o.ProjectID, Limit: o.Limit, Offset: o.Offset}
	if o.Status != "" {
		status, err := core.ParseRunStatus(o.Status)
		if err != nil {
			return f, err
		}
		f.Statuses = []core.RunStatus{status}
	}
	if o.Offset < 0 {
		return f, core.ErrValidation("INVALID_OFFSET", "offset must not be negative")
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}
	return f, nil
}
