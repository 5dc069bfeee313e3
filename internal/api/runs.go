package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/service/query"
)

// CreateRunRequest is the request body for creating a run.
type CreateRunRequest struct {
	ProjectID      string                 `json:"project_id"`
	CompiledPrompt string                 `json:"compiled_prompt"`
	Repository     string                 `json:"repository,omitempty"`
	Branch         string                 `json:"branch,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// CreateRunResponse acknowledges an accepted run.
type CreateRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// RunResponse is the summary view of a run.
type RunResponse struct {
	RunID     string                 `json:"run_id"`
	ProjectID string                 `json:"project_id"`
	Status    string                 `json:"status"`
	Percent   int                    `json:"percent"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// TransitionResponse is one entry of a run's status history.
type TransitionResponse struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Source string    `json:"source"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// ArtifactResponse is an output recorded for a run.
type ArtifactResponse struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	URL       string                 `json:"url,omitempty"`
	Content   map[string]interface{} `json:"content,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// RunDetailResponse is the full view of a run.
type RunDetailResponse struct {
	RunResponse
	RemoteHandle     string                 `json:"remote_handle,omitempty"`
	CompletionSource string                 `json:"completion_source,omitempty"`
	Reason           string                 `json:"reason,omitempty"`
	Repository       string                 `json:"repository,omitempty"`
	Branch           string                 `json:"branch,omitempty"`
	PollFailures     int                    `json:"poll_failures"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	FinishedAt       *time.Time             `json:"finished_at,omitempty"`
	Transitions      []TransitionResponse   `json:"transitions"`
	Artifacts        []ArtifactResponse     `json:"artifacts"`
	Raw              map[string]interface{} `json:"raw,omitempty"`
}

// CancelRunRequest is the optional body of a cancel request.
type CancelRunRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CancelRunResponse reports the outcome of a cancel request.
type CancelRunResponse struct {
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	Cancelled bool   `json:"cancelled"`
}

func runToResponse(r *core.Run) RunResponse {
	return RunResponse{
		RunID:     r.ID,
		ProjectID: r.ProjectID,
		Status:    string(r.Status),
		Percent:   r.Percent,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Metadata:  r.Metadata,
	}
}

func detailToResponse(d *query.RunDetail) RunDetailResponse {
	r := d.Run
	resp := RunDetailResponse{
		RunResponse:      runToResponse(r),
		RemoteHandle:     r.RemoteHandle,
		CompletionSource: string(r.CompletionSource),
		Reason:           r.Reason,
		Repository:       r.Repository,
		Branch:           r.Branch,
		PollFailures:     r.PollFailures,
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
		Transitions:      make([]TransitionResponse, 0, len(d.Transitions)),
		Artifacts:        make([]ArtifactResponse, 0, len(d.Artifacts)),
		Raw:              r.Raw,
	}
	for _, t := range d.Transitions {
		resp.Transitions = append(resp.Transitions, TransitionResponse{
			From:   string(t.From),
			To:     string(t.To),
			Source: string(t.Source),
			Reason: t.Reason,
			At:     t.At,
		})
	}
	for _, a := range d.Artifacts {
		resp.Artifacts = append(resp.Artifacts, ArtifactResponse{
			ID:        a.ID,
			Type:      string(a.Type),
			URL:       a.URL,
			Content:   a.Content,
			CreatedAt: a.CreatedAt,
		})
	}
	return resp
}

// handleCreateRun accepts a run and launches it in the background.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, err := s.deps.Runs.Submit(r.Context(), core.CreateRunRequest{
		ProjectID:      req.ProjectID,
		CompiledPrompt: req.CompiledPrompt,
		Repository:     req.Repository,
		Branch:         req.Branch,
		Metadata:       req.Metadata,
	})
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusAccepted, CreateRunResponse{
		RunID:  run.ID,
		Status: string(run.Status),
	})
}

// handleListRuns lists runs ordered by creation time.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	offset, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	runs, err := s.deps.Queries.List(r.Context(), query.ListOptions{
		ProjectID: q.Get("project_id"),
		Status:    q.Get("status"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	resp := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, runToResponse(run))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetRun returns a run summary.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Queries.Get(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, runToResponse(run))
}

// handleGetRunDetail returns a run with its history, artifacts and raw payload.
func (s *Server) handleGetRunDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.deps.Queries.Detail(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, detailToResponse(detail))
}

// handleCancelRun cancels a non-terminal run. Cancelling a terminal run is
// not an error; the response reports cancelled=false.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	var req CancelRunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cancelled, err := s.deps.Runs.Cancel(r.Context(), runID, req.Reason)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	run, err := s.deps.Queries.Get(r.Context(), runID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, CancelRunResponse{
		RunID:     run.ID,
		Status:    string(run.Status),
		Cancelled: cancelled,
	})
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, core.ErrValidation("INVALID_"+strings.ToUpper(name), name+" must be an integer")
	}
	return n, nil
}
