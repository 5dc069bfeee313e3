package api

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/service/reconcile"
)

// HealthResponse reports service health.
type HealthResponse struct {
	OK            bool                       `json:"ok"`
	Remote        string                     `json:"remote"`
	RemoteHealthy bool                       `json:"remote_healthy"`
	RemoteError   string                     `json:"remote_error,omitempty"`
	StoreHealthy  bool                       `json:"store_healthy"`
	StoreError    string                     `json:"store_error,omitempty"`
	Time          time.Time                  `json:"time"`
	System        *diagnostics.SystemMetrics `json:"system,omitempty"`
	Engine        *reconcile.MetricsSnapshot `json:"engine,omitempty"`
}

// handleHealth checks the store and the remote service concurrently.
// An unreachable remote is reported but does not make the service unhealthy;
// a failing store does and yields 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.healthTimeout)
	defer cancel()

	resp := HealthResponse{
		Remote: s.remoteURL,
		Time:   time.Now().UTC(),
	}

	var g errgroup.Group
	g.Go(func() error {
		if s.deps.Remote == nil {
			return nil
		}
		if err := s.deps.Remote.Health(ctx); err != nil {
			resp.RemoteError = err.Error()
			return nil
		}
		resp.RemoteHealthy = true
		return nil
	})
	g.Go(func() error {
		if s.deps.Store == nil {
			return nil
		}
		if err := s.deps.Store.Ping(ctx); err != nil {
			resp.StoreError = err.Error()
			return nil
		}
		resp.StoreHealthy = true
		return nil
	})
	_ = g.Wait()

	if s.system != nil {
		m := s.system.Collect()
		resp.System = &m
	}
	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		resp.Engine = &snap
	}

	resp.OK = resp.StoreHealthy
	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}
