package reconcile

import (
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
)

// Metrics collects engine counters.
type Metrics struct {
	snapshot MetricsSnapshot
	mu       sync.RWMutex
}

// MetricsSnapshot is a point-in-time copy of the engine counters.
type MetricsSnapshot struct {
	Created           int           `json:"runs_created"`
	Started           int           `json:"runs_started"`
	Completed         int           `json:"runs_completed"`
	Failed            int           `json:"runs_failed"`
	Cancelled         int           `json:"runs_cancelled"`
	Suppressed        int           `json:"signals_suppressed"`
	Polls             int           `json:"polls"`
	PollErrors        int           `json:"poll_errors"`
	Sweeps            int           `json:"sweeps"`
	LastSweepAt       time.Time     `json:"last_sweep_at,omitempty"`
	LastSweepDuration time.Duration `json:"last_sweep_duration"`
	LastSweepRuns     int           `json:"last_sweep_runs"`
}

// NewMetrics creates an empty collector.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) recordCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Created++
}

func (m *Metrics) recordStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Started++
}

func (m *Metrics) recordTerminal(status core.RunStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch status {
	case core.RunStatusCompleted:
		m.snapshot.Completed++
	case core.RunStatusFailed:
		m.snapshot.Failed++
	case core.RunStatusCancelled:
		m.snapshot.Cancelled++
	}
}

func (m *Metrics) recordSuppressed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Suppressed++
}

func (m *Metrics) recordPoll(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Polls++
	if err != nil {
		m.snapshot.PollErrors++
	}
}

func (m *Metrics) recordSweep(at time.Time, d time.Duration, runs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.Sweeps++
	m.snapshot.LastSweepAt = at
	m.snapshot.LastSweepDuration = d
	m.snapshot.LastSweepRuns = runs
}

// Snapshot returns a copy of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
