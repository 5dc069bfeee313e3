// Package reconcile owns the run lifecycle. It launches runs on the remote
// agent service, sweeps active runs on a ticker, and merges poll and webhook
// signals so every run reaches exactly one terminal state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/events"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/logging"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultPollInterval  = 5 * time.Second
	DefaultMaxFailures   = 5
	DefaultConcurrency   = 8
	DefaultStartTimeout  = 30 * time.Second
	DefaultQueuedTimeout = 2 * time.Minute
	DefaultCancelTimeout = 10 * time.Second
)

// Config holds the engine's collaborators and tuning.
type Config struct {
	Store  core.RunStore
	Remote core.RemoteExecutor
	Bus    *events.EventBus
	Logger *logging.Logger

	PollInterval time.Duration
	MaxFailures  int
	Concurrency  int
	// SettleWindow delays committing a poll-reported failure so a webhook
	// success arriving meanwhile can win. Zero commits immediately.
	SettleWindow  time.Duration
	StartTimeout  time.Duration
	QueuedTimeout time.Duration
	CancelTimeout time.Duration
	CancelRetry   *RetryPolicy

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Engine is the run lifecycle and reconciliation engine. All shared state
// lives in the store; the only process-local state is the set of launches in
// flight.
type Engine struct {
	store   core.RunStore
	remote  core.RemoteExecutor
	bus     *events.EventBus
	logger  *logging.Logger
	metrics *Metrics
	now     func() time.Time

	pollInterval  time.Duration
	maxFailures   int
	concurrency   int
	settleWindow  time.Duration
	startTimeout  time.Duration
	queuedTimeout time.Duration
	cancelTimeout time.Duration
	cancelRetry   *RetryPolicy

	ctx      context.Context
	stop     context.CancelFunc
	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	inflight sync.Map // run ID -> struct{}

	// For testing
	tickerFactory func(time.Duration) *time.Ticker
}

// New creates an engine.
func New(cfg Config) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.SettleWindow < 0 {
		cfg.SettleWindow = 0
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.QueuedTimeout <= 0 {
		cfg.QueuedTimeout = DefaultQueuedTimeout
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = DefaultCancelTimeout
	}
	if cfg.CancelRetry == nil {
		cfg.CancelRetry = DefaultRetryPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Engine{
		store:         cfg.Store,
		remote:        cfg.Remote,
		bus:           cfg.Bus,
		logger:        cfg.Logger.WithComponent("reconcile"),
		metrics:       NewMetrics(),
		now:           cfg.Now,
		pollInterval:  cfg.PollInterval,
		maxFailures:   cfg.MaxFailures,
		concurrency:   cfg.Concurrency,
		settleWindow:  cfg.SettleWindow,
		startTimeout:  cfg.StartTimeout,
		queuedTimeout: cfg.QueuedTimeout,
		cancelTimeout: cfg.CancelTimeout,
		cancelRetry:   cfg.CancelRetry,
		ctx:           ctx,
		stop:          stop,
		tickerFactory: time.NewTicker,
	}
}

// Metrics returns the engine counters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Create validates a request and persists a QUEUED run. A non-terminal run
// with the same repository and branch is rejected as a duplicate.
func (e *Engine) Create(ctx context.Context, req core.CreateRunRequest) (*core.Run, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.Repository != "" {
		active, err := e.store.ListRuns(ctx, core.RunFilter{
			Repository: req.Repository,
			Statuses:   core.ActiveStatuses,
		})
		if err != nil {
			return nil, fmt.Errorf("checking active runs: %w", err)
		}
		for _, r := range active {
			if r.Branch == req.Branch {
				return nil, core.ErrConflict(core.CodeDuplicateRun,
					fmt.Sprintf("run %s is already active for %s", r.ID, correlationKey(req.Repository, req.Branch))).
					WithDetail("run_id", r.ID)
			}
		}
	}

	run := core.NewRun(req, e.now().UTC())
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	e.metrics.recordCreated()
	e.publish(events.NewRunCreatedEvent(run.ID, run.ProjectID, run.Repository, run.Branch, run.CreatedAt))
	e.logger.WithRun(run.ID).Info("run queued",
		"project_id", run.ProjectID,
		"repository", run.Repository,
		"branch", run.Branch)
	return run, nil
}

// Submit creates a run and launches it in the background. The returned
// record is QUEUED.
func (e *Engine) Submit(ctx context.Context, req core.CreateRunRequest) (*core.Run, error) {
	run, err := e.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	e.inflight.Store(run.ID, struct{}{})
	started := e.background(func(ctx context.Context) {
		defer e.inflight.Delete(run.ID)
		if err := e.Launch(ctx, run.ID); err != nil {
			e.logger.WithRun(run.ID).Warn("launch failed", "error", err)
		}
	})
	if !started {
		e.inflight.Delete(run.ID)
		e.logger.WithRun(run.ID).Warn("engine closed, run left queued")
	}
	return run, nil
}

// Launch starts the remote execution for a QUEUED run. Success moves the run
// to RUNNING; a start error or timeout fails it with source "start". A run
// that is no longer QUEUED is left alone.
func (e *Engine) Launch(ctx context.Context, runID string) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != core.RunStatusQueued || run.RemoteHandle != "" {
		return nil
	}
	logger := e.logger.WithRun(runID)

	startCtx, cancel := context.WithTimeout(ctx, e.startTimeout)
	handle, err := e.remote.Start(startCtx, core.StartRequest{
		Prompt:     run.Prompt,
		Repository: run.Repository,
		Metadata:   run.Metadata,
	})
	timedOut := errors.Is(startCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		// Shutdown: leave the run QUEUED for the next process's sweep.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reason := "start failed: " + errorReason(err)
		if timedOut {
			reason = fmt.Sprintf("start timed out after %s", e.startTimeout)
		}
		if _, terr := e.terminate(ctx, run, core.Termination{
			Status: core.RunStatusFailed,
			Source: core.SourceStart,
			Reason: reason,
		}); terr != nil {
			return terr
		}
		return err
	}

	// The remote conversation exists now; record it even during shutdown.
	ok, err := e.store.MarkRunning(context.WithoutCancel(ctx), runID, handle, e.now())
	if err != nil {
		e.cancelRemote(runID, handle)
		return fmt.Errorf("marking run running: %w", err)
	}
	if !ok {
		// Cancelled while starting.
		logger.Info("run left QUEUED before start confirmed, stopping remote", "remote_handle", handle)
		e.cancelRemote(runID, handle)
		return nil
	}

	e.metrics.recordStarted()
	if current, err := e.store.GetRun(context.WithoutCancel(ctx), runID); err == nil && current.IsTerminal() {
		// Cancel committed right after MarkRunning and stops the remote itself.
		logger.Info("run finished before start was announced", "status", current.Status)
		return nil
	}
	e.publish(events.NewRunStartedEvent(run.ID, run.ProjectID, handle, e.now()))
	logger.Info("run started", "remote_handle", handle)
	return nil
}

// Complete applies a webhook completion signal. It returns false when the
// run was already terminal or cannot complete from its current state.
func (e *Engine) Complete(ctx context.Context, runID string, ev core.PullRequestEvent) (bool, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return false, err
	}
	return e.terminate(ctx, run, core.Termination{
		Status:  core.RunStatusCompleted,
		Source:  core.SourceWebhook,
		Percent: 100,
		Reason:  fmt.Sprintf("%s %s #%d %s", ev.Provider, ev.Repository, ev.Number, ev.Action),
	})
}

// Cancel moves a non-terminal run to CANCELLED and asks the remote service to
// stop in the background. It returns false when the run was already terminal.
func (e *Engine) Cancel(ctx context.Context, runID, reason string) (bool, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return false, err
	}
	if reason == "" {
		reason = core.ReasonCancelled
	}
	applied, err := e.terminate(ctx, run, core.Termination{
		Status: core.RunStatusCancelled,
		Source: core.SourceCancel,
		Reason: reason,
	})
	if err != nil || !applied {
		return applied, err
	}
	// A launch may have recorded the handle after the read above.
	handle := run.RemoteHandle
	if current, err := e.store.GetRun(ctx, runID); err == nil {
		handle = current.RemoteHandle
	} else {
		e.logger.WithRun(runID).Warn("reloading cancelled run", "error", err)
	}
	if handle != "" {
		e.cancelRemote(runID, handle)
	}
	return true, nil
}

// cancelRemote stops a remote execution without blocking the caller.
func (e *Engine) cancelRemote(runID, handle string) {
	e.background(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, e.cancelTimeout)
		defer cancel()
		err := e.cancelRetry.Execute(ctx, func(ctx context.Context) error {
			return e.remote.Cancel(ctx, handle)
		})
		if err != nil {
			e.logger.WithRun(runID).Warn("remote cancel failed", "remote_handle", handle, "error", err)
		}
	})
}

// background runs fn on a tracked goroutine bound to the engine lifetime.
// It returns false once the engine is closed.
func (e *Engine) background(fn func(ctx context.Context)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
	return true
}

// Run sweeps active runs every poll interval until ctx is done, then waits
// for background launches and remote cancels to finish.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("reconcile engine started",
		"interval", e.pollInterval,
		"concurrency", e.concurrency,
		"max_failures", e.maxFailures)

	ticker := e.tickerFactory(e.pollInterval)
	defer ticker.Stop()

	e.sweepAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("reconcile engine stopping")
			e.Close()
			return nil
		case <-ticker.C:
			e.sweepAndLog(ctx)
		}
	}
}

func (e *Engine) sweepAndLog(ctx context.Context) {
	if err := e.Sweep(ctx); err != nil && ctx.Err() == nil {
		e.logger.Error("sweep failed", "error", err)
	}
}

// Wait blocks until background launches and remote cancels finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close cancels background work and waits for it.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.stop()
	e.wg.Wait()
}

// terminate commits a terminal transition through the store's compare-and-set.
// A lost race is not an error: it is logged at debug and reported as false.
func (e *Engine) terminate(ctx context.Context, run *core.Run, t core.Termination) (bool, error) {
	if t.At.IsZero() {
		t.At = e.now()
	}
	applied, err := e.store.Terminate(ctx, run.ID, t)
	if err != nil {
		return false, fmt.Errorf("terminating run: %w", err)
	}

	logger := e.logger.WithRun(run.ID)
	if !applied {
		e.metrics.recordSuppressed()
		logger.Debug("signal suppressed",
			"status", t.Status,
			"source", t.Source)
		return false, nil
	}

	e.metrics.recordTerminal(t.Status)
	if e.bus != nil {
		e.bus.PublishPriority(events.NewRunTerminalEvent(run.ID, run.ProjectID,
			string(t.Status), string(t.Source), t.Reason, t.At))
	}
	logger.Info("run finished",
		"status", t.Status,
		"source", t.Source,
		"reason", t.Reason)
	return true, nil
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func (e *Engine) isLaunching(runID string) bool {
	_, ok := e.inflight.Load(runID)
	return ok
}

func correlationKey(repository, branch string) string {
	if branch == "" {
		return repository
	}
	return repository + "@" + branch
}

// errorReason prefers the domain message over the decorated Error string.
func errorReason(err error) string {
	var domErr *core.DomainError
	if errors.As(err, &domErr) {
		return domErr.Message
	}
	return err.Error()
}
