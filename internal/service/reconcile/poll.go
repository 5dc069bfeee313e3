package reconcile

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/events"
)

// Sweep makes one pass over every non-terminal run in the store. RUNNING runs
// are polled; QUEUED runs that outlived the queued timeout without a launch
// in this process are failed. At most Concurrency runs are handled at once.
func (e *Engine) Sweep(ctx context.Context) error {
	start := e.now()
	runs, err := e.store.ListRuns(ctx, core.RunFilter{Statuses: core.ActiveStatuses})
	if err != nil {
		return fmt.Errorf("listing active runs: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, run := range runs {
		run := run
		g.Go(func() error {
			var err error
			if run.Status == core.RunStatusQueued {
				err = e.expireQueued(gctx, run)
			} else {
				err = e.Poll(gctx, run.ID)
			}
			// One run's failure must not cancel the rest of the sweep.
			if err != nil && gctx.Err() == nil {
				e.logger.WithRun(run.ID).Warn("reconcile failed", "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	e.metrics.recordSweep(start, e.now().Sub(start), len(runs))
	return ctx.Err()
}

// expireQueued fails a run stuck in QUEUED, typically because the process
// that launched it stopped before the remote start returned.
func (e *Engine) expireQueued(ctx context.Context, run *core.Run) error {
	if run.RemoteHandle != "" || e.isLaunching(run.ID) {
		return nil
	}
	if e.now().Sub(run.CreatedAt) < e.queuedTimeout {
		return nil
	}
	_, err := e.terminate(ctx, run, core.Termination{
		Status: core.RunStatusFailed,
		Source: core.SourceSweep,
		Reason: core.ReasonStartInterrupted,
	})
	return err
}

// Poll performs one poll tick for a run.
func (e *Engine) Poll(ctx context.Context, runID string) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	// Cancelled or otherwise finished runs are never polled again.
	if run.IsTerminal() || run.Status != core.RunStatusRunning || run.RemoteHandle == "" {
		return nil
	}
	logger := e.logger.WithRun(runID)

	if run.PendingFailureAt != nil && e.now().Sub(*run.PendingFailureAt) >= e.settleWindow {
		_, err := e.terminate(ctx, run, core.Termination{
			Status: core.RunStatusFailed,
			Source: core.SourcePoll,
			Reason: run.PendingFailure,
		})
		return err
	}

	status, err := e.remote.FetchStatus(ctx, run.RemoteHandle)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	e.metrics.recordPoll(err)
	if err != nil {
		return e.handlePollError(ctx, run, err)
	}

	switch status.Status {
	case core.RunStatusCompleted:
		applied, err := e.terminate(ctx, run, core.Termination{
			Status:  core.RunStatusCompleted,
			Source:  core.SourcePoll,
			Percent: 100,
			Raw:     status.Raw,
		})
		if err != nil || !applied {
			return err
		}
		return e.recordFinalPayload(ctx, run.ID, status.Raw)

	case core.RunStatusFailed:
		if _, err := e.store.RecordProgress(ctx, runID, core.ProgressUpdate{
			Percent: status.Percent,
			Raw:     status.Raw,
			At:      e.now(),
		}); err != nil {
			return fmt.Errorf("recording progress: %w", err)
		}
		reason := remoteFailureReason(status)
		if e.settleWindow == 0 {
			_, err := e.terminate(ctx, run, core.Termination{
				Status: core.RunStatusFailed,
				Source: core.SourcePoll,
				Reason: reason,
				Raw:    status.Raw,
			})
			return err
		}
		staged, err := e.store.StagePendingFailure(ctx, runID, reason, e.now())
		if err != nil {
			return fmt.Errorf("staging failure: %w", err)
		}
		if staged {
			logger.Info("remote failure staged", "reason", reason, "settle_window", e.settleWindow)
		}
		return nil

	default:
		at := e.now()
		if _, err := e.store.RecordProgress(ctx, runID, core.ProgressUpdate{
			Percent: status.Percent,
			Raw:     status.Raw,
			At:      at,
		}); err != nil {
			return fmt.Errorf("recording progress: %w", err)
		}
		if pct := core.ClampPercent(status.Percent); pct > run.Percent {
			e.publish(events.NewRunProgressEvent(run.ID, run.ProjectID, pct, at))
			logger.Debug("progress", "percent", pct)
		}
		return nil
	}
}

// handlePollError counts transient failures and fails the run once the bound
// is reached. Fatal errors fail the run immediately.
func (e *Engine) handlePollError(ctx context.Context, run *core.Run, fetchErr error) error {
	logger := e.logger.WithRun(run.ID)

	if !core.IsTransientUpstream(fetchErr) {
		logger.Warn("remote rejected status request", "error", fetchErr)
		_, err := e.terminate(ctx, run, core.Termination{
			Status: core.RunStatusFailed,
			Source: core.SourcePoll,
			Reason: "remote error: " + errorReason(fetchErr),
		})
		return err
	}

	failures, err := e.store.RecordPollFailure(ctx, run.ID, e.now())
	if err != nil {
		return fmt.Errorf("recording poll failure: %w", err)
	}
	logger.Debug("transient poll failure", "failures", failures, "max", e.maxFailures, "error", fetchErr)
	if failures < e.maxFailures {
		return nil
	}

	_, err = e.terminate(ctx, run, core.Termination{
		Status: core.RunStatusFailed,
		Source: core.SourcePoll,
		Reason: core.ReasonRemoteUnreachable,
	})
	return err
}

// recordFinalPayload keeps the remote's final conversation payload as a log
// artifact of the run.
func (e *Engine) recordFinalPayload(ctx context.Context, runID string, raw map[string]interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	artifact := &core.Artifact{
		ID:        core.NewArtifactID(),
		RunID:     runID,
		Type:      core.ArtifactTypeLog,
		Content:   e.logger.Sanitizer().SanitizeMap(raw),
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.AddArtifact(ctx, artifact); err != nil {
		return fmt.Errorf("recording final payload: %w", err)
	}
	return nil
}

func remoteFailureReason(status *core.RemoteStatus) string {
	if s, ok := status.Raw["status"].(string); ok && s != "" {
		return fmt.Sprintf("%s (%s)", core.ReasonRemoteFailed, strings.ToUpper(s))
	}
	return core.ReasonRemoteFailed
}
