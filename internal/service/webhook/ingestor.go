// Package webhook turns verified source-control notifications into run
// completion signals.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/logging"
)

// Provider verifies and decodes one provider's webhook deliveries.
type Provider interface {
	Name() string
	// Verify authenticates a delivery. Failures are core.ErrAuth errors.
	Verify(header http.Header, body []byte) error
	// Parse returns nil for deliveries that carry no completion signal.
	Parse(header http.Header, body []byte) (*core.PullRequestEvent, error)
}

// Completer applies a completion signal to a run.
type Completer interface {
	Complete(ctx context.Context, runID string, ev core.PullRequestEvent) (bool, error)
}

// Result summarizes one delivery.
type Result struct {
	// Ignored is set when the delivery carried no completion signal.
	Ignored bool
	// Matched counts the active runs correlated with the event.
	Matched int
	// Completed lists runs this delivery moved to COMPLETED.
	Completed []string
}

// Ingestor correlates pull request events with active runs.
type Ingestor struct {
	store     core.RunStore
	completer Completer
	logger    *logging.Logger
	now       func() time.Time
}

// NewIngestor creates an ingestor.
func NewIngestor(store core.RunStore, completer Completer, logger *logging.Logger) *Ingestor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Ingestor{
		store:     store,
		completer: completer,
		logger:    logger.WithComponent("webhook"),
		now:       time.Now,
	}
}

// Handle verifies, decodes and ingests a raw delivery. Authentication
// failures are returned before the body is decoded.
func (i *Ingestor) Handle(ctx context.Context, p Provider, header http.Header, body []byte) (Result, error) {
	if err := p.Verify(header, body); err != nil {
		i.logger.Warn("webhook rejected", "provider", p.Name(), "error", err)
		return Result{}, err
	}
	ev, err := p.Parse(header, body)
	if err != nil {
		return Result{}, err
	}
	if ev == nil {
		i.logger.Debug("webhook ignored", "provider", p.Name())
		return Result{Ignored: true}, nil
	}
	return i.Ingest(ctx, *ev)
}

// Ingest completes every active run whose correlation key matches ev and
// records the pull request as an artifact. No match is not an error. Runs
// keyed by branch alone carry no repository, so the whole active set is
// scanned rather than filtered by repository in the store.
func (i *Ingestor) Ingest(ctx context.Context, ev core.PullRequestEvent) (Result, error) {
	runs, err := i.store.ListRuns(ctx, core.RunFilter{Statuses: core.ActiveStatuses})
	if err != nil {
		return Result{}, fmt.Errorf("finding runs for %s: %w", ev.Repository, err)
	}

	var (
		res  Result
		errs []error
	)
	for _, run := range runs {
		if !run.MatchesPullRequest(ev) {
			continue
		}
		res.Matched++

		applied, err := i.completer.Complete(ctx, run.ID, ev)
		if err != nil {
			errs = append(errs, fmt.Errorf("completing %s: %w", run.ID, err))
			continue
		}
		if !applied {
			continue
		}
		res.Completed = append(res.Completed, run.ID)
		if err := i.store.AddArtifact(ctx, core.NewPRArtifact(run.ID, ev, i.now().UTC())); err != nil {
			errs = append(errs, fmt.Errorf("recording pull request for %s: %w", run.ID, err))
		}
	}

	i.logger.Info("webhook processed",
		"provider", ev.Provider,
		"repository", ev.Repository,
		"branch", ev.Branch,
		"number", ev.Number,
		"action", ev.Action,
		"matched", res.Matched,
		"completed", len(res.Completed))
	return res, errors.Join(errs...)
}
