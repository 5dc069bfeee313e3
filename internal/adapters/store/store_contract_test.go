package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newContractRun(id string, offset time.Duration) *core.Run {
	at := baseTime.Add(offset)
	return &core.Run{
		ID:         id,
		ProjectID:  "proj",
		Status:     core.RunStatusQueued,
		Prompt:     "build the thing",
		Repository: "acme/widgets",
		Branch:     "feature/" + id,
		Metadata:   map[string]interface{}{"ticket": "T-1"},
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

// runStoreContract exercises the behaviour every RunStore backend must share.
func runStoreContract(t *testing.T, open func(t *testing.T) core.RunStore) {
	t.Run("CreateAndGet", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		run := newContractRun("run_a", 0)
		require.NoError(t, s.CreateRun(ctx, run))

		got, err := s.GetRun(ctx, "run_a")
		require.NoError(t, err)
		assert.Equal(t, core.RunStatusQueued, got.Status)
		assert.Equal(t, "proj", got.ProjectID)
		assert.Equal(t, "acme/widgets", got.Repository)
		assert.Equal(t, "feature/run_a", got.Branch)
		assert.Equal(t, "T-1", got.Metadata["ticket"])
		assert.Empty(t, got.RemoteHandle)
		assert.True(t, got.CreatedAt.Equal(baseTime))
		assert.Nil(t, got.StartedAt)
		assert.Nil(t, got.FinishedAt)

		_, err = s.GetRun(ctx, "run_missing")
		require.Error(t, err)
		assert.True(t, core.IsNotFound(err))
	})

	t.Run("ListOrderingAndFilters", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		for i, id := range []string{"run_3", "run_1", "run_2"} {
			r := newContractRun(id, time.Duration(i)*time.Second)
			if id == "run_2" {
				r.ProjectID = "other"
				r.Repository = "Acme/API"
			}
			require.NoError(t, s.CreateRun(ctx, r))
		}

		all, err := s.ListRuns(ctx, core.RunFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"run_3", "run_1", "run_2"}, runIDs(all))

		byProject, err := s.ListRuns(ctx, core.RunFilter{ProjectID: "proj"})
		require.NoError(t, err)
		assert.Equal(t, []string{"run_3", "run_1"}, runIDs(byProject))

		byRepo, err := s.ListRuns(ctx, core.RunFilter{Repository: "acme/api"})
		require.NoError(t, err)
		assert.Equal(t, []string{"run_2"}, runIDs(byRepo))

		page, err := s.ListRuns(ctx, core.RunFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"run_1"}, runIDs(page))

		tail, err := s.ListRuns(ctx, core.RunFilter{Offset: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"run_2"}, runIDs(tail))

		ok, err := s.MarkRunning(ctx, "run_1", "h1", baseTime.Add(time.Minute))
		require.NoError(t, err)
		require.True(t, ok)

		running, err := s.ListRuns(ctx, core.RunFilter{Statuses: []core.RunStatus{core.RunStatusRunning}})
		require.NoError(t, err)
		assert.Equal(t, []string{"run_1"}, runIDs(running))

		active, err := s.ListRuns(ctx, core.RunFilter{Statuses: core.ActiveStatuses})
		require.NoError(t, err)
		assert.Len(t, active, 3)
	})

	t.Run("MarkRunningOnce", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.CreateRun(ctx, newContractRun("run_m", 0)))

		at := baseTime.Add(time.Second)
		ok, err := s.MarkRunning(ctx, "run_m", "remote-1", at)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.MarkRunning(ctx, "run_m", "remote-2", at)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetRun(ctx, "run_m")
		require.NoError(t, err)
		assert.Equal(t, core.RunStatusRunning, got.Status)
		assert.Equal(t, "remote-1", got.RemoteHandle)
		require.NotNil(t, got.StartedAt)
		assert.True(t, got.StartedAt.Equal(at))
	})

	t.Run("ProgressIsMonotonic", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.CreateRun(ctx, newContractRun("run_p", 0)))
		_, err := s.MarkRunning(ctx, "run_p", "h", baseTime)
		require.NoError(t, err)

		t1 := baseTime.Add(10 * time.Second)
		ok, err := s.RecordProgress(ctx, "run_p", core.ProgressUpdate{Percent: 60, At: t1, Raw: map[string]interface{}{"status": "RUNNING"}})
		require.NoError(t, err)
		assert.True(t, ok)

		t2 := baseTime.Add(20 * time.Second)
		_, err = s.RecordProgress(ctx, "run_p", core.ProgressUpdate{Percent: 30, At: t2})
		require.NoError(t, err)

		got, err := s.GetRun(ctx, "run_p")
		require.NoError(t, err)
		assert.Equal(t, 60, got.Percent)
		assert.True(t, got.UpdatedAt.Equal(t1), "updated_at must not advance when percent does not rise")
		assert.Equal(t, "RUNNING", got.Raw["status"])

		_, err = s.RecordProgress(ctx, "run_p", core.ProgressUpdate{Percent: 150, At: t2})
		require.NoError(t, err)
		got, err = s.GetRun(ctx, "run_p")
		require.NoError(t, err)
		assert.Equal(t, 100, got.Percent)
	})

	t.Run("PollFailureCounter", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.CreateRun(ctx, newContractRun("run_f", 0)))

		n, err := s.RecordPollFailure(ctx, "run_f", baseTime)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = s.RecordPollFailure(ctx, "run_f", baseTime)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = s.RecordProgress(ctx, "run_f", core.ProgressUpdate{Percent: 10, At: baseTime})
		require.NoError(t, err)
		got, err := s.GetRun(ctx, "run_f")
		require.NoError(t, err)
		assert.Equal(t, 0, got.PollFailures)

		_, err = s.Terminate(ctx, "run_f", core.Termination{Status: core.RunStatusFailed, Source: core.SourcePoll, At: baseTime})
		require.NoError(t, err)
		n, err = s.RecordPollFailure(ctx, "run_f", baseTime)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("StagePendingFailureKeepsFirst", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.CreateRun(ctx, newContractRun("run_s", 0)))

		ok, err := s.StagePendingFailure(ctx, "run_s", "first", baseTime)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.StagePendingFailure(ctx, "run_s", "second", baseTime.Add(time.Second))
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetRun(ctx, "run_s")
		require.NoError(t, err)
		assert.Equal(t, "first", got.PendingFailure)
		require.NotNil(t, got.PendingFailureAt)
		assert.True(t, got.PendingFailureAt.Equal(baseTime))
	})

	t.Run("TerminateIsCompareAndSet", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.CreateRun(ctx, newContractRun("run_t", 0)))
		_, err := s.MarkRunning(ctx, "run_t", "h", baseTime)
		require.NoError(t, err)
		_, err = s.StagePendingFailure(ctx, "run_t", "remote said no", baseTime)
		require.NoError(t, err)

		done := baseTime.Add(time.Minute)
		ok, err := s.Terminate(ctx, "run_t", core.Termination{
			Status: core.RunStatusCompleted, Source: core.SourceWebhook, Percent: 100, At: done,
		})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Terminate(ctx, "run_t", core.Termination{
			Status: core.RunStatusFailed, Source: core.SourcePoll, Reason: "late", At: done.Add(time.Second),
		})
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetRun(ctx, "run_t")
		require.NoError(t, err)
		assert.Equal(t, core.RunStatusCompleted, got.Status)
		assert.Equal(t, core.SourceWebhook, got.CompletionSource)
		assert.Equal(t, 100, got.Percent)
		assert.Empty(t, got.PendingFailure)
		assert.Nil(t, got.PendingFailureAt)
		require.NotNil(t, got.FinishedAt)
		assert.True(t, got.FinishedAt.Equal(done))

		trs, err := s.ListTransitions(ctx, "run_t")
		require.NoError(t, err)
		require.Len(t, trs, 2)
		assert.Equal(t, core.RunStatusQueued, trs[0].From)
		assert.Equal(t, core.RunStatusRunning, trs[0].To)
		assert.Equal(t, core.RunStatusRunning, trs[1].From)
		assert.Equal(t, core.RunStatusCompleted, trs[1].To)
		assert.Equal(t, core.SourceWebhook, trs[1].Source)
	})

	t.Run("TerminateRejectsNonTerminalStatus", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.CreateRun(ctx, newContractRun("run_x", 0)))
		_, err := s.Terminate(ctx, "run_x", core.Termination{Status: core.RunStatusRunning, At: baseTime})
		require.Error(t, err)
		assert.True(t, core.IsCategory(err, core.ErrCatState))
	})

	t.Run("QueuedCannotComplete", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.CreateRun(ctx, newContractRun("run_q", 0)))
		ok, err := s.Terminate(ctx, "run_q", core.Termination{Status: core.RunStatusCompleted, Source: core.SourceWebhook, At: baseTime})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ConcurrentTerminateSingleWinner", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.CreateRun(ctx, newContractRun("run_c", 0)))
		_, err := s.MarkRunning(ctx, "run_c", "h", baseTime)
		require.NoError(t, err)

		const writers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				status := core.RunStatusCompleted
				if i%2 == 1 {
					status = core.RunStatusFailed
				}
				ok, err := s.Terminate(ctx, "run_c", core.Termination{Status: status, Source: core.SourcePoll, At: baseTime})
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)

		trs, err := s.ListTransitions(ctx, "run_c")
		require.NoError(t, err)
		assert.Len(t, trs, 2)
	})

	t.Run("Artifacts", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.CreateRun(ctx, newContractRun("run_art", 0)))

		a := core.NewPRArtifact("run_art", core.PullRequestEvent{
			Provider: "github", Repository: "acme/widgets", Number: 7, URL: "https://example.test/pr/7",
		}, baseTime)
		require.NoError(t, s.AddArtifact(ctx, a))

		list, err := s.ListArtifacts(ctx, "run_art")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, core.ArtifactTypePR, list[0].Type)
		assert.Equal(t, "https://example.test/pr/7", list[0].URL)
		assert.Equal(t, "github", list[0].Content["provider"])

		empty, err := s.ListArtifacts(ctx, "run_none")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func runIDs(runs []*core.Run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}
