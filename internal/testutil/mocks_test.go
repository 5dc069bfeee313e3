package testutil_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/testutil"
)

func TestMockRemote_StartSequence(t *testing.T) {
	mock := testutil.NewMockRemote()

	h1, err := mock.Start(context.Background(), core.StartRequest{Prompt: "a"})
	testutil.AssertNoError(t, err)
	h2, err := mock.Start(context.Background(), core.StartRequest{Prompt: "b"})
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, h1, "conv-1")
	testutil.AssertEqual(t, h2, "conv-2")
	testutil.AssertEqual(t, mock.CallCount("Start"), 2)
}

func TestMockRemote_StartError(t *testing.T) {
	mock := testutil.NewMockRemote().WithStartError(testutil.ErrTest)
	_, err := mock.Start(context.Background(), core.StartRequest{})
	if !errors.Is(err, testutil.ErrTest) {
		t.Fatalf("got %v, want %v", err, testutil.ErrTest)
	}
}

func TestMockRemote_ScriptedStatuses(t *testing.T) {
	mock := testutil.NewMockRemote().
		QueueStatus("c", core.RunStatusRunning, 30).
		QueueError("c", testutil.ErrTest).
		QueueStatus("c", core.RunStatusCompleted, 100)
	ctx := context.Background()

	st, err := mock.FetchStatus(ctx, "c")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, st.Percent, 30)

	_, err = mock.FetchStatus(ctx, "c")
	testutil.AssertError(t, err)

	st, err = mock.FetchStatus(ctx, "c")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, st.Status, core.RunStatusCompleted)

	// Exhausted scripts repeat the last answer
	st, err = mock.FetchStatus(ctx, "c")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, st.Status, core.RunStatusCompleted)
}

func TestMockRemote_UnscriptedHandleIsRunning(t *testing.T) {
	st, err := testutil.NewMockRemote().FetchStatus(context.Background(), "unknown")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, st.Status, core.RunStatusRunning)
	testutil.AssertEqual(t, st.Percent, 0)
}

func TestMockRemote_HealthAndReset(t *testing.T) {
	mock := testutil.NewMockRemote()
	testutil.AssertNoError(t, mock.Health(context.Background()))

	mock.WithHealthError(testutil.ErrTest)
	testutil.AssertError(t, mock.Health(context.Background()))
	testutil.AssertEqual(t, mock.CallCount("Health"), 2)

	mock.Reset()
	testutil.AssertEqual(t, len(mock.Calls()), 0)
}

func TestClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := testutil.NewClock(start)
	testutil.AssertTrue(t, c.Now().Equal(start), "clock starts frozen")

	c.Advance(time.Minute)
	testutil.AssertTrue(t, c.Now().Equal(start.Add(time.Minute)), "clock advances")
}
