package eventstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func appendAll(t *testing.T, store Store, events ...*BaseEvent) {
	t.Helper()
	for _, e := range events {
		require.NoError(t, store.Append(t.Context(), e))
	}
}

func must(t *testing.T) func(*BaseEvent, error) *BaseEvent {
	return func(e *BaseEvent, err error) *BaseEvent {
		t.Helper()
		require.NoError(t, err)
		return e
	}
}

func TestLatestRun_Summary(t *testing.T) {
	store := newStore(t)
	m := must(t)

	appendAll(t, store,
		m(NewRunStarted("r1", RunStartedPayload{Root: "with-dep@1", Packages: 2})),
		m(NewStatusChanged("r1", "dep@1", StatusChangedPayload{From: "pending", To: "building"})),
		m(NewStatusChanged("r1", "dep@1", StatusChangedPayload{From: "building", To: "failed", ExitCode: 1})),
		m(NewSkipped("r1", "with-dep@1", "dep@1")),
		m(NewRunCompleted("r1", RunCompletedPayload{Failed: 1, Skipped: 1})),
	)

	s, err := LatestRun(t.Context(), store)
	require.NoError(t, err)
	require.Equal(t, "r1", s.RunID)
	require.Equal(t, "with-dep@1", s.Root)
	require.Equal(t, "failed", s.Status)
	require.Equal(t, "failed", s.Packages["dep@1"])
	require.Equal(t, "skipped", s.Packages["with-dep@1"])
	require.NotNil(t, s.CompletedAt)

	appendAll(t, store,
		m(NewRunStarted("r2", RunStartedPayload{Root: "with-dep@1", Packages: 2})),
		m(NewCacheHit("r2", "dep@1", "fp")),
		m(NewRunCompleted("r2", RunCompletedPayload{Cached: 1, Built: 1})),
	)
	s, err = LatestRun(t.Context(), store)
	require.NoError(t, err)
	require.Equal(t, "r2", s.RunID)
	require.Equal(t, "completed", s.Status)
	require.Equal(t, "cached", s.Packages["dep@1"])
	require.Equal(t, 1, s.Built)
}

func TestLatestRun_Empty(t *testing.T) {
	_, err := LatestRun(t.Context(), newStore(t))
	require.ErrorIs(t, err, ErrNoRuns)
}

func TestSummarize_RunningWithoutCompletion(t *testing.T) {
	m := must(t)
	s := Summarize([]Event{m(NewRunStarted("r", RunStartedPayload{}))})
	require.Equal(t, "running", s.Status)
	require.Nil(t, s.CompletedAt)
	require.Nil(t, Summarize(nil))
}
