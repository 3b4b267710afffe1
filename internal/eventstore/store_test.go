package eventstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEventStoreAppendAndRetrieve(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()

	e, err := NewStatusChanged("run-1", "dep@1.0.0", StatusChangedPayload{From: "pending", To: "building"})
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, e))

	events, err := store.GetByRunID(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "run-1", events[0].RunID())
	require.Equal(t, "dep@1.0.0", events[0].Package())
	require.Equal(t, TypeStatusChanged, events[0].Type())
	require.JSONEq(t, `{"from":"pending","to":"building"}`, string(events[0].Payload()))
	require.NotZero(t, events[0].ID())
}

func TestEventStoreGetRange(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()

	old := &BaseEvent{EventRunID: "old", EventType: TypeRunStarted, EventTimestamp: time.Now().Add(-48 * time.Hour)}
	recent := &BaseEvent{EventRunID: "new", EventType: TypeRunStarted, EventTimestamp: time.Now()}
	require.NoError(t, store.Append(ctx, old))
	require.NoError(t, store.Append(ctx, recent))

	events, err := store.GetRange(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "new", events[0].RunID())
}

func TestEventStoreLatestRunID(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()

	id, err := store.LatestRunID(ctx)
	require.NoError(t, err)
	require.Empty(t, id)

	for _, run := range []string{"a", "b", "c"} {
		e, err := NewRunStarted(run, RunStartedPayload{Root: "app@1"})
		require.NoError(t, err)
		require.NoError(t, store.Append(ctx, e))
	}
	id, err = store.LatestRunID(ctx)
	require.NoError(t, err)
	require.Equal(t, "c", id)
}
