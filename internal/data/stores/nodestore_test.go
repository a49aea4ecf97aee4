package stores

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/colonyops/taskwatch/internal/core/remote"
	"github.com/colonyops/taskwatch/internal/data/db"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNodeStore(t *testing.T, opts ...NodeStoreOption) *NodeStore {
	t.Helper()
	database, err := db.Open(t.TempDir(), db.DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return NewNodeStore(database, zerolog.Nop(), opts...)
}

type doc struct {
	Title  string `json:"title"`
	Status string `json:"status,omitempty"`
}

func decodeMap(t *testing.T, snap remote.Snapshot) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(snap.Value, &m))
	return m
}

func TestNodeStore_WriteAndRead(t *testing.T) {
	ctx := context.Background()

	t.Run("missing path", func(t *testing.T) {
		store := newTestNodeStore(t)

		snap, err := store.ReadOnce(ctx, "users/u1/tasks")
		require.NoError(t, err)
		assert.False(t, snap.Exists)
		assert.Equal(t, int64(0), snap.Revision)
	})

	t.Run("collection assembles children", func(t *testing.T) {
		store := newTestNodeStore(t)

		require.NoError(t, store.Write(ctx, "users/u1/tasks/t1", doc{Title: "water plants"}))
		require.NoError(t, store.Write(ctx, "users/u1/tasks/t2", doc{Title: "take pills"}))
		require.NoError(t, store.Write(ctx, "users/u2/tasks/t3", doc{Title: "other owner"}))

		snap, err := store.ReadOnce(ctx, "users/u1/tasks")
		require.NoError(t, err)
		require.True(t, snap.Exists)
		assert.Equal(t, int64(3), snap.Revision)

		children, err := snap.Children()
		require.NoError(t, err)
		require.Len(t, children, 2)

		var t1 doc
		require.NoError(t, json.Unmarshal(children["t1"], &t1))
		assert.Equal(t, "water plants", t1.Title)
	})

	t.Run("write replaces subtree", func(t *testing.T) {
		store := newTestNodeStore(t)

		require.NoError(t, store.Write(ctx, "users/u1/tasks/t1", doc{Title: "a"}))
		require.NoError(t, store.Write(ctx, "users/u1/tasks", map[string]any{"t9": doc{Title: "z"}}))

		snap, err := store.ReadOnce(ctx, "users/u1/tasks/t1")
		require.NoError(t, err)
		assert.False(t, snap.Exists)

		snap, err = store.ReadOnce(ctx, "users/u1/tasks/t9")
		require.NoError(t, err)
		assert.True(t, snap.Exists)
	})

	t.Run("nested write into existing document", func(t *testing.T) {
		store := newTestNodeStore(t)

		require.NoError(t, store.Write(ctx, "users/u1/supervisor", map[string]any{"supervisorId": "s1"}))
		require.NoError(t, store.Write(ctx, "users/u1/supervisor/note", "hello"))

		snap, err := store.ReadOnce(ctx, "users/u1/supervisor")
		require.NoError(t, err)
		m := decodeMap(t, snap)
		assert.Equal(t, "s1", m["supervisorId"])
		assert.Equal(t, "hello", m["note"])

		leaf, err := store.ReadOnce(ctx, "users/u1/supervisor/note")
		require.NoError(t, err)
		assert.JSONEq(t, `"hello"`, string(leaf.Value))
	})

	t.Run("invalid path", func(t *testing.T) {
		store := newTestNodeStore(t)

		err := store.Write(ctx, "users//tasks", doc{})
		require.ErrorIs(t, err, remote.ErrInvalidPath)
	})
}

func TestNodeStore_WritePartial(t *testing.T) {
	ctx := context.Background()

	t.Run("merges and preserves other fields", func(t *testing.T) {
		store := newTestNodeStore(t)

		require.NoError(t, store.Write(ctx, "users/u1/tasks/t1", map[string]any{
			"title":       "water plants",
			"status":      "pending",
			"description": "kitchen window",
		}))
		require.NoError(t, store.WritePartial(ctx, "users/u1/tasks/t1", map[string]any{
			"status": "done",
			"doneAt": "2026-03-01T09:00:00Z",
		}))

		snap, err := store.ReadOnce(ctx, "users/u1/tasks/t1")
		require.NoError(t, err)
		m := decodeMap(t, snap)
		assert.Equal(t, "done", m["status"])
		assert.Equal(t, "water plants", m["title"])
		assert.Equal(t, "kitchen window", m["description"])
		assert.Equal(t, "2026-03-01T09:00:00Z", m["doneAt"])
	})

	t.Run("nil removes field", func(t *testing.T) {
		store := newTestNodeStore(t)

		require.NoError(t, store.Write(ctx, "users/u1/tasks/t1", map[string]any{
			"status": "done",
			"doneAt": "2026-03-01T09:00:00Z",
		}))
		require.NoError(t, store.WritePartial(ctx, "users/u1/tasks/t1", map[string]any{
			"status": "pending",
			"doneAt": nil,
		}))

		snap, err := store.ReadOnce(ctx, "users/u1/tasks/t1")
		require.NoError(t, err)
		m := decodeMap(t, snap)
		assert.Equal(t, "pending", m["status"])
		assert.NotContains(t, m, "doneAt")
	})

	t.Run("creates missing document", func(t *testing.T) {
		store := newTestNodeStore(t)

		require.NoError(t, store.WritePartial(ctx, "users/u1/alarms/t1", map[string]any{"status": "cancelled"}))

		snap, err := store.ReadOnce(ctx, "users/u1/alarms/t1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":"cancelled"}`, string(snap.Value))
	})
}

func TestNodeStore_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("missing document is not created", func(t *testing.T) {
		store := newTestNodeStore(t)

		rev, err := store.Revision(ctx)
		require.NoError(t, err)

		err = store.Update(ctx, "users/u1/tasks/t1", map[string]any{"status": "done"})
		require.ErrorIs(t, err, remote.ErrNotFound)

		snap, err := store.ReadOnce(ctx, "users/u1/tasks/t1")
		require.NoError(t, err)
		assert.False(t, snap.Exists)
		assert.Equal(t, rev, snap.Revision, "failed update leaves the revision alone")
	})

	t.Run("merges into existing document", func(t *testing.T) {
		store := newTestNodeStore(t)

		require.NoError(t, store.Write(ctx, "users/u1/tasks/t1", map[string]any{"title": "water plants", "status": "pending"}))
		require.NoError(t, store.Update(ctx, "users/u1/tasks/t1", map[string]any{"status": "done"}))

		snap, err := store.ReadOnce(ctx, "users/u1/tasks/t1")
		require.NoError(t, err)
		m := decodeMap(t, snap)
		assert.Equal(t, "done", m["status"])
		assert.Equal(t, "water plants", m["title"])
	})

	t.Run("nested in ancestor document", func(t *testing.T) {
		store := newTestNodeStore(t)

		require.NoError(t, store.Write(ctx, "users/u1", map[string]any{
			"tasks": map[string]any{"t1": map[string]any{"title": "a"}},
		}))
		require.NoError(t, store.Update(ctx, "users/u1/tasks/t1", map[string]any{"status": "done"}))

		err := store.Update(ctx, "users/u1/tasks/t2", map[string]any{"status": "done"})
		require.ErrorIs(t, err, remote.ErrNotFound)

		snap, err := store.ReadOnce(ctx, "users/u1/tasks")
		require.NoError(t, err)
		children, err := snap.Children()
		require.NoError(t, err)
		assert.Len(t, children, 1)
		assert.JSONEq(t, `{"title":"a","status":"done"}`, string(children["t1"]))
	})
}

func TestNodeStore_PushAndDelete(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newTestNodeStore(t, WithClock(func() time.Time { return now }))

	k1, err := store.Push(ctx, "supervisors/s1/notifications", map[string]any{"type": "task_completed"})
	require.NoError(t, err)
	now = now.Add(time.Second)
	k2, err := store.Push(ctx, "supervisors/s1/notifications", map[string]any{"type": "task_completed"})
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
	assert.Less(t, k1, k2, "push keys sort in creation order")

	snap, err := store.ReadOnce(ctx, "supervisors/s1/notifications")
	require.NoError(t, err)
	children, err := snap.Children()
	require.NoError(t, err)
	assert.Len(t, children, 2)

	require.NoError(t, store.Delete(ctx, "supervisors/s1"))
	snap, err = store.ReadOnce(ctx, "supervisors/s1/notifications")
	require.NoError(t, err)
	assert.False(t, snap.Exists)
}

func TestNodeStore_RevisionsIncrease(t *testing.T) {
	ctx := context.Background()
	store := newTestNodeStore(t)

	var last int64
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Write(ctx, "users/u1/tasks/t1", doc{Title: "a", Status: "pending"}))
		snap, err := store.ReadOnce(ctx, "users/u1/tasks")
		require.NoError(t, err)
		assert.Greater(t, snap.Revision, last)
		last = snap.Revision
	}
}

func TestNodeStore_Subscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newTestNodeStore(t, WithPollInterval(0))

	require.NoError(t, store.Write(ctx, "users/u1/tasks/t1", doc{Title: "a"}))

	ch, err := store.Subscribe(ctx, "users/u1/tasks")
	require.NoError(t, err)

	first := receive(t, ch)
	require.True(t, first.Exists)

	// Writes elsewhere do not produce a snapshot for this path.
	require.NoError(t, store.Write(ctx, "users/u2/tasks/t1", doc{Title: "b"}))
	require.NoError(t, store.WritePartial(ctx, "users/u1/tasks/t1", map[string]any{"status": "done"}))

	next := receive(t, ch)
	assert.Greater(t, next.Revision, first.Revision)

	var tasks map[string]doc
	require.NoError(t, next.Decode(&tasks))
	assert.Equal(t, "done", tasks["t1"].Status)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestNodeStore_SubscribeExternalChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	writerDB, err := db.Open(dir, db.DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = writerDB.Close() })
	readerDB, err := db.Open(dir, db.DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = readerDB.Close() })

	writer := NewNodeStore(writerDB, zerolog.Nop())
	reader := NewNodeStore(readerDB, zerolog.Nop(), WithPollInterval(0))

	ch, err := reader.Subscribe(ctx, "users/u1/tasks")
	require.NoError(t, err)
	first := receive(t, ch)
	assert.False(t, first.Exists)

	require.NoError(t, writer.Write(ctx, "users/u1/tasks/t1", doc{Title: "from another process"}))
	reader.NotifyChanged()

	next := receive(t, ch)
	assert.True(t, next.Exists)
}

func TestSendLatest_KeepsNewest(t *testing.T) {
	out := make(chan remote.Snapshot, 1)
	sendLatest(out, remote.Snapshot{Revision: 1})
	sendLatest(out, remote.Snapshot{Revision: 2})
	sendLatest(out, remote.Snapshot{Revision: 3})

	got := <-out
	assert.Equal(t, int64(3), got.Revision)
}

func receive(t *testing.T, ch <-chan remote.Snapshot) remote.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return remote.Snapshot{}
	}
}
