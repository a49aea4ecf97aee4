package stores

import (
	"context"
	"testing"
	"time"

	"github.com/colonyops/taskwatch/internal/core/notify"
	"github.com/colonyops/taskwatch/internal/data/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNotifyStore(t *testing.T) *NotifyStore {
	t.Helper()
	database, err := db.Open(t.TempDir(), db.DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return NewNotifyStore(database)
}

func TestNotifyStore(t *testing.T) {
	ctx := context.Background()

	t.Run("append and list", func(t *testing.T) {
		store := newTestNotifyStore(t)

		rec, err := store.Append(ctx, notify.Record{
			Type:          notify.TypeTaskCompleted,
			RecipientRole: notify.RoleSupervisor,
			RecipientID:   "sup1",
			OwnerID:       "u1",
			TaskID:        "t1",
			Status:        notify.StatusDelivered,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, rec.ID)
		assert.False(t, rec.CreatedAt.IsZero())

		items, err := store.List(ctx, notify.Filter{OwnerID: "u1"})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, rec.ID, items[0].ID)
		assert.Equal(t, notify.TypeTaskCompleted, items[0].Type)
		assert.Equal(t, "sup1", items[0].RecipientID)
		assert.Empty(t, items[0].RetryOf)
	})

	t.Run("list is oldest first and filters", func(t *testing.T) {
		store := newTestNotifyStore(t)

		base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		for i, owner := range []string{"u1", "u2", "u1"} {
			_, err := store.Append(ctx, notify.Record{
				Type:          notify.TypeTaskAlarm,
				RecipientRole: notify.RoleOwner,
				RecipientID:   owner,
				OwnerID:       owner,
				TaskID:        "t1",
				Message:       owner,
				Status:        notify.StatusDelivered,
				CreatedAt:     base.Add(time.Duration(i) * time.Second),
			})
			require.NoError(t, err)
		}

		items, err := store.List(ctx, notify.Filter{OwnerID: "u1"})
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.True(t, items[0].CreatedAt.Before(items[1].CreatedAt))

		all, err := store.List(ctx, notify.Filter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("pending excludes delivered retries", func(t *testing.T) {
		store := newTestNotifyStore(t)

		queued, err := store.Append(ctx, notify.Record{
			Type:          notify.TypeTaskCompleted,
			RecipientRole: notify.RoleSupervisor,
			OwnerID:       "u1",
			TaskID:        "t1",
			Status:        notify.StatusQueued,
		})
		require.NoError(t, err)

		undelivered, err := store.Append(ctx, notify.Record{
			Type:          notify.TypeTaskCompleted,
			RecipientRole: notify.RoleSupervisor,
			RecipientID:   "sup1",
			OwnerID:       "u1",
			TaskID:        "t2",
			Status:        notify.StatusUndelivered,
		})
		require.NoError(t, err)

		pending, err := store.Pending(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, pending, 2)

		_, err = store.Append(ctx, notify.Record{
			Type:          queued.Type,
			RecipientRole: queued.RecipientRole,
			RecipientID:   "sup1",
			OwnerID:       "u1",
			TaskID:        "t1",
			Status:        notify.StatusDelivered,
			RetryOf:       queued.ID,
		})
		require.NoError(t, err)

		pending, err = store.Pending(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, undelivered.ID, pending[0].ID)

		// The original queued record is never rewritten.
		items, err := store.List(ctx, notify.Filter{OwnerID: "u1", Status: notify.StatusQueued})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, queued.ID, items[0].ID)
	})
}
