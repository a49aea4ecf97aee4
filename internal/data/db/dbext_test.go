package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenOptions_DSN(t *testing.T) {
	dsn := OpenOptions{BusyTimeout: 1500 * time.Millisecond}.dsn("/data/taskwatch.db")

	assert.Contains(t, dsn, "file:/data/taskwatch.db?")
	assert.Contains(t, dsn, "journal_mode%28WAL%29")
	assert.Contains(t, dsn, "busy_timeout%281500%29")
}

func TestOpen_PathAndReopen(t *testing.T) {
	dir := t.TempDir()

	first, err := Open(dir, DefaultOpenOptions())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FileName), first.Path())
	require.NoError(t, first.Queries().NodeUpsert(context.Background(), NodeUpsertParams{
		Path: "users/u1", Value: `{}`, Rev: 1, UpdatedAt: 1,
	}))
	require.NoError(t, first.Close())

	second, err := Open(dir, DefaultOpenOptions())
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	n, err := second.Queries().NodeGet(context.Background(), "users/u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.Rev)
}

func TestOpen_NotADatabase(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("plain text, definitely not sqlite"), 0o600))

	_, err := Open(dir, DefaultOpenOptions())
	require.Error(t, err)
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	t.Run("commit", func(t *testing.T) {
		err := database.WithTx(ctx, func(q *Queries) error {
			_, err := q.BumpRevision(ctx)
			return err
		})
		require.NoError(t, err)

		rev, err := database.Queries().CurrentRevision(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rev)
	})

	t.Run("rollback on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := database.WithTx(ctx, func(q *Queries) error {
			if _, err := q.BumpRevision(ctx); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		rev, err := database.Queries().CurrentRevision(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rev)
	})

	t.Run("rollback on panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = database.WithTx(ctx, func(q *Queries) error {
				_, _ = q.BumpRevision(ctx)
				panic("handler bug")
			})
		})

		rev, err := database.Queries().CurrentRevision(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rev)
	})
}
