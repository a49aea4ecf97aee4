package stores

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/colonyops/taskwatch/internal/data/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCorruptionError(t *testing.T) {
	assert.False(t, IsCorruptionError(nil))
	assert.False(t, IsCorruptionError(errors.New("connection refused")))
	assert.True(t, IsCorruptionError(fmt.Errorf("open: %w", errors.New("file is not a database"))))
	assert.True(t, IsCorruptionError(errors.New("database disk image is malformed")))
}

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, IsNotFoundError(fmt.Errorf("get: %w", sql.ErrNoRows)))
	assert.False(t, IsNotFoundError(errors.New("other")))
}

func TestRecoverFromCorruption(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	t.Run("moves database and sidecar files", func(t *testing.T) {
		dir := t.TempDir()
		dbPath := filepath.Join(dir, db.FileName)
		for _, suffix := range []string{"", "-wal", "-shm"} {
			require.NoError(t, os.WriteFile(dbPath+suffix, []byte("garbage"), 0o600))
		}

		backup, err := RecoverFromCorruption(dir, now)
		require.NoError(t, err)
		assert.Equal(t, dbPath+".corrupt.20260301-093000", backup)

		for _, suffix := range []string{"", "-wal", "-shm"} {
			assert.NoFileExists(t, dbPath+suffix)
			assert.FileExists(t, backup+suffix)
		}
	})

	t.Run("missing files", func(t *testing.T) {
		_, err := RecoverFromCorruption(t.TempDir(), now)
		assert.NoError(t, err)
	})

	t.Run("database usable afterwards", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, db.FileName), []byte("not sqlite at all, just text"), 0o600))

		_, err := RecoverFromCorruption(dir, now)
		require.NoError(t, err)

		database, err := db.Open(dir, db.DefaultOpenOptions())
		require.NoError(t, err)
		assert.NoError(t, database.Close())
	})
}
