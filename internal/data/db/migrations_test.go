package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(t.TempDir(), DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func openRawConn(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), FileName)
	conn, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", dbPath))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func tableExists(t *testing.T, conn *sql.DB, table string) bool {
	t.Helper()
	var n int
	err := conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func TestOpen_AppliesEmbeddedMigrations(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	migrations, err := embeddedMigrations()
	require.NoError(t, err)

	version, err := database.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, version)

	for _, table := range []string{"nodes", "store_meta", "notifications", "kv_store"} {
		assert.True(t, tableExists(t, database.Conn(), table), table)
	}

	rev, err := database.Queries().CurrentRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rev, "revision counter is seeded")

	// Re-running is a no-op.
	require.NoError(t, migrateUp(ctx, database.Conn()))
}

func TestMigrateDown(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	conn := database.Conn()

	require.NoError(t, database.Queries().NodeUpsert(ctx, NodeUpsertParams{
		Path: "users/u1/tasks/t1", Value: `{"title":"Water plants"}`, Rev: 1, UpdatedAt: 1,
	}))

	require.NoError(t, MigrateDown(ctx, conn, 1))
	assert.False(t, tableExists(t, conn, "kv_store"))

	var count int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM nodes").Scan(&count))
	assert.Equal(t, 1, count, "earlier tables keep their rows")

	version, err := database.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	t.Run("invalid n", func(t *testing.T) {
		assert.Error(t, MigrateDown(ctx, openRawConn(t), 0))
	})

	t.Run("more than applied", func(t *testing.T) {
		assert.Error(t, MigrateDown(ctx, conn, 10))
	})
}

func TestMigrator_UpDown(t *testing.T) {
	ctx := context.Background()
	conn := openRawConn(t)

	migrations, err := readMigrations(fstest.MapFS{
		"0002_second.up.sql":   {Data: []byte("CREATE TABLE b (id INTEGER)")},
		"0002_second.down.sql": {Data: []byte("DROP TABLE b")},
		"0001_first.up.sql":    {Data: []byte("CREATE TABLE a (id INTEGER)")},
		"0001_first.down.sql":  {Data: []byte("DROP TABLE a")},
	})
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "first", migrations[0].Name)

	m, err := newMigrator(ctx, conn, migrations)
	require.NoError(t, err)

	require.NoError(t, m.up(ctx))
	assert.True(t, tableExists(t, conn, "a"))
	assert.True(t, tableExists(t, conn, "b"))

	require.NoError(t, m.down(ctx, 2))
	assert.False(t, tableExists(t, conn, "a"))
	assert.False(t, tableExists(t, conn, "b"))
}

func TestMigrator_FailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	conn := openRawConn(t)

	m, err := newMigrator(ctx, conn, []Migration{
		{Version: 1, Name: "broken", UpSQL: "CREATE TABLE a (id INTEGER); NOT SQL", DownSQL: "DROP TABLE a"},
	})
	require.NoError(t, err)

	require.Error(t, m.up(ctx))

	done, err := m.applied(ctx)
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestReadMigrations_Errors(t *testing.T) {
	tests := []struct {
		name  string
		files fstest.MapFS
	}{
		{"missing down", fstest.MapFS{
			"0001_a.up.sql": {Data: []byte("SELECT 1")},
		}},
		{"bad filename", fstest.MapFS{
			"first.sql": {Data: []byte("SELECT 1")},
		}},
		{"mismatched names", fstest.MapFS{
			"0001_a.up.sql":   {Data: []byte("SELECT 1")},
			"0001_b.down.sql": {Data: []byte("SELECT 1")},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readMigrations(tt.files)
			assert.Error(t, err)
		})
	}
}

func TestParseFilename(t *testing.T) {
	tests := []struct {
		filename      string
		wantVersion   int
		wantName      string
		wantDirection string
		wantErr       bool
	}{
		{"0001_nodes.up.sql", 1, "nodes", "up", false},
		{"0003_kv_store.down.sql", 3, "kv_store", "down", false},
		{"0120_add_index.up.sql", 120, "add_index", "up", false},
		{"nodes.sql", 0, "", "", true},
		{"0001_nodes.sql", 0, "", "", true},
		{"0000_zero.up.sql", 0, "", "", true},
		{"-1_negative.up.sql", 0, "", "", true},
		{"0001_.up.sql", 0, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, direction, err := parseFilename(tt.filename)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, version)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantDirection, direction)
		})
	}
}
