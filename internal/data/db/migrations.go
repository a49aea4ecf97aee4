package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var embedded embed.FS

// migrationFile matches NNNN_name.up.sql and NNNN_name.down.sql.
var migrationFile = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// Migration is one schema version with its forward and reverse SQL.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// readMigrations loads every migration pair in fsys, sorted by version.
// Each version needs exactly one up and one down file.
func readMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		version, name, direction, err := parseFilename(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("migration %q: %w", entry.Name(), err)
		}

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if m.Name != name {
			return nil, fmt.Errorf("migration %04d has mismatched names %q and %q", version, m.Name, name)
		}

		target := &m.UpSQL
		if direction == "down" {
			target = &m.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %04d", direction, version)
		}
		*target = string(content)
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %04d (%s) needs both up and down files", m.Version, m.Name)
		}
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Migration) int { return a.Version - b.Version })
	return out, nil
}

func parseFilename(filename string) (version int, name, direction string, err error) {
	match := migrationFile.FindStringSubmatch(filename)
	if match == nil {
		return 0, "", "", fmt.Errorf("expected NNNN_name.{up,down}.sql")
	}

	version, err = strconv.Atoi(match[1])
	if err != nil {
		return 0, "", "", fmt.Errorf("version %q: %w", match[1], err)
	}
	if version == 0 {
		return 0, "", "", fmt.Errorf("version must be positive")
	}
	return version, match[2], match[3], nil
}

func embeddedMigrations() ([]Migration, error) {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		return nil, err
	}
	return readMigrations(sub)
}

// migrator applies and reverts migrations, tracking them in schema_migrations.
type migrator struct {
	conn       *sql.DB
	migrations []Migration
}

func newMigrator(ctx context.Context, conn *sql.DB, migrations []Migration) (*migrator, error) {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)`)
	if err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	return &migrator{conn: conn, migrations: migrations}, nil
}

func (m *migrator) applied(ctx context.Context) (map[int]bool, error) {
	rows, err := m.conn.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	versions := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions[v] = true
	}
	return versions, rows.Err()
}

func (m *migrator) up(ctx context.Context) error {
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if done[mig.Version] {
			continue
		}
		log.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("applying migration")
		err := m.inTx(ctx, mig.UpSQL,
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			mig.Version, mig.Name, time.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("migration %04d (%s): %w", mig.Version, mig.Name, err)
		}
	}
	return nil
}

func (m *migrator) down(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("n must be positive, got %d", n)
	}

	done, err := m.applied(ctx)
	if err != nil {
		return err
	}

	var revert []Migration
	for i := len(m.migrations) - 1; i >= 0 && len(revert) < n; i-- {
		if done[m.migrations[i].Version] {
			revert = append(revert, m.migrations[i])
		}
	}
	if len(revert) < n {
		return fmt.Errorf("requested %d down migrations but only %d are applied", n, len(revert))
	}

	for _, mig := range revert {
		log.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("reverting migration")
		err := m.inTx(ctx, mig.DownSQL, "DELETE FROM schema_migrations WHERE version = ?", mig.Version)
		if err != nil {
			return fmt.Errorf("revert %04d (%s): %w", mig.Version, mig.Name, err)
		}
	}
	return nil
}

// inTx runs the migration body and its bookkeeping statement atomically.
func (m *migrator) inTx(ctx context.Context, body, record string, args ...any) error {
	tx, err := m.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("execute SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

func migrateUp(ctx context.Context, conn *sql.DB) error {
	migrations, err := embeddedMigrations()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := newMigrator(ctx, conn, migrations)
	if err != nil {
		return err
	}
	return m.up(ctx)
}

// MigrateDown reverts the last n applied migrations, newest first.
func MigrateDown(ctx context.Context, conn *sql.DB, n int) error {
	migrations, err := embeddedMigrations()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := newMigrator(ctx, conn, migrations)
	if err != nil {
		return err
	}
	return m.down(ctx, n)
}

// SchemaVersion returns the highest applied migration version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := db.conn.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("schema version: %w", err)
	}
	return int(v.Int64), nil
}
