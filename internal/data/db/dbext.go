// Package db owns the SQLite connection, its schema migrations and the SQL
// statements used by the stores.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// FileName is the database file inside the data directory.
const FileName = "taskwatch.db"

const (
	connectAttempts = 5
	connectBackoff  = 100 * time.Millisecond
)

// OpenOptions size the connection pool. BusyTimeout is how long a
// connection waits on a lock held by another process.
type OpenOptions struct {
	MaxOpenConns int
	MaxIdleConns int
	BusyTimeout  time.Duration
}

func DefaultOpenOptions() OpenOptions {
	return OpenOptions{
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		BusyTimeout:  5 * time.Second,
	}
}

// dsn enables WAL so the server and CLI processes can share the file.
func (o OpenOptions) dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", o.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + path + "?" + q.Encode()
}

type DB struct {
	conn    *sql.DB
	path    string
	queries *Queries
}

// Open connects to <dataDir>/taskwatch.db, creating it if needed, and
// applies pending migrations.
func Open(dataDir string, opts OpenOptions) (*DB, error) {
	return OpenContext(context.Background(), dataDir, opts)
}

func OpenContext(ctx context.Context, dataDir string, opts OpenOptions) (*DB, error) {
	path := filepath.Join(dataDir, FileName)

	conn, err := sql.Open("sqlite", opts.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(opts.MaxOpenConns)
	conn.SetMaxIdleConns(opts.MaxIdleConns)

	if err := connect(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	if err := migrateUp(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}

	return &DB{conn: conn, path: path, queries: New(conn)}, nil
}

// connect pings until the database answers. Only lock contention is
// retried; any other failure is returned immediately.
func connect(ctx context.Context, conn *sql.DB) error {
	wait := connectBackoff
	var err error
	for attempt := 1; ; attempt++ {
		err = conn.PingContext(ctx)
		if err == nil || !transient(err) || attempt == connectAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			wait *= 2
		}
	}
}

func transient(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func (db *DB) Close() error { return db.conn.Close() }

// Path is the database file location.
func (db *DB) Path() string { return db.path }

// Conn exposes the pool to migrations and tests.
func (db *DB) Conn() *sql.DB { return db.conn }

func (db *DB) Queries() *Queries { return db.queries }

// WithTx runs fn in a transaction, committing when fn returns nil. The
// transaction is rolled back on error or panic.
func (db *DB) WithTx(ctx context.Context, fn func(*Queries) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(db.queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
