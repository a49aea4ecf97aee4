package stores

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/colonyops/taskwatch/internal/data/db"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// IsNotFoundError reports whether err means the row does not exist.
func IsNotFoundError(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsCorruptionError reports whether err means the database file is unusable.
func IsCorruptionError(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
			return true
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "database disk image is malformed") ||
		strings.Contains(msg, "file is not a database")
}

// RecoverFromCorruption moves a corrupt database, with its WAL and SHM
// files, aside as <name>.corrupt.<timestamp> so a fresh one can be created.
// It returns the backup path of the main file.
func RecoverFromCorruption(dataDir string, now time.Time) (string, error) {
	dbPath := filepath.Join(dataDir, db.FileName)
	backup := fmt.Sprintf("%s.corrupt.%s", dbPath, now.Format("20060102-150405"))

	// WAL and SHM must go with the main file or SQLite replays them into
	// the new database.
	for _, suffix := range []string{"", "-wal", "-shm"} {
		err := os.Rename(dbPath+suffix, backup+suffix)
		switch {
		case err == nil, os.IsNotExist(err):
		case suffix == "":
			return "", fmt.Errorf("move corrupt database: %w", err)
		default:
			if rmErr := os.Remove(dbPath + suffix); rmErr != nil && !os.IsNotExist(rmErr) {
				return "", fmt.Errorf("remove %s file: %w", strings.TrimPrefix(suffix, "-"), err)
			}
		}
	}

	return backup, nil
}
