// Package db provides database connection management and operations.
package db

import (
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/kimhsiao/kiosksync/internal/errors"
)

// FileName is the database file created inside the data directory.
const FileName = "kiosksync.db"

// DB wraps the sql.DB with kiosksync-specific configuration.
type DB struct {
	*sql.DB
}

// Open opens a SQLite database with kiosksync configuration.
// The database is opened with:
// - WAL mode so status readers do not block queue writes
// - a busy timeout for the CLI and daemon sharing the file
// - foreign key constraints enabled
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, FileName)

	// modernc.org/sqlite is pure Go, so mobile builds need no CGO toolchain for storage
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support multiple writers
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return &DB{db}, nil
}

// OpenMigrated opens the database and applies the embedded migrations.
func OpenMigrated(dataDir string) (*DB, error) {
	return openMigrated(dataDir, Migrations())
}

func openMigrated(dataDir string, fsys fs.FS) (*DB, error) {
	database, err := Open(dataDir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "open database", err)
	}

	migrator := NewMigrator(database.DB, fsys)
	if err := migrator.Initialize(); err != nil {
		database.Close()
		return nil, errors.Wrap(errors.ErrMigration, "initialize migrator", err)
	}
	if err := migrator.Up(); err != nil {
		database.Close()
		return nil, errors.Wrap(errors.ErrMigration, "apply migrations", err)
	}

	return database, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
