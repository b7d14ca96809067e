// Package db stores strategies, positions, position history and orders in
// SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// pragmas applied to every connection. WAL is skipped for :memory:.
var pragmas = []string{
	`PRAGMA busy_timeout = 5000`,
	`PRAGMA synchronous = NORMAL`,
}

// Database owns the SQLite handle.
type Database struct {
	DB   *sql.DB
	path string
}

// New opens the SQLite file at path, creating its directory when needed.
// ":memory:" opens a private in-memory database.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: a single writer, and :memory: stays one database.
	handle.SetMaxOpenConns(1)
	handle.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stmts := pragmas
	if !memory {
		stmts = append([]string{`PRAGMA journal_mode = WAL`}, pragmas...)
	}
	for _, stmt := range stmts {
		if _, err := handle.ExecContext(ctx, stmt); err != nil {
			_ = handle.Close()
			return nil, fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return &Database{DB: handle, path: path}, nil
}

// Path returns the file the database was opened from.
func (d *Database) Path() string { return d.path }

// Queries returns the query set bound to this database.
func (d *Database) Queries() *Queries {
	return NewQueries(d.DB)
}

// Close releases the handle. It is safe on a nil Database.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
