// Package sqlite implements repository.ProfilePersister on top of SQLite.
//
// WHY A SECOND BACKEND?
// The JSON file is the default and is easy to inspect by hand, but SQLite gives
// crash-safe writes through its own journal and is a single file too. Choose it
// with PROFILE_BACKEND=sqlite when the data directory lives on storage where
// rename-based replacement is unreliable (some network filesystems).
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of SQLite, so no C compiler is needed.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/rs/xid"
	// Importing the driver package also registers "sqlite" with database/sql.
	driver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps a sql.DB connection pool.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/profile.db"  → file-based database (persistent)
//   - ":memory:"         → in-memory database (tests only, lost on close)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// ":memory:" gives every pooled connection its own private database.
	// One connection keeps the data visible to every query. The store
	// serialises writes anyway, so nothing is lost by this.
	conn.SetMaxOpenConns(1)

	// Ping forces a real connection so a bad path fails here, not on first use.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL mode: readers don't block behind a writer, and a crash mid-write
	// rolls back cleanly on the next open.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Open is New for startup: a file that exists but is not a usable SQLite
// database is moved aside to "<dbPath>.corrupt-<id>" and a fresh database is
// created in its place, so the store starts empty instead of refusing to run.
// The bad file is kept for the operator to inspect.
func Open(dbPath string, logger *slog.Logger) (*DB, error) {
	db, err := New(dbPath)
	if err == nil || !IsNotADatabase(err) {
		return db, err
	}

	aside := fmt.Sprintf("%s.corrupt-%s", dbPath, xid.New().String())
	logger.Warn("database file is corrupt, moving it aside and starting empty",
		slog.String("path", dbPath),
		slog.String("movedTo", aside),
		slog.String("error", err.Error()),
	)

	if err := os.Rename(dbPath, aside); err != nil {
		return nil, fmt.Errorf("sqlite: moving corrupt database aside: %w", err)
	}
	// A stale journal would be replayed into the new file.
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		if err := os.Rename(dbPath+suffix, aside+suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("sqlite: moving corrupt database aside: %w", err)
		}
	}

	return New(dbPath)
}

// IsNotADatabase reports whether err means the file is not a readable
// SQLite database (SQLITE_NOTADB or SQLITE_CORRUPT).
func IsNotADatabase(err error) bool {
	var sqliteErr *driver.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	// Extended codes keep the primary code in the low byte.
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT:
		return true
	}
	return false
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the profile table.
//
// SINGLE-ROW TABLE:
// The CHECK (id = 1) constraint makes it impossible to store a second row.
// "At most one profile" is enforced by the schema, not only by the Go code.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS profile (
			id           INTEGER PRIMARY KEY CHECK (id = 1),
			handle       TEXT NOT NULL,
			first_name   TEXT NOT NULL DEFAULT '',
			last_name    TEXT NOT NULL DEFAULT '',
			company_name TEXT NOT NULL DEFAULT '',
			website      TEXT NOT NULL DEFAULT '',
			image_url    TEXT NOT NULL DEFAULT '',
			updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating profile table: %w", err)
	}
	return nil
}
