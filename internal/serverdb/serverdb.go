// Package serverdb is the sync server's SQLite store: accounts, the API keys
// that authenticate them, and the ref-versioned resource blobs they sync.
package serverdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ServerDB wraps the server database connection.
type ServerDB struct {
	conn *sql.DB
}

var pragmas = []string{
	"journal_mode=WAL",
	"busy_timeout=5000",
	"synchronous=NORMAL",
	"foreign_keys=ON",
}

// Open opens (creating if needed) the database at path and migrates it.
// ":memory:" opens a private in-memory database.
func Open(path string) (*ServerDB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: keeps :memory: shared and makes each ref check and
	// write a single serialized step.
	conn.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := conn.Exec("PRAGMA " + p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("pragma %s: %w", p, err)
		}
	}

	db := &ServerDB{conn: conn}
	if _, err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Ping checks the database connection is alive.
func (db *ServerDB) Ping() error {
	return db.conn.Ping()
}

// Close checkpoints the WAL and closes the database.
func (db *ServerDB) Close() error {
	db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return db.conn.Close()
}

// migrate applies pending migrations, each in its own transaction, and
// returns how many ran.
func (db *ServerDB) migrate() (int, error) {
	from, err := db.schemaVersion()
	if err != nil {
		return 0, err
	}
	if from > SchemaVersion {
		return 0, fmt.Errorf("database schema %d is newer than this server (%d)", from, SchemaVersion)
	}

	for v := from; v < SchemaVersion; v++ {
		tx, err := db.conn.Begin()
		if err != nil {
			return v - from, fmt.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return v - from, fmt.Errorf("migration %d: %w", v+1, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return v - from, fmt.Errorf("migration %d: set version: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return v - from, fmt.Errorf("migration %d: commit: %w", v+1, err)
		}
	}
	return SchemaVersion - from, nil
}

func (db *ServerDB) schemaVersion() (int, error) {
	var v int
	if err := db.conn.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// newID returns prefix followed by 16 hex chars of a random UUID.
func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
