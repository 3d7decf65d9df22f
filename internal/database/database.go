package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the sqlite file holding session journals
type DB struct {
	conn *sql.DB
	path string
}

// Stats counts journal rows across all sessions
type Stats struct {
	Sessions     int64
	StateChanges int64
	Replays      int64
	Errors       int64
}

// Open opens or creates the journal at path. WAL mode lets the status
// commands read while the bus goroutine writes.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)

	return &DB{conn: conn, path: path}, nil
}

// Close closes the connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn exposes the connection for ad hoc queries
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the file the journal lives in
func (db *DB) Path() string {
	return db.path
}

// withTx runs fn in a transaction, rolling back when it fails
func (db *DB) withTx(fn func(*sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%v (rollback: %w)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Stats counts rows in each journal table
func (db *DB) Stats() (Stats, error) {
	var s Stats
	err := db.conn.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM state_changes),
			(SELECT COUNT(*) FROM replays),
			(SELECT COUNT(*) FROM error_log)
	`).Scan(&s.Sessions, &s.StateChanges, &s.Replays, &s.Errors)
	return s, err
}

// PruneSessions deletes finished sessions that started before cutoff along
// with everything they journaled
func (db *DB) PruneSessions(cutoff time.Time) (int64, error) {
	res, err := db.conn.Exec(`
		DELETE FROM sessions
		WHERE ended_at IS NOT NULL AND started_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return res.RowsAffected()
}
