package database

import (
	"database/sql"
	"fmt"

	"jordanella.com/garden-go/internal/logging"
)

// migration is one schema step. The applied version is kept in sqlite's
// user_version header field.
type migration struct {
	version     int
	description string
	statements  []string
}

var migrations = []migration{
	{
		version:     1,
		description: "Create sessions table",
		statements: []string{`
			CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				window_title TEXT NOT NULL,
				capture_method TEXT NOT NULL,
				policy TEXT NOT NULL,
				started_at DATETIME NOT NULL,
				ended_at DATETIME
			)`,
		},
	},
	{
		version:     2,
		description: "Create state_changes and replays tables",
		statements: []string{`
			CREATE TABLE IF NOT EXISTS state_changes (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				from_state TEXT,
				to_state TEXT,
				score REAL,
				changed_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_state_changes_session ON state_changes(session_id, changed_at)`,
			`CREATE TABLE IF NOT EXISTS replays (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				gesture TEXT NOT NULL,
				state TEXT,
				source TEXT NOT NULL,
				events INTEGER NOT NULL,
				target_x INTEGER,
				target_y INTEGER,
				queued_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_replays_session ON replays(session_id, gesture)`,
		},
	},
	{
		version:     3,
		description: "Create error_log table",
		statements: []string{`
			CREATE TABLE IF NOT EXISTS error_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				error_type TEXT NOT NULL,
				error_message TEXT NOT NULL,
				occurred_at DATETIME NOT NULL
			)`,
		},
	},
}

// LatestVersion is the schema version after every migration ran
func LatestVersion() int {
	return migrations[len(migrations)-1].version
}

// Version reads the applied schema version
func (db *DB) Version() (int, error) {
	var v int
	err := db.conn.QueryRow(`PRAGMA user_version`).Scan(&v)
	return v, err
}

// RunMigrations applies every migration newer than the file's version, each
// in its own transaction
func (db *DB) RunMigrations() error {
	log := logging.NewLogger("Database")

	current, err := db.Version()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		log.InfoWithContext("Running migration", map[string]interface{}{
			"version":     m.version,
			"description": m.description,
		})

		err := db.withTx(func(tx *sql.Tx) error {
			for _, stmt := range m.statements {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}
			// PRAGMA does not take bind parameters
			_, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
	}
	return nil
}
