package database

import (
	"fmt"
	"time"
)

// RecordError appends a loop failure such as a skipped capture
func (j *Journal) RecordError(kind, message string, at time.Time) error {
	_, err := j.db.conn.Exec(`
		INSERT INTO error_log (session_id, error_type, error_message, occurred_at)
		VALUES (?, ?, ?, ?)
	`, j.sessionID, kind, message, at)
	if err != nil {
		return fmt.Errorf("failed to insert error: %w", err)
	}
	return nil
}

// Errors returns the session's newest failures first
func (j *Journal) Errors(limit int) ([]*ErrorLog, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := j.db.conn.Query(`
		SELECT id, session_id, error_type, error_message, occurred_at
		FROM error_log
		WHERE session_id = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, j.sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*ErrorLog
	for rows.Next() {
		e := &ErrorLog{}
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ErrorType, &e.ErrorMessage, &e.OccurredAt); err != nil {
			return nil, err
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

// ErrorCounts groups the session's failures by kind
func (j *Journal) ErrorCounts() (map[string]int, error) {
	rows, err := j.db.conn.Query(`
		SELECT error_type, COUNT(*)
		FROM error_log
		WHERE session_id = ?
		GROUP BY error_type
	`, j.sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
