package database

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"jordanella.com/garden-go/internal/events"
	"jordanella.com/garden-go/internal/logging"
)

// SessionInfo describes how a run was configured
type SessionInfo struct {
	WindowTitle   string
	CaptureMethod string
	Policy        string
}

// Journal appends loop history for one session
type Journal struct {
	db        *DB
	sessionID string
	log       *logging.Logger
	subs      []events.SubscriptionID
	bus       events.EventBus
}

// StartSession creates a session row and returns a journal bound to it
func (db *DB) StartSession(info SessionInfo) (*Journal, error) {
	id := uuid.NewString()
	err := db.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO sessions (id, window_title, capture_method, policy, started_at)
			VALUES (?, ?, ?, ?, ?)
		`, id, info.WindowTitle, info.CaptureMethod, info.Policy, time.Now())
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Journal{
		db:        db,
		sessionID: id,
		log:       logging.NewLogger("Journal").With("session", id),
	}, nil
}

// SessionID returns the session the journal writes to
func (j *Journal) SessionID() string {
	return j.sessionID
}

// End stamps the session end time and detaches from the bus
func (j *Journal) End() error {
	if j.bus != nil {
		for _, id := range j.subs {
			j.bus.Unsubscribe(id)
		}
		j.subs = nil
	}

	_, err := j.db.conn.Exec(`UPDATE sessions SET ended_at = ? WHERE id = ?`, time.Now(), j.sessionID)
	return err
}

func nullableState(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// RecordStateChange appends a transition; empty names mean unknown
func (j *Journal) RecordStateChange(from, to string, score float64, at time.Time) error {
	var s *float64
	if !math.IsInf(score, 0) && !math.IsNaN(score) {
		s = &score
	}
	_, err := j.db.conn.Exec(`
		INSERT INTO state_changes (session_id, from_state, to_state, score, changed_at)
		VALUES (?, ?, ?, ?, ?)
	`, j.sessionID, nullableState(from), nullableState(to), s, at)
	if err != nil {
		return fmt.Errorf("failed to insert state change: %w", err)
	}
	return nil
}

// RecordReplay appends a queued gesture
func (j *Journal) RecordReplay(r Replay) error {
	if r.QueuedAt.IsZero() {
		r.QueuedAt = time.Now()
	}
	_, err := j.db.conn.Exec(`
		INSERT INTO replays (session_id, gesture, state, source, events, target_x, target_y, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, j.sessionID, r.Gesture, r.State, r.Source, r.Events, r.TargetX, r.TargetY, r.QueuedAt)
	if err != nil {
		return fmt.Errorf("failed to insert replay: %w", err)
	}
	return nil
}

// StateHistory returns the newest transitions first
func (j *Journal) StateHistory(limit int) ([]*StateChange, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.conn.Query(`
		SELECT id, session_id, from_state, to_state, score, changed_at
		FROM state_changes
		WHERE session_id = ?
		ORDER BY changed_at DESC, id DESC
		LIMIT ?
	`, j.sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	changes := []*StateChange{}
	for rows.Next() {
		c := &StateChange{}
		if err := rows.Scan(&c.ID, &c.SessionID, &c.FromState, &c.ToState, &c.Score, &c.ChangedAt); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// ReplayCounts tallies queued gestures for the session, most used first
func (j *Journal) ReplayCounts() ([]GestureCount, error) {
	rows, err := j.db.conn.Query(`
		SELECT gesture, COUNT(*) as count
		FROM replays
		WHERE session_id = ?
		GROUP BY gesture
		ORDER BY count DESC, gesture ASC
	`, j.sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []GestureCount
	for rows.Next() {
		var c GestureCount
		if err := rows.Scan(&c.Gesture, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Stats counts journal rows across every session in the database
func (j *Journal) Stats() (Stats, error) {
	return j.db.Stats()
}

// Attach subscribes the journal to loop events. Handlers run on the bus
// goroutine so the frame loop never waits on sqlite.
func (j *Journal) Attach(bus events.EventBus) {
	j.bus = bus
	j.subs = append(j.subs,
		bus.Subscribe(events.EventTypeStateChanged, j.onStateChanged),
		bus.Subscribe(events.EventTypeGestureQueued, j.onGestureQueued),
		bus.Subscribe(events.EventTypeCaptureFailed, j.onCaptureFailed),
	)
}

func (j *Journal) onStateChanged(e events.Event) {
	from, _ := e.Data["from"].(string)
	to, _ := e.Data["to"].(string)
	score, ok := e.Data["score"].(float64)
	if !ok {
		score = math.Inf(1)
	}
	if err := j.RecordStateChange(from, to, score, e.Timestamp); err != nil {
		j.log.Error("Failed to journal state change", err)
	}
}

func (j *Journal) onGestureQueued(e events.Event) {
	r := Replay{Source: e.Source, QueuedAt: e.Timestamp}
	r.Gesture, _ = e.Data["name"].(string)
	r.Events, _ = e.Data["events"].(int)
	if state, _ := e.Data["state"].(string); state != "" {
		r.State = &state
	}
	if x, ok := e.Data["x"].(int); ok {
		r.TargetX = &x
	}
	if y, ok := e.Data["y"].(int); ok {
		r.TargetY = &y
	}
	if err := j.RecordReplay(r); err != nil {
		j.log.Error("Failed to journal replay", err)
	}
}

func (j *Journal) onCaptureFailed(e events.Event) {
	msg, _ := e.Data["error"].(string)
	if err := j.RecordError(string(e.Type), msg, e.Timestamp); err != nil {
		j.log.Error("Failed to journal capture failure", err)
	}
}
