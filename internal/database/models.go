package database

import (
	"time"
)

// Session is one run of the frame loop
type Session struct {
	ID            string     `db:"id"`
	WindowTitle   string     `db:"window_title"`
	CaptureMethod string     `db:"capture_method"`
	Policy        string     `db:"policy"`
	StartedAt     time.Time  `db:"started_at"`
	EndedAt       *time.Time `db:"ended_at"`
}

// StateChange records the detected state switching
type StateChange struct {
	ID        int64     `db:"id"`
	SessionID string    `db:"session_id"`
	FromState *string   `db:"from_state"` // nil = unknown
	ToState   *string   `db:"to_state"`   // nil = unknown
	Score     *float64  `db:"score"`
	ChangedAt time.Time `db:"changed_at"`
}

// Replay records a gesture placed on the replay queue
type Replay struct {
	ID        int64     `db:"id"`
	SessionID string    `db:"session_id"`
	Gesture   string    `db:"gesture"`
	State     *string   `db:"state"`
	Source    string    `db:"source"` // "policy" or "command"
	Events    int       `db:"events"`
	TargetX   *int      `db:"target_x"`
	TargetY   *int      `db:"target_y"`
	QueuedAt  time.Time `db:"queued_at"`
}

// ErrorLog represents a loop failure
type ErrorLog struct {
	ID           int64     `db:"id"`
	SessionID    string    `db:"session_id"`
	ErrorType    string    `db:"error_type"`
	ErrorMessage string    `db:"error_message"`
	OccurredAt   time.Time `db:"occurred_at"`
}

// GestureCount is a per-gesture replay tally
type GestureCount struct {
	Gesture string
	Count   int
}
