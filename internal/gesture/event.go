package gesture

import (
	"encoding/json"
	"fmt"
	"image"
	"time"
)

// localLayout is how sequences recorded without a zone write their timestamps
const localLayout = "2006-01-02T15:04:05.999999999"

// MouseEvent is one recorded pointer transition in window-relative pixels
type MouseEvent struct {
	Timestamp   time.Time
	X           int
	Y           int
	IsMouseDown bool
}

// Point returns the event position
func (e MouseEvent) Point() image.Point {
	return image.Point{X: e.X, Y: e.Y}
}

type rawEvent struct {
	Timestamp   string `json:"Timestamp"`
	X           int    `json:"X"`
	Y           int    `json:"Y"`
	IsMouseDown bool   `json:"IsMouseDown"`
}

// UnmarshalJSON accepts RFC3339 timestamps with or without a zone offset
func (e *MouseEvent) UnmarshalJSON(data []byte) error {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return err
	}
	*e = MouseEvent{Timestamp: ts, X: raw.X, Y: raw.Y, IsMouseDown: raw.IsMouseDown}
	return nil
}

// MarshalJSON writes RFC3339 with nanoseconds
func (e MouseEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(rawEvent{
		Timestamp:   e.Timestamp.Format(time.RFC3339Nano),
		X:           e.X,
		Y:           e.Y,
		IsMouseDown: e.IsMouseDown,
	})
}

func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	ts, err := time.ParseInLocation(localLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return ts, nil
}

// Sequence is an ordered, timestamp-nondecreasing list of events
type Sequence []MouseEvent

// Offset returns a copy translated so the first event lands on (x, y)
func (s Sequence) Offset(x, y int) Sequence {
	if len(s) == 0 {
		return nil
	}
	dx, dy := x-s[0].X, y-s[0].Y
	out := make(Sequence, len(s))
	for i, e := range s {
		e.X += dx
		e.Y += dy
		out[i] = e
	}
	return out
}

// Duration returns the recorded time between first and last event
func (s Sequence) Duration() time.Duration {
	if len(s) < 2 {
		return 0
	}
	return s[len(s)-1].Timestamp.Sub(s[0].Timestamp)
}

// Validate checks that timestamps never go backwards
func (s Sequence) Validate() error {
	for i := 1; i < len(s); i++ {
		if s[i].Timestamp.Before(s[i-1].Timestamp) {
			return fmt.Errorf("event %d is earlier than event %d", i, i-1)
		}
	}
	return nil
}
