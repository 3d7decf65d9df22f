package policy

import (
	"fmt"
	"image"
	"strings"
)

// Handle is what a policy may do in response to a state
type Handle interface {
	QueueReplay(name string) error
	QueueReplayWithOffset(name string, x, y int) error
	// RoiCenter returns where the named template matched this cycle
	RoiCenter(name string) (image.Point, bool)
}

// Policy reacts to a detected state. It is only called for known states and
// only while automation is enabled.
type Policy interface {
	HandleState(state string, h Handle)
}

// Func adapts a plain function to Policy
type Func func(state string, h Handle)

// HandleState calls f
func (f Func) HandleState(state string, h Handle) {
	f(state, h)
}

// Noop never schedules anything
type Noop struct{}

// HandleState does nothing
func (Noop) HandleState(string, Handle) {}

// Kind names a policy strategy in configuration
type Kind string

const (
	KindNone  Kind = "none"
	KindTable Kind = "table"
)

// Select builds the configured strategy
func Select(kind string, tablePath string) (Policy, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(kind))) {
	case "", KindNone, "noop":
		return Noop{}, nil
	case KindTable:
		if tablePath == "" {
			return nil, fmt.Errorf("table policy needs a policy file")
		}
		return LoadTable(tablePath)
	default:
		return nil, fmt.Errorf("unknown policy %q", kind)
	}
}
