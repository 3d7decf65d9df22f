package events

import (
	"image"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	// Detection events
	EventTypeStateChanged      EventType = "state.changed"
	EventTypeTemplatesReloaded EventType = "templates.reloaded"

	// Replay events
	EventTypeGestureQueued EventType = "gesture.queued"
	EventTypeGestureFired  EventType = "gesture.fired"

	// Loop events
	EventTypeCaptureFailed EventType = "capture.failed"
	EventTypeCommand       EventType = "command"
)

// Event represents a system event with metadata
type Event struct {
	Type      EventType              // Type of event
	Source    string                 // Component that emitted event (e.g., "scheduler", "commands")
	Timestamp time.Time              // When the event occurred
	Data      map[string]interface{} // Event-specific data
}

// EventHandler is a function that processes an event
type EventHandler func(Event)

// SubscriptionID uniquely identifies a subscription
type SubscriptionID int64

// EventBus defines the interface for event pub/sub
type EventBus interface {
	// Subscribe registers a handler for a specific event type
	Subscribe(eventType EventType, handler EventHandler) SubscriptionID

	// Unsubscribe removes a subscription by ID
	Unsubscribe(id SubscriptionID)

	// Publish queues an event, blocking while the queue is full
	Publish(event Event)

	// TryPublish queues an event or drops it when the queue is full
	TryPublish(event Event) bool

	// Stop stops the event bus and drains remaining events
	Stop()
}

// Publisher is the publishing half of EventBus
type Publisher interface {
	TryPublish(event Event) bool
}

// Discard drops every event
type Discard struct{}

// TryPublish implements Publisher
func (Discard) TryPublish(Event) bool { return false }

// NewStateChangedEvent records a transition between detected states.
// An empty state name means unknown.
func NewStateChangedEvent(from, to string, score float64) Event {
	return Event{
		Type:      EventTypeStateChanged,
		Source:    "scheduler",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"from":  from,
			"to":    to,
			"score": score,
		},
	}
}

// NewTemplatesReloadedEvent reports a completed template reload
func NewTemplatesReloadedEvent(templates, states int) Event {
	return Event{
		Type:      EventTypeTemplatesReloaded,
		Source:    "scheduler",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"templates": templates,
			"states":    states,
		},
	}
}

// NewGestureQueuedEvent reports a gesture placed on the replay queue.
// target is nil for replays without offset.
func NewGestureQueuedEvent(source, name, state string, events int, target *image.Point) Event {
	data := map[string]interface{}{
		"name":   name,
		"state":  state,
		"events": events,
	}
	if target != nil {
		data["x"] = target.X
		data["y"] = target.Y
	}
	return Event{
		Type:      EventTypeGestureQueued,
		Source:    source,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewGestureFiredEvent reports one injected pointer event
func NewGestureFiredEvent(x, y int, down bool) Event {
	return Event{
		Type:      EventTypeGestureFired,
		Source:    "replayer",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"x":    x,
			"y":    y,
			"down": down,
		},
	}
}

// NewCaptureFailedEvent reports a skipped iteration
func NewCaptureFailedEvent(err error) Event {
	return Event{
		Type:      EventTypeCaptureFailed,
		Source:    "scheduler",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"error": err.Error(),
		},
	}
}

// NewCommandEvent reports a dispatched command line
func NewCommandEvent(line string, err error) Event {
	data := map[string]interface{}{"line": line}
	if err != nil {
		data["error"] = err.Error()
	}
	return Event{
		Type:      EventTypeCommand,
		Source:    "commands",
		Timestamp: time.Now(),
		Data:      data,
	}
}
