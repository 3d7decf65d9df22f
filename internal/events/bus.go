package events

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"jordanella.com/garden-go/internal/logging"
)

type subscription struct {
	id      SubscriptionID
	typ     EventType
	handler EventHandler
}

// DefaultEventBus delivers events on a single goroutine, one handler at a
// time and in publish order, so subscribers never race each other.
//
// The subscriber list is copy-on-write: dispatch reads a snapshot without
// locking and Subscribe/Unsubscribe replace it under mu.
type DefaultEventBus struct {
	subs   atomic.Pointer[[]subscription]
	mu     sync.Mutex
	nextID SubscriptionID

	queue    chan Event
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	dropped  atomic.Int64

	log *logging.Logger
}

// NewEventBus creates a bus with a queue of bufferSize events and starts
// its delivery goroutine
func NewEventBus(bufferSize int) *DefaultEventBus {
	bus := &DefaultEventBus{
		queue:  make(chan Event, bufferSize),
		stopCh: make(chan struct{}),
		log:    logging.NewLogger("EventBus"),
	}
	bus.subs.Store(&[]subscription{})

	bus.wg.Add(1)
	go bus.run()
	return bus
}

// Subscribe registers a handler for one event type
func (eb *DefaultEventBus) Subscribe(eventType EventType, handler EventHandler) SubscriptionID {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	next := append(slices.Clone(*eb.subs.Load()), subscription{id: eb.nextID, typ: eventType, handler: handler})
	eb.subs.Store(&next)
	return eb.nextID
}

// Unsubscribe removes a subscription; unknown IDs are ignored
func (eb *DefaultEventBus) Unsubscribe(id SubscriptionID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	next := slices.DeleteFunc(slices.Clone(*eb.subs.Load()), func(s subscription) bool {
		return s.id == id
	})
	eb.subs.Store(&next)
}

// SubscriberCount returns how many handlers listen for eventType
func (eb *DefaultEventBus) SubscriberCount(eventType EventType) int {
	n := 0
	for _, s := range *eb.subs.Load() {
		if s.typ == eventType {
			n++
		}
	}
	return n
}

func (eb *DefaultEventBus) stamp(event *Event) bool {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case <-eb.stopCh:
		eb.drop(*event, "bus stopped")
		return false
	default:
		return true
	}
}

// Publish queues an event, blocking while the queue is full
func (eb *DefaultEventBus) Publish(event Event) {
	if !eb.stamp(&event) {
		return
	}
	select {
	case eb.queue <- event:
	case <-eb.stopCh:
		eb.drop(event, "bus stopped")
	}
}

// TryPublish queues an event without blocking; a full queue drops it.
// This is what the frame loop uses.
func (eb *DefaultEventBus) TryPublish(event Event) bool {
	if !eb.stamp(&event) {
		return false
	}
	select {
	case eb.queue <- event:
		return true
	default:
		eb.drop(event, "queue full")
		return false
	}
}

func (eb *DefaultEventBus) drop(event Event, reason string) {
	eb.dropped.Add(1)
	eb.log.DebugWithContext("Dropped event", map[string]interface{}{
		"type":   string(event.Type),
		"reason": reason,
	})
}

// Dropped returns how many events were never queued
func (eb *DefaultEventBus) Dropped() int64 {
	return eb.dropped.Load()
}

// QueueSize returns the number of events waiting for delivery
func (eb *DefaultEventBus) QueueSize() int {
	return len(eb.queue)
}

// Stop delivers what is already queued, then ends the delivery goroutine.
// Later publishes are dropped.
func (eb *DefaultEventBus) Stop() {
	eb.stopOnce.Do(func() { close(eb.stopCh) })
	eb.wg.Wait()
}

func (eb *DefaultEventBus) run() {
	defer eb.wg.Done()

	for {
		select {
		case event := <-eb.queue:
			eb.deliver(event)
		case <-eb.stopCh:
			for {
				select {
				case event := <-eb.queue:
					eb.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (eb *DefaultEventBus) deliver(event Event) {
	for _, s := range *eb.subs.Load() {
		if s.typ == event.Type {
			eb.call(s.handler, event)
		}
	}
}

func (eb *DefaultEventBus) call(handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.log.Error(fmt.Sprintf("Handler panic for %s", event.Type), fmt.Errorf("%v", r))
		}
	}()
	handler(event)
}
