package gesture

import "sync"

// Queue is the FIFO of events waiting to be replayed.
// Policies and commands push from the scheduler goroutine; the mutex keeps it
// safe for any other producer.
type Queue struct {
	mu     sync.Mutex
	events []MouseEvent
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends events in order
func (q *Queue) Push(events ...MouseEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, events...)
}

// Peek returns the head without removing it
func (q *Queue) Peek() (MouseEvent, bool) {
	return q.PeekN(0)
}

// PeekN returns the event n places behind the head
func (q *Queue) PeekN(n int) (MouseEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n < 0 || n >= len(q.events) {
		return MouseEvent{}, false
	}
	return q.events[n], true
}

// Pop removes and returns the head
func (q *Queue) Pop() (MouseEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return MouseEvent{}, false
	}
	e := q.events[0]
	q.events[0] = MouseEvent{}
	q.events = q.events[1:]
	if len(q.events) == 0 {
		q.events = nil
	}
	return e, true
}

// Len returns the number of queued events
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Clear drops every queued event and returns how many were dropped
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.events)
	q.events = nil
	return n
}

// Snapshot copies the queued events
func (q *Queue) Snapshot() []MouseEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]MouseEvent(nil), q.events...)
}
