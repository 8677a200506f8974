// Package events provides the audit trail for roster operations. Every
// successful onboard, offboard and quarter call records exactly one batch
// event; events are the only externally observable record of pending-order
// history, there is no order enumeration API.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quarterdeck-network/crew_layer/internal/app/domain/roster"
)

// EventType classifies a roster event.
type EventType string

const (
	EventOnboard  EventType = "roster.onboard"
	EventOffboard EventType = "roster.offboard"
	EventQuarter  EventType = "roster.quarter"
)

// Event is one recorded batch operation.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Caller    string    `json:"caller,omitempty"`

	Batch roster.Batch `json:"batch"`
}

// String returns a human-readable representation.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// Handler processes events as they are recorded.
type Handler func(Event)

// Recorder is the event sink the roster service writes to.
type Recorder interface {
	// Record stores an event and notifies subscribers.
	Record(event Event)

	// Subscribe registers a handler for future events and returns an
	// unsubscribe function.
	Subscribe(handler Handler) func()

	// Recent returns the most recent n events, newest first.
	Recent(n int) []Event
}

// RingBuffer is a thread-safe circular buffer of events.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	handler Handler
}

var _ Recorder = (*RingBuffer)(nil)

// NewRingBuffer creates an event buffer holding up to size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Record adds an event to the buffer and notifies handlers.
func (rb *RingBuffer) Record(event Event) {
	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	// Notify handlers outside the lock
	for _, h := range handlers {
		h.handler(event)
	}
}

// Subscribe registers a handler for all future events.
func (rb *RingBuffer) Subscribe(handler Handler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{id: id, handler: handler})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent n events in reverse chronological order.
func (rb *RingBuffer) Recent(n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}
	if n > rb.count {
		n = rb.count
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		result[i] = rb.events[idx]
	}
	return result
}

// Count returns the number of buffered events.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// NoOpRecorder discards all events.
type NoOpRecorder struct{}

func (NoOpRecorder) Record(Event)             {}
func (NoOpRecorder) Subscribe(Handler) func() { return func() {} }
func (NoOpRecorder) Recent(int) []Event       { return nil }
