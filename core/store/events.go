package store

import (
	"context"
	"time"

	"github.com/asaidimu/go-events"
)

// EventType names a catalog lifecycle event. Each mutating operation
// emits a start event before touching storage and exactly one of the
// success or failed events after.
type EventType string

const (
	EventCreateStart   EventType = "pattern:create:start"
	EventCreateSuccess EventType = "pattern:create:success"
	EventCreateFailed  EventType = "pattern:create:failed"

	EventReplaceStart   EventType = "pattern:replace:start"
	EventReplaceSuccess EventType = "pattern:replace:success"
	EventReplaceFailed  EventType = "pattern:replace:failed"

	EventPatchStart   EventType = "pattern:patch:start"
	EventPatchSuccess EventType = "pattern:patch:success"
	EventPatchFailed  EventType = "pattern:patch:failed"

	EventDeleteStart   EventType = "pattern:delete:start"
	EventDeleteSuccess EventType = "pattern:delete:success"
	EventDeleteFailed  EventType = "pattern:delete:failed"
)

// Event is the payload delivered to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	Operation string    `json:"operation"`
	PatternID string    `json:"patternId"`
	Timestamp int64     `json:"timestamp"`
	Duration  *int64    `json:"duration,omitempty"`
	Error     *string   `json:"error,omitempty"`
}

// Emitter publishes lifecycle events over a typed bus. The zero value
// is not usable; construct with NewEmitter.
type Emitter struct {
	bus *events.TypedEventBus[Event]
}

// NewEmitter builds an emitter backed by a fresh event bus.
func NewEmitter() (*Emitter, error) {
	bus, err := events.NewTypedEventBus[Event](events.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return &Emitter{bus: bus}, nil
}

// Subscribe registers a callback for one event type and returns the
// unsubscribe function.
func (e *Emitter) Subscribe(t EventType, cb func(Event)) func() {
	return e.bus.Subscribe(string(t), func(_ context.Context, ev Event) error {
		cb(ev)
		return nil
	})
}

// Observe wraps one mutating operation with start, success, and failed
// events. Emission failures never affect the operation's outcome.
func (e *Emitter) Observe(op, patternID string, start, success, failed EventType, fn func() error) error {
	if e == nil {
		return fn()
	}
	startedAt := time.Now()
	e.emit(Event{
		Type:      start,
		Operation: op,
		PatternID: patternID,
		Timestamp: startedAt.UnixMilli(),
	})

	err := fn()
	elapsed := time.Since(startedAt).Milliseconds()

	if err != nil {
		msg := err.Error()
		e.emit(Event{
			Type:      failed,
			Operation: op,
			PatternID: patternID,
			Timestamp: time.Now().UnixMilli(),
			Duration:  &elapsed,
			Error:     &msg,
		})
		return err
	}

	e.emit(Event{
		Type:      success,
		Operation: op,
		PatternID: patternID,
		Timestamp: time.Now().UnixMilli(),
		Duration:  &elapsed,
	})
	return nil
}

func (e *Emitter) emit(ev Event) {
	e.bus.Emit(string(ev.Type), ev)
}
