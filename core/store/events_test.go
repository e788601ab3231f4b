package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(t *testing.T, e *Emitter, types ...EventType) <-chan Event {
	t.Helper()
	ch := make(chan Event, 16)
	for _, et := range types {
		unsubscribe := e.Subscribe(et, func(ev Event) { ch <- ev })
		t.Cleanup(unsubscribe)
	}
	return ch
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestObserveEmitsStartAndSuccess(t *testing.T) {
	e, err := NewEmitter()
	require.NoError(t, err)
	ch := collectEvents(t, e, EventCreateStart, EventCreateSuccess)

	err = e.Observe("create", "P7",
		EventCreateStart, EventCreateSuccess, EventCreateFailed,
		func() error { return nil })
	require.NoError(t, err)

	start := nextEvent(t, ch)
	assert.Equal(t, EventCreateStart, start.Type)
	assert.Equal(t, "create", start.Operation)
	assert.Equal(t, "P7", start.PatternID)
	assert.Nil(t, start.Error)

	success := nextEvent(t, ch)
	assert.Equal(t, EventCreateSuccess, success.Type)
	require.NotNil(t, success.Duration)
	assert.GreaterOrEqual(t, *success.Duration, int64(0))
}

func TestObserveEmitsFailed(t *testing.T) {
	e, err := NewEmitter()
	require.NoError(t, err)
	ch := collectEvents(t, e, EventDeleteStart, EventDeleteFailed)

	boom := errors.New("storage exploded")
	err = e.Observe("delete", "C1",
		EventDeleteStart, EventDeleteSuccess, EventDeleteFailed,
		func() error { return boom })
	assert.Equal(t, boom, err)

	start := nextEvent(t, ch)
	assert.Equal(t, EventDeleteStart, start.Type)

	failed := nextEvent(t, ch)
	assert.Equal(t, EventDeleteFailed, failed.Type)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "storage exploded", *failed.Error)
}

func TestObserveNilEmitterRunsOperation(t *testing.T) {
	var e *Emitter
	ran := false
	err := e.Observe("create", "P7",
		EventCreateStart, EventCreateSuccess, EventCreateFailed,
		func() error { ran = true; return nil })
	require.NoError(t, err)
	assert.True(t, ran)
}
