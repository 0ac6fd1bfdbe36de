package orchestrator

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEmitter_DeliversInOrder(t *testing.T) {
	e := NewEventEmitter(4, nil)
	e.Emit(Event{Type: EventTaskReady, Task: "a"})
	e.Emit(Event{Type: EventTaskStarted, Task: "a"})

	first := <-e.Events()
	second := <-e.Events()
	assert.Equal(t, EventTaskReady, first.Type)
	assert.Equal(t, EventTaskStarted, second.Type)
	assert.False(t, first.Timestamp.IsZero(), "timestamp is filled in")
}

func TestEventEmitter_DropsWhenFull(t *testing.T) {
	log, hook := test.NewNullLogger()
	e := NewEventEmitter(1, log)
	e.Emit(Event{Type: EventTaskReady})
	e.Emit(Event{Type: EventTaskStarted})

	assert.Equal(t, uint64(1), e.DroppedCount())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestEventEmitter_EmitAfterClose(t *testing.T) {
	e := NewEventEmitter(1, nil)
	e.Close()
	e.Close()
	assert.NotPanics(t, func() { e.Emit(Event{Type: EventTaskReady}) })

	_, ok := <-e.Events()
	assert.False(t, ok)
}
