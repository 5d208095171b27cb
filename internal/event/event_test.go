package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devhawala/ST80-sub000/internal/event"
)

func TestEncodingRoundTrips(t *testing.T) {
	w := event.MouseDeltaX(-5)
	assert.Equal(t, event.TypeMouseDX, w.Type())

	w = event.KeyDown(int('A'))
	assert.Equal(t, event.TypeKeyDown, w.Type())
	assert.Equal(t, int('A'), w.Payload())

	w = event.InterEventDelta(3000)
	assert.Equal(t, event.TypeDelta, w.Type())
	assert.Equal(t, 3000, w.Payload())
}

func TestInterEventDeltaClampsToRange(t *testing.T) {
	assert.Equal(t, 1, event.InterEventDelta(0).Payload())
	assert.Equal(t, 0x0FFF, event.InterEventDelta(99999).Payload())
}

func TestTimeSyncSplitsSeconds(t *testing.T) {
	hi, lo := event.SplitSeconds(0x12345678)
	assert.Equal(t, event.Word(0x1234), hi)
	assert.Equal(t, event.Word(0x5678), lo)
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify() { c.n++ }

func TestQueueFIFOAndNotify(t *testing.T) {
	notifier := &countingNotifier{}
	q := event.NewQueue(notifier)

	q.Enqueue(event.KeyDown(1))
	q.Enqueue(event.KeyDown(2))
	assert.Equal(t, 2, notifier.n)
	assert.Equal(t, 2, q.Len())

	w, ok := q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, 1, w.Payload())

	w, ok = q.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, 2, w.Payload())

	_, ok = q.Dequeue()
	assert.False(t, ok)
}
