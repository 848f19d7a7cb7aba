package event

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argusengine/argus/internal/core/registry"
)

type ping struct{ N int }
type pong struct{ S string }

func TestDispatcher_MatchesByKind(t *testing.T) {
	d := NewDispatcher()
	var pings []int
	var pongs []string
	d.Subscribe(1, Wrap(func(p ping) { pings = append(pings, p.N) }), registry.OrderingStandard)
	d.Subscribe(2, Wrap(func(p pong) { pongs = append(pongs, p.S) }), registry.OrderingStandard)

	Push(d, ping{N: 1})
	Push(d, pong{S: "a"})
	Push(d, ping{N: 2})

	n := d.DispatchAll()
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{1, 2}, pings)
	assert.Equal(t, []string{"a"}, pongs)
	assert.Equal(t, 0, d.Pending())
}

func TestDispatcher_HandlerOrdering(t *testing.T) {
	d := NewDispatcher()
	var order []string
	d.Subscribe(1, Wrap(func(ping) { order = append(order, "late") }), registry.OrderingLate)
	d.Subscribe(2, Wrap(func(ping) { order = append(order, "first") }), registry.OrderingFirst)
	d.Subscribe(3, Wrap(func(ping) { order = append(order, "std") }), registry.OrderingStandard)

	Push(d, ping{})
	d.DispatchAll()
	assert.Equal(t, []string{"first", "std", "late"}, order)
}

func TestDispatcher_SubscribeDuringDispatchWaitsForNextCycle(t *testing.T) {
	d := NewDispatcher()
	var late int
	d.Subscribe(1, Wrap(func(ping) {
		d.Subscribe(2, Wrap(func(ping) { late++ }), registry.OrderingStandard)
		d.Unsubscribe(1)
		Push(d, ping{})
	}), registry.OrderingStandard)

	Push(d, ping{})
	d.DispatchAll()
	assert.Equal(t, 0, late)
	assert.Equal(t, 1, d.Pending(), "event pushed by a handler waits for the next cycle")

	d.DispatchAll()
	assert.Equal(t, 1, late)
}

func TestDispatcher_NoHandlers(t *testing.T) {
	d := NewDispatcher()
	Push(d, ping{})
	assert.Equal(t, 1, d.DispatchAll())
}

func TestQueue_ConcurrentPush(t *testing.T) {
	d := NewDispatcher()
	var count int
	d.Subscribe(1, Wrap(func(ping) { count++ }), registry.OrderingStandard)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				Push(d, ping{N: i})
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1000, d.DispatchAll())
	assert.Equal(t, 1000, count)
}

func TestDispatcher_Reset(t *testing.T) {
	d := NewDispatcher()
	var count int
	d.Subscribe(1, Wrap(func(ping) { count++ }), registry.OrderingStandard)
	d.DispatchAll()
	Push(d, ping{})
	d.Reset()
	Push(d, ping{})
	d.DispatchAll()
	assert.Equal(t, 0, count)
}
