package event

import (
	"reflect"
	"sync"

	"github.com/argusengine/argus/internal/core/registry"
)

// Kind is the type tag events and handlers are matched on.
type Kind = reflect.Type

// KindOf returns the tag for events of type T.
func KindOf[T any]() Kind {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Handler is a registered event handler for one event kind.
type Handler struct {
	Kind Kind
	Fn   func(any)
}

// Wrap adapts a typed handler to the untyped form stored in the registry.
// This is safe because Push and Subscribe use the same kind key.
func Wrap[T any](fn func(T)) Handler {
	return Handler{
		Kind: KindOf[T](),
		Fn:   func(ev any) { fn(ev.(T)) },
	}
}

type envelope struct {
	kind  Kind
	event any
}

// Queue collects events pushed from any goroutine until the owning context
// takes them.
type Queue struct {
	mu      sync.Mutex
	pending []envelope
}

func (q *Queue) Push(kind Kind, ev any) {
	q.mu.Lock()
	q.pending = append(q.pending, envelope{kind: kind, event: ev})
	q.mu.Unlock()
}

// take swaps out everything queued so far. The lock is only held for the
// swap so producers never wait on dispatch.
func (q *Queue) take() []envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// Len returns the number of events waiting for dispatch.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Dispatcher pairs one context's event queue with its handler registry.
type Dispatcher struct {
	queue    Queue
	handlers *registry.Registry[Handler]
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: registry.New[Handler]()}
}

// Subscribe stages a handler; it sees events from the next DispatchAll on.
func (d *Dispatcher) Subscribe(id registry.ID, h Handler, ordering registry.Ordering) {
	d.handlers.Insert(id, h, ordering)
}

func (d *Dispatcher) Unsubscribe(id registry.ID) {
	d.handlers.Remove(id)
}

// Push queues an event for the next DispatchAll.
func (d *Dispatcher) Push(kind Kind, ev any) {
	d.queue.Push(kind, ev)
}

func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// DispatchAll flushes the handler registry, drains the queue and delivers
// every event to the handlers of its kind in ordering-then-id order. It
// returns the number of events drained. Events pushed by handlers are left
// for the next call.
func (d *Dispatcher) DispatchAll() int {
	d.handlers.Flush()
	events := d.queue.take()
	if len(events) == 0 {
		return 0
	}
	handlers := d.handlers.Items()
	for _, ev := range events {
		for _, h := range handlers {
			if h.Payload.Kind == ev.kind {
				h.Payload.Fn(ev.event)
			}
		}
	}
	return len(events)
}

// Reset drops queued events and all handlers.
func (d *Dispatcher) Reset() {
	d.queue.take()
	d.handlers.Clear()
}

// Push queues a typed event on d.
func Push[T any](d *Dispatcher, ev T) {
	d.Push(KindOf[T](), ev)
}
