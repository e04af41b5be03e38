// Package dispatch demultiplexes inbound wire messages and local
// lifecycle events into typed callbacks. Dispatch is synchronous and
// cooperative: handlers run in registration order on the caller's
// goroutine and must not block.
package dispatch

import (
	"log"
	"sync"

	"lessonsync/pkg/types"
)

// Event is the payload delivered to handlers. Message is set for wire
// events and nil for local lifecycle events; Detail carries a reason
// or error description when one exists.
type Event struct {
	Type    string
	Message *types.WireMessage
	Detail  string
}

// Handler processes one event. A panicking handler is isolated and
// logged; it never aborts dispatch to the remaining handlers.
type Handler func(evt Event)

// Subscription is the token returned by On and accepted by Off.
type Subscription struct {
	eventType string
	id        uint64
}

type entry struct {
	id uint64
	fn Handler
}

// Dispatcher maintains the event type → handler table. Handler
// registration changes requested during an emit cycle are queued and
// applied after the cycle completes, so the handler list never mutates
// under iteration.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[string][]entry
	nextID   uint64
	depth    int
	deferred []func()
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]entry),
	}
}

// On registers a handler for an event type and returns its
// unsubscribe token. Registration from within a handler takes effect
// once the current emit cycle completes.
func (d *Dispatcher) On(eventType string, fn Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	sub := Subscription{eventType: eventType, id: d.nextID}

	if d.depth > 0 {
		d.deferred = append(d.deferred, func() {
			d.handlers[eventType] = append(d.handlers[eventType], entry{id: sub.id, fn: fn})
		})
		return sub
	}

	d.handlers[eventType] = append(d.handlers[eventType], entry{id: sub.id, fn: fn})
	return sub
}

// Off removes a previously registered handler. Unknown tokens are
// ignored. Removal from within a handler takes effect once the current
// emit cycle completes.
func (d *Dispatcher) Off(sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.depth > 0 {
		d.deferred = append(d.deferred, func() { d.remove(sub) })
		return
	}
	d.remove(sub)
}

// remove must be called with the mutex held and depth == 0.
func (d *Dispatcher) remove(sub Subscription) {
	entries := d.handlers[sub.eventType]
	for i, e := range entries {
		if e.id == sub.id {
			d.handlers[sub.eventType] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(d.handlers[sub.eventType]) == 0 {
		delete(d.handlers, sub.eventType)
	}
}

// Emit invokes all current handlers for the event type synchronously,
// in registration order.
func (d *Dispatcher) Emit(eventType string, evt Event) {
	d.mu.Lock()
	entries := make([]entry, len(d.handlers[eventType]))
	copy(entries, d.handlers[eventType])
	d.depth++
	d.mu.Unlock()

	for _, e := range entries {
		d.invoke(eventType, e, evt)
	}

	d.mu.Lock()
	d.depth--
	if d.depth == 0 && len(d.deferred) > 0 {
		pending := d.deferred
		d.deferred = nil
		for _, apply := range pending {
			apply()
		}
	}
	d.mu.Unlock()
}

// EmitMessage routes an inbound wire message to the handlers
// registered for its type. Types with no handlers are dropped, which
// keeps unrecognized wire messages non-fatal.
func (d *Dispatcher) EmitMessage(msg types.WireMessage) {
	if !d.hasHandlers(msg.Type) {
		log.Printf("dispatch: no handlers for message type %q, dropping", msg.Type)
		return
	}
	m := msg
	d.Emit(msg.Type, Event{Type: msg.Type, Message: &m})
}

// HandlerCount reports the number of handlers registered for a type.
func (d *Dispatcher) HandlerCount(eventType string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers[eventType])
}

func (d *Dispatcher) hasHandlers(eventType string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers[eventType]) > 0
}

func (d *Dispatcher) invoke(eventType string, e entry, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("dispatch: handler for %q panicked: %v", eventType, r)
		}
	}()
	e.fn(evt)
}
