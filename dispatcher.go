package closechat

import (
	"encoding/json"
	"sync"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// Wildcard subscribes a handler to every event kind.
const Wildcard = "*"

// Handler is an event callback. Handlers run synchronously in the
// transport-receive context, in registration order.
type Handler func(Envelope)

type subscription struct {
	kind    string
	handler Handler
}

// Dispatcher is a typed publish/subscribe registry sitting above the
// Transport. It normalizes raw inbound frames into Envelopes and fans
// them out to registered handlers.
type Dispatcher struct {
	mu   sync.Mutex
	subs []*subscription
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers a handler for the given event kind, or for every
// kind when kind is Wildcard. The returned func removes exactly that
// registration; calling it more than once is harmless.
func (d *Dispatcher) Subscribe(kind string, h Handler) func() {
	sub := &subscription{kind: kind, handler: h}
	d.mu.Lock()
	d.subs = append(d.subs, sub)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		for i, s := range d.subs {
			if s == sub {
				d.subs = append(d.subs[:i], d.subs[i+1:]...)
				break
			}
		}
		d.mu.Unlock()
	}
}

// DispatchRaw parses an inbound frame and dispatches it. Frames that are
// not valid JSON or lack a type discriminant are silently discarded; the
// stream may carry keepalives or partial frames and those must never
// surface as errors.
func (d *Dispatcher) DispatchRaw(data []byte) {
	var frame struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(data, &frame) != nil || frame.Type == "" {
		return
	}
	d.Dispatch(Envelope{Kind: frame.Type, Payload: json.RawMessage(data)})
}

// Dispatch invokes all kind-specific handlers for the envelope's kind in
// registration order, then all wildcard handlers. The handler set is
// snapshotted first, so unsubscribing mid-dispatch affects only future
// dispatches. A panicking handler does not prevent its siblings from
// running.
func (d *Dispatcher) Dispatch(env Envelope) {
	d.mu.Lock()
	var typed, wild []*subscription
	for _, s := range d.subs {
		switch s.kind {
		case env.Kind:
			typed = append(typed, s)
		case Wildcard:
			wild = append(wild, s)
		}
	}
	d.mu.Unlock()

	for _, s := range typed {
		invoke(s.handler, env)
	}
	for _, s := range wild {
		invoke(s.handler, env)
	}
}

func invoke(h Handler, env Envelope) {
	defer func() { recover() }() // isolate handler failures from the read loop
	h(env)
}
