package signaling

import "log/slog"

// Handler consumes one inbound envelope.
type Handler func(*Envelope)

// Dispatcher routes inbound envelopes by type. It is not safe for concurrent
// use; the room session owns it and dispatches from its event loop.
type Dispatcher struct {
	handlers map[string][]Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string][]Handler)}
}

// On registers h for envelopes of the given type. Handlers run in
// registration order.
func (d *Dispatcher) On(kind string, h Handler) {
	d.handlers[kind] = append(d.handlers[kind], h)
}

// Dispatch runs the handlers registered for env.Type and reports whether any ran.
func (d *Dispatcher) Dispatch(env *Envelope) bool {
	handlers := d.handlers[env.Type]
	if len(handlers) == 0 {
		slog.Debug("no handler for envelope", "type", env.Type, "from", env.Username)
		return false
	}
	for _, h := range handlers {
		h(env)
	}
	return true
}
