// Package events delivers session events to registered handlers.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pollchat/internal/core"
)

// Handler reacts to one event. A returned error is logged and does not affect
// other handlers.
type Handler func(ctx context.Context, ev core.Event) error

// Binding attaches a handler to an event kind.
type Binding struct {
	Kind    core.EventKind
	Handler Handler
}

// Listener declares the handlers it wants, in the order they should run.
type Listener interface {
	Bindings() []Binding
}

type entry struct {
	id      uint64
	handler Handler
}

// Dispatcher routes events to handlers by kind. Handlers for a kind run
// synchronously in registration order.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[core.EventKind][]entry
	nextID   uint64
	closed   bool
	log      zerolog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *zerolog.Logger) *Dispatcher {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Dispatcher{
		handlers: make(map[core.EventKind][]entry),
		log:      l.With().Str("component", "events").Logger(),
	}
}

// Registration removes the handlers added by one Register call.
type Registration struct {
	d    *Dispatcher
	refs []ref
	once sync.Once
}

type ref struct {
	kind core.EventKind
	id   uint64
}

// Remove unregisters the handlers. Safe to call more than once.
func (r *Registration) Remove() {
	if r == nil || r.d == nil {
		return
	}
	r.once.Do(func() { r.d.remove(r.refs) })
}

// Register adds handler for kind. Registering on a closed dispatcher is a no-op.
func (d *Dispatcher) Register(kind core.EventKind, handler Handler) *Registration {
	return d.add([]Binding{{Kind: kind, Handler: handler}})
}

// RegisterListener adds every binding of l in order.
func (d *Dispatcher) RegisterListener(l Listener) *Registration {
	return d.add(l.Bindings())
}

func (d *Dispatcher) add(bindings []Binding) *Registration {
	d.mu.Lock()
	defer d.mu.Unlock()

	reg := &Registration{d: d}
	if d.closed {
		return reg
	}
	for _, b := range bindings {
		if b.Handler == nil {
			continue
		}
		d.nextID++
		d.handlers[b.Kind] = append(d.handlers[b.Kind], entry{id: d.nextID, handler: b.Handler})
		reg.refs = append(reg.refs, ref{kind: b.Kind, id: d.nextID})
	}
	return reg
}

func (d *Dispatcher) remove(refs []ref) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range refs {
		list := d.handlers[r.kind]
		kept := make([]entry, 0, len(list))
		for _, e := range list {
			if e.id != r.id {
				kept = append(kept, e)
			}
		}
		d.handlers[r.kind] = kept
	}
}

// Count returns the number of handlers registered for kind.
func (d *Dispatcher) Count(kind core.EventKind) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[kind])
}

// Dispatch runs every handler registered for ev.Kind and returns how many failed.
func (d *Dispatcher) Dispatch(ctx context.Context, ev core.Event) int {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return 0
	}
	handlers := append([]entry(nil), d.handlers[ev.Kind]...)
	d.mu.RUnlock()

	failed := 0
	for _, e := range handlers {
		if err := d.invoke(ctx, e.handler, ev); err != nil {
			failed++
			d.log.Warn().Err(err).Str("kind", ev.Kind.String()).Str("event_id", ev.ID).Msg("event handler failed")
		}
	}
	return failed
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, ev core.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}

// Close drops all handlers. Later registrations and dispatches are no-ops.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.handlers = make(map[core.EventKind][]entry)
}

// ListenerFuncs is a Listener built from optional per-kind handlers.
type ListenerFuncs struct {
	MessageReceived   Handler
	MessageEdited     Handler
	ContactChanged    Handler
	MembershipChanged Handler
	TopicChanged      Handler
	ConnectionError   Handler
}

// Bindings implements Listener.
func (f ListenerFuncs) Bindings() []Binding {
	return []Binding{
		{Kind: core.EventMessageReceived, Handler: f.MessageReceived},
		{Kind: core.EventMessageEdited, Handler: f.MessageEdited},
		{Kind: core.EventContactChanged, Handler: f.ContactChanged},
		{Kind: core.EventChatMembershipChanged, Handler: f.MembershipChanged},
		{Kind: core.EventChatTopicChanged, Handler: f.TopicChanged},
		{Kind: core.EventConnectionError, Handler: f.ConnectionError},
	}
}
