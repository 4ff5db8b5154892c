package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/richinsley/viewcomfy/results"
)

// Local lifecycle events, next to the wire events above.
const (
	eventConnected        = "connected"
	eventDisconnected     = "disconnected"
	eventTransportError   = "transport_error"
	eventReconnectAttempt = "reconnect_attempt"
)

// Subscription is the handle returned by every On* registration.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel unregisters the handler. It is safe to call more than once, and on nil.
func (s *Subscription) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Subscriptions collects handles so they can be cancelled together on teardown.
type Subscriptions struct {
	mu   sync.Mutex
	subs []*Subscription
}

func (g *Subscriptions) Add(subs ...*Subscription) {
	g.mu.Lock()
	g.subs = append(g.subs, subs...)
	g.mu.Unlock()
}

func (g *Subscriptions) Cancel() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}
}

func (g *Subscriptions) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

type registry struct {
	mu       sync.Mutex
	next     uint64
	handlers map[string]map[uint64]func(interface{})
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string]map[uint64]func(interface{}))}
}

func (r *registry) add(event string, fn func(interface{})) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := r.next
	if r.handlers[event] == nil {
		r.handlers[event] = make(map[uint64]func(interface{}))
	}
	r.handlers[event][id] = fn
	return &Subscription{cancel: func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers[event], id)
		if len(r.handlers[event]) == 0 {
			delete(r.handlers, event)
		}
	}}
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, hs := range r.handlers {
		n += len(hs)
	}
	return n
}

// emit calls every handler for event in registration order. A panicking handler is
// logged and does not stop the others.
func (r *registry) emit(log *zerolog.Logger, event string, arg interface{}) {
	r.mu.Lock()
	ids := make([]uint64, 0, len(r.handlers[event]))
	for id := range r.handlers[event] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(interface{}), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.handlers[event][id])
	}
	r.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if p := recover(); p != nil {
					log.Error().Str("event", event).Err(fmt.Errorf("%v", p)).Msg("event handler panicked")
				}
			}()
			fn(arg)
		}()
	}
}

func (s *Session) on(event string, fn func(interface{})) *Subscription {
	if !s.Enabled() || fn == nil {
		return &Subscription{}
	}
	return s.handlers.add(event, fn)
}

// OnConnected fires when the server accepts the handshake.
func (s *Session) OnConnected(fn func()) *Subscription {
	if fn == nil {
		return &Subscription{}
	}
	return s.on(eventConnected, func(interface{}) { fn() })
}

// OnDisconnected fires when an accepted connection is lost or closed.
func (s *Session) OnDisconnected(fn func(reason string, details interface{})) *Subscription {
	if fn == nil {
		return &Subscription{}
	}
	return s.on(eventDisconnected, func(arg interface{}) {
		d := arg.(DisconnectData)
		fn(d.Reason, d.Details)
	})
}

// OnTransportError fires on dial, handshake and server-reported errors. These are
// retried by the session and are never fatal.
func (s *Session) OnTransportError(fn func(error)) *Subscription {
	if fn == nil {
		return &Subscription{}
	}
	return s.on(eventTransportError, func(arg interface{}) { fn(arg.(error)) })
}

func (s *Session) OnResult(fn func(*results.ResultRecord)) *Subscription {
	if fn == nil {
		return &Subscription{}
	}
	return s.on(EventResult, func(arg interface{}) { fn(arg.(*results.ResultRecord)) })
}

func (s *Session) OnErrorMessage(fn func(*results.ErrorRecord)) *Subscription {
	if fn == nil {
		return &Subscription{}
	}
	return s.on(EventErrorMessage, func(arg interface{}) { fn(arg.(*results.ErrorRecord)) })
}

// OnReconnectAttempt fires before each reconnect dial, with the 1-based attempt number.
func (s *Session) OnReconnectAttempt(fn func(attempt int)) *Subscription {
	if fn == nil {
		return &Subscription{}
	}
	return s.on(eventReconnectAttempt, func(arg interface{}) { fn(arg.(int)) })
}

// HandlerCount is the number of registered handlers across all events.
func (s *Session) HandlerCount() int {
	return s.handlers.count()
}
