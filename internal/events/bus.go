// Package events fans committed domain events out to in-process subscribers
// such as the achievement engine and the notification broadcaster.
package events

import (
	"context"
	"sync"

	"github.com/school-parliament/portal/internal/domain"
	"github.com/school-parliament/portal/internal/logger"
)

// Handler consumes one event. Handlers run synchronously in subscription order.
type Handler func(ctx context.Context, ev domain.Event)

// Publisher is the write side of the bus used by the engine services.
type Publisher interface {
	Publish(ctx context.Context, evs ...domain.Event)
}

// Bus is a synchronous publish/subscribe hub.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	log      *logger.Logger
}

// NewBus creates an empty bus.
func NewBus(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.Nop()
	}
	return &Bus{log: log.Named("events")}
}

// Subscribe registers h for every subsequently published event.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

type dispatchKey struct{}

// pending collects events published by a handler while an outer Publish is
// still delivering.
type pending struct {
	evs []domain.Event
}

// Publish delivers evs to every handler. A panicking handler is logged and
// does not stop delivery to the others.
//
// Events published from inside a handler are queued and delivered after the
// event being dispatched has reached every subscriber, so each handler sees
// a cause before its consequences.
func (b *Bus) Publish(ctx context.Context, evs ...domain.Event) {
	if q, ok := ctx.Value(dispatchKey{}).(*pending); ok {
		q.evs = append(q.evs, evs...)
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	q := &pending{evs: evs}
	ctx = context.WithValue(ctx, dispatchKey{}, q)
	for len(q.evs) > 0 {
		ev := q.evs[0]
		q.evs = q.evs[1:]
		for _, h := range handlers {
			b.dispatch(ctx, h, ev)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", "type", ev.Type, "panic", r)
		}
	}()
	h(ctx, ev)
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(context.Context, ...domain.Event) {}

// Recorder is a Publisher that keeps every event, for tests and tooling.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *Recorder) Publish(_ context.Context, evs ...domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, evs...)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
