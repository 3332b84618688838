// Package observer fans events out to a set of subscribed sinks.
package observer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is how long an observer may go without a successful delivery
// or a renewed subscription before Sweep drops it.
const DefaultTTL = 5 * time.Minute

// Sink receives events. A returned error unsubscribes the sink.
type Sink[E any] interface {
	Deliver(ctx context.Context, events []E) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc[E any] func(ctx context.Context, events []E) error

func (f SinkFunc[E]) Deliver(ctx context.Context, events []E) error {
	return f(ctx, events)
}

type subscriber[E any] struct {
	sink     Sink[E]
	lastSeen time.Time
}

// Registry is safe for concurrent use.
type Registry[E any] struct {
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[string]*subscriber[E]
}

type Option func(*options)

type options struct {
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func NewRegistry[E any](opts ...Option) *Registry[E] {
	o := options{ttl: DefaultTTL, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry[E]{
		ttl:         o.ttl,
		now:         o.now,
		logger:      o.logger,
		subscribers: make(map[string]*subscriber[E]),
	}
}

// Subscribe adds sink under id. Subscribing an existing id replaces its sink
// and renews it.
func (r *Registry[E]) Subscribe(id string, sink Sink[E]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers[id] = &subscriber[E]{sink: sink, lastSeen: r.now()}
}

func (r *Registry[E]) Unsubscribe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscribers, id)
}

func (r *Registry[E]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}

// Notify delivers events to every observer concurrently and returns once all
// deliveries have settled. Observers whose delivery fails are removed.
func (r *Registry[E]) Notify(ctx context.Context, events ...E) {
	if len(events) == 0 {
		return
	}
	r.mu.Lock()
	targets := make(map[string]*subscriber[E], len(r.subscribers))
	for id, s := range r.subscribers {
		targets[id] = s
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for id, s := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.sink.Deliver(ctx, events)

			r.mu.Lock()
			defer r.mu.Unlock()
			if r.subscribers[id] != s {
				return
			}
			if err != nil {
				delete(r.subscribers, id)
				r.logger.DebugContext(ctx, "observer dropped after failed delivery", "observer_id", id, "error", err)
				return
			}
			s.lastSeen = r.now()
		}()
	}
	wg.Wait()
}

// Sweep removes observers idle for longer than the TTL and returns how many
// were removed.
func (r *Registry[E]) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.ttl)
	removed := 0
	for id, s := range r.subscribers {
		if s.lastSeen.Before(cutoff) {
			delete(r.subscribers, id)
			removed++
		}
	}
	return removed
}
