// Package ratelimit queues callers per partition and admits them through a
// sliding-window permit budget.
//
// Each partition (one per catalog) has a FIFO queue of waiters. Only the head
// of the queue asks the WindowStore for a permit; when the window is
// exhausted it sleeps until the next replenishment tick that could admit it.
// Because the window itself lives in the store, the budget may be shared by
// several processes.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"shelfcheck/internal/ratelimit/metrics"
	"shelfcheck/internal/ratelimit/models"
	"shelfcheck/internal/ratelimit/ports"
)

// ErrQueueFull is returned when a partition already has QueueLimit waiters.
var ErrQueueFull = errors.New("rate limit queue full")

// Options is the limiter's configuration surface.
type Options struct {
	// PermitLimit permits are available per Window.
	PermitLimit int
	Window      time.Duration
	// SegmentsPerWindow sets the replenishment tick to Window/SegmentsPerWindow.
	SegmentsPerWindow int
	// QueueLimit bounds the waiters queued behind the head of a partition.
	QueueLimit int
}

// DefaultOptions matches the catalog's tolerated request rate.
func DefaultOptions() Options {
	return Options{
		PermitLimit:       10,
		Window:            time.Second,
		SegmentsPerWindow: 2,
		QueueLimit:        10000,
	}
}

func (o Options) validate() error {
	switch {
	case o.PermitLimit <= 0:
		return errors.New("permit limit must be positive")
	case o.Window <= 0:
		return errors.New("window must be positive")
	case o.SegmentsPerWindow <= 0:
		return errors.New("segments per window must be positive")
	case o.QueueLimit < 0:
		return errors.New("queue limit must not be negative")
	}
	return nil
}

// Limiter is safe for concurrent use.
type Limiter struct {
	opts    Options
	tick    time.Duration
	store   ports.WindowStore
	prefix  string
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	partitions map[string]*partition
}

type partition struct {
	// head holds one token; whoever holds it is at the front of the queue.
	// Blocked receivers are served in arrival order.
	head    chan struct{}
	waiting atomic.Int64
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithMetrics enables limiter metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithKeyPrefix sets the store key scope for partitions.
func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) {
		l.prefix = prefix
	}
}

// New creates a limiter over store.
func New(store ports.WindowStore, opts Options, options ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("window store is required")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		opts:       opts,
		tick:       opts.Window / time.Duration(opts.SegmentsPerWindow),
		store:      store,
		prefix:     models.ScopeCatalog,
		logger:     slog.Default(),
		partitions: make(map[string]*partition),
	}
	for _, opt := range options {
		opt(l)
	}
	if l.tick <= 0 {
		l.tick = opts.Window
	}
	return l, nil
}

// Acquire blocks until the caller is admitted for key, ctx ends, or the
// partition queue is full.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	p := l.partition(key)

	waiting := p.waiting.Add(1)
	defer func() {
		l.metrics.SetWaiting(key, p.waiting.Add(-1))
	}()
	if waiting > int64(l.opts.QueueLimit)+1 {
		l.metrics.IncrementRejected(key, "queue_full")
		return fmt.Errorf("partition %s: %w", key, ErrQueueFull)
	}
	l.metrics.SetWaiting(key, waiting)

	start := time.Now()
	select {
	case <-p.head:
	case <-ctx.Done():
		l.metrics.IncrementRejected(key, "cancelled")
		return ctx.Err()
	}
	defer func() { p.head <- struct{}{} }()

	for {
		result, err := l.store.AllowN(ctx, models.WindowKey(l.prefix, key), 1, l.opts.PermitLimit, l.opts.Window)
		if err != nil {
			l.metrics.IncrementRejected(key, "store_error")
			return fmt.Errorf("acquire permit for %s: %w", key, err)
		}
		if result.Allowed {
			l.metrics.ObserveAdmitted(key, time.Since(start))
			return nil
		}

		wait := l.untilTick(result.RetryAfter)
		l.logger.DebugContext(ctx, "rate limit window exhausted",
			"partition", key,
			"wait", wait,
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.metrics.IncrementRejected(key, "cancelled")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Waiting reports the number of callers inside Acquire for key.
func (l *Limiter) Waiting(key string) int {
	return int(l.partition(key).waiting.Load())
}

// untilTick rounds d up to a whole number of replenishment ticks.
func (l *Limiter) untilTick(d time.Duration) time.Duration {
	if d <= 0 {
		return l.tick
	}
	ticks := (d + l.tick - 1) / l.tick
	return ticks * l.tick
}

func (l *Limiter) partition(key string) *partition {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.partitions[key]
	if !ok {
		p = &partition{head: make(chan struct{}, 1)}
		p.head <- struct{}{}
		l.partitions[key] = p
	}
	return p
}
