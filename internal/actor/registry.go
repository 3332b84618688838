// Package actor runs one logical instance per key on a dedicated goroutine.
//
// An instance is activated on first use (inside its own goroutine), processes
// Call invocations one at a time in submission order, and is evicted after it
// has been idle for the configured timeout. Reads that must not queue behind
// writers use Get and read whatever snapshot the instance publishes.
package actor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"shelfcheck/pkg/platform/sentinel"
)

// ActivateFunc loads the instance for key. It runs on the instance goroutine.
type ActivateFunc[T any] func(ctx context.Context, key string) (T, error)

// Registry maps keys to live instances.
type Registry[T any] struct {
	name        string
	activate    ActivateFunc[T]
	idleTimeout time.Duration
	inboxSize   int
	logger      *slog.Logger
	now         func() time.Time
	metrics     *Metrics
	keepAlive   func(T) bool

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	entries map[string]*entry[T]
	closed  bool
	wg      sync.WaitGroup
}

type entry[T any] struct {
	key   string
	inbox chan envelope[T]
	ready chan struct{}
	value T
	err   error

	// guarded by Registry.mu
	pending  int
	lastUsed time.Time
	stopped  bool
}

type envelope[T any] struct {
	ctx  context.Context
	fn   func(context.Context, T) error
	done chan error
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	idleTimeout time.Duration
	inboxSize   int
	logger      *slog.Logger
	now         func() time.Time
	metrics     *Metrics
	keepAlive   any
}

// WithIdleTimeout sets how long an instance may sit unused before eviction.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idleTimeout = d
		}
	}
}

// WithInboxSize sets the per-instance queue buffer.
func WithInboxSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.inboxSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock overrides the time source used for idle tracking.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMetrics enables instance metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithKeepAlive exempts instances from idle eviction while keep returns true.
// keep must not call back into the registry.
func WithKeepAlive[T any](keep func(T) bool) Option {
	return func(o *options) {
		o.keepAlive = keep
	}
}

// NewRegistry creates a registry named for logs and metrics.
func NewRegistry[T any](name string, activate ActivateFunc[T], opts ...Option) *Registry[T] {
	o := options{
		idleTimeout: 10 * time.Minute,
		inboxSize:   32,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	keepAlive, _ := o.keepAlive.(func(T) bool)
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry[T]{
		name:        name,
		activate:    activate,
		idleTimeout: o.idleTimeout,
		inboxSize:   o.inboxSize,
		logger:      o.logger,
		now:         o.now,
		metrics:     o.metrics,
		keepAlive:   keepAlive,
		baseCtx:     ctx,
		cancel:      cancel,
		entries:     make(map[string]*entry[T]),
	}
}

// Call runs fn on the instance for key after every previously submitted call
// has finished. If ctx ends first Call returns ctx.Err(), but work that was
// already queued still runs to completion.
func (r *Registry[T]) Call(ctx context.Context, key string, fn func(context.Context, T) error) error {
	e, err := r.acquire(key)
	if err != nil {
		return err
	}
	env := envelope[T]{
		ctx:  context.WithoutCancel(ctx),
		fn:   fn,
		done: make(chan error, 1),
	}
	select {
	case e.inbox <- env:
	case <-ctx.Done():
		r.release(e)
		return ctx.Err()
	}
	select {
	case err := <-env.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the activated instance for key without queueing behind calls.
func (r *Registry[T]) Get(ctx context.Context, key string) (T, error) {
	e, err := r.acquire(key)
	if err != nil {
		var zero T
		return zero, err
	}
	defer r.release(e)
	select {
	case <-e.ready:
		return e.value, e.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Len returns the number of live instances.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep evicts instances idle for at least the idle timeout and returns how many were evicted.
func (r *Registry[T]) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	evicted := 0
	for _, e := range r.entries {
		if e.pending == 0 && now.Sub(e.lastUsed) >= r.idleTimeout && !r.keptAlive(e) {
			r.stopLocked(e)
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.Debug("actor instances evicted", "registry", r.name, "count", evicted)
		r.metrics.setLive(r.name, len(r.entries))
	}
	return evicted
}

// Range calls fn for every activated instance. fn runs with the registry
// locked and must not call back into it.
func (r *Registry[T]) Range(fn func(key string, value T)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.entries {
		if v, ok := activated(e); ok {
			fn(key, v)
		}
	}
}

func (r *Registry[T]) keptAlive(e *entry[T]) bool {
	if r.keepAlive == nil {
		return false
	}
	v, ok := activated(e)
	return ok && r.keepAlive(v)
}

func activated[T any](e *entry[T]) (T, bool) {
	select {
	case <-e.ready:
		return e.value, e.err == nil
	default:
		var zero T
		return zero, false
	}
}

// Run sweeps idle instances until ctx is done.
func (r *Registry[T]) Run(ctx context.Context) {
	interval := r.idleTimeout / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close stops accepting work and waits for running instances to drain.
func (r *Registry[T]) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, e := range r.entries {
		r.stopLocked(e)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}

func (r *Registry[T]) acquire(key string) (*entry[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("actor registry %s: %w", r.name, sentinel.ErrClosed)
	}
	e, ok := r.entries[key]
	if !ok {
		e = &entry[T]{
			key:   key,
			inbox: make(chan envelope[T], r.inboxSize),
			ready: make(chan struct{}),
		}
		r.entries[key] = e
		r.wg.Add(1)
		go r.run(e)
		r.metrics.incActivations(r.name)
		r.metrics.setLive(r.name, len(r.entries))
	}
	e.pending++
	e.lastUsed = r.now()
	return e, nil
}

func (r *Registry[T]) release(e *entry[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.pending--
	e.lastUsed = r.now()
	if e.pending == 0 && e.stopped {
		close(e.inbox)
	}
}

// stopLocked removes e from the registry. The inbox closes once no caller
// still holds the entry.
func (r *Registry[T]) stopLocked(e *entry[T]) {
	if e.stopped {
		return
	}
	e.stopped = true
	if r.entries[e.key] == e {
		delete(r.entries, e.key)
	}
	if e.pending == 0 {
		close(e.inbox)
	}
}

func (r *Registry[T]) run(e *entry[T]) {
	defer r.wg.Done()

	e.value, e.err = r.activateSafely(e.key)
	close(e.ready)
	if e.err != nil {
		r.logger.Error("actor activation failed", "registry", r.name, "key", e.key, "error", e.err)
		r.mu.Lock()
		r.stopLocked(e)
		r.metrics.setLive(r.name, len(r.entries))
		r.mu.Unlock()
	}

	for env := range e.inbox {
		err := e.err
		if err == nil {
			err = r.invoke(e, env)
		}
		r.release(e)
		env.done <- err
	}
}

func (r *Registry[T]) activateSafely(key string) (value T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("activate %s/%s: panic: %v", r.name, key, p)
		}
	}()
	return r.activate(r.baseCtx, key)
}

func (r *Registry[T]) invoke(e *entry[T], env envelope[T]) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("actor call panicked",
				"registry", r.name,
				"key", e.key,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%s/%s: panic: %v", r.name, e.key, p)
		}
	}()
	return env.fn(env.ctx, e.value)
}
