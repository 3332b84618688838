package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"shelfcheck/pkg/platform/sentinel"
)

// MemoryBroker keeps an append-only log per topic and key in process.
// Subscription offsets survive Unsubscribe-free restarts through Resume.
type MemoryBroker struct {
	opts   brokerOptions
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	logs    map[string]*partitionLog
	subs    map[string]*memorySubscription
	offsets map[string]int
	closed  bool
}

type partitionLog struct {
	records [][]byte
	// notify is closed and replaced on every append.
	notify chan struct{}
}

type memorySubscription struct {
	handle  Handle
	handler Handler
	cancel  context.CancelFunc
}

// MemoryOption configures a MemoryBroker.
type MemoryOption func(*MemoryBroker)

// WithMaxBatch bounds the messages per delivered batch.
func WithMaxBatch(n int) MemoryOption {
	return func(b *MemoryBroker) {
		if n > 0 {
			b.opts.maxBatch = n
		}
	}
}

// WithRetryDelay sets the pause before redelivering a failed batch.
func WithRetryDelay(d time.Duration) MemoryOption {
	return func(b *MemoryBroker) {
		if d > 0 {
			b.opts.retryDelay = d
		}
	}
}

// WithMemoryLogger sets the logger.
func WithMemoryLogger(logger *slog.Logger) MemoryOption {
	return func(b *MemoryBroker) {
		b.logger = logger
	}
}

func NewMemoryBroker(opts ...MemoryOption) *MemoryBroker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &MemoryBroker{
		opts:    defaultBrokerOptions(),
		logger:  slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
		logs:    make(map[string]*partitionLog),
		subs:    make(map[string]*memorySubscription),
		offsets: make(map[string]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MemoryBroker) Publish(_ context.Context, topic, key string, values ...[]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return sentinel.ErrClosed
	}
	if len(values) == 0 {
		return nil
	}
	log := b.logLocked(topic, key)
	for _, v := range values {
		log.records = append(log.records, append([]byte(nil), v...))
	}
	close(log.notify)
	log.notify = make(chan struct{})
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, topic, key string, handler Handler, opts ...SubscribeOption) (Handle, error) {
	o := applySubscribeOptions(opts)
	id := o.id
	if id == "" {
		id = "sub-" + uuid.NewString()
	}
	handle := Handle{ID: id, Topic: topic, Key: key, Since: time.Now().UnixMilli()}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Handle{}, sentinel.ErrClosed
	}
	if sub, ok := b.subs[id]; ok {
		return sub.handle, nil
	}
	if _, ok := b.offsets[id]; !ok {
		b.offsets[id] = len(b.logLocked(topic, key).records)
	}
	b.startLocked(handle, handler)
	return handle, nil
}

func (b *MemoryBroker) Resume(_ context.Context, handle Handle, handler Handler) error {
	if handle.IsZero() {
		return fmt.Errorf("resume: empty handle")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return sentinel.ErrClosed
	}
	if _, ok := b.subs[handle.ID]; ok {
		return nil
	}
	if _, ok := b.offsets[handle.ID]; !ok {
		// Unknown here (process restarted); pick up from the current end.
		b.offsets[handle.ID] = len(b.logLocked(handle.Topic, handle.Key).records)
	}
	b.startLocked(handle, handler)
	return nil
}

func (b *MemoryBroker) Unsubscribe(_ context.Context, handle Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[handle.ID]; ok {
		sub.cancel()
		delete(b.subs, handle.ID)
	}
	delete(b.offsets, handle.ID)
	return nil
}

// Active reports whether a subscription is running for handle.
func (b *MemoryBroker) Active(handle Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[handle.ID]
	return ok
}

// Subscriptions returns the number of running subscriptions.
func (b *MemoryBroker) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.cancel()
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

func (b *MemoryBroker) startLocked(handle Handle, handler Handler) {
	ctx, cancel := context.WithCancel(b.ctx)
	sub := &memorySubscription{handle: handle, handler: handler, cancel: cancel}
	b.subs[handle.ID] = sub
	b.wg.Add(1)
	go b.consume(ctx, sub)
}

func (b *MemoryBroker) consume(ctx context.Context, sub *memorySubscription) {
	defer b.wg.Done()
	h := sub.handle
	for {
		b.mu.Lock()
		log := b.logLocked(h.Topic, h.Key)
		start, ok := b.offsets[h.ID]
		if !ok {
			b.mu.Unlock()
			return
		}
		end := min(len(log.records), start+b.opts.maxBatch)
		batch := make([]Message, 0, end-start)
		for i := start; i < end; i++ {
			batch = append(batch, Message{Topic: h.Topic, Key: h.Key, Value: log.records[i], Offset: int64(i)})
		}
		notify := log.notify
		b.mu.Unlock()

		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-notify:
				continue
			}
		}

		if err := sub.handler(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("subscription handler failed, redelivering",
				"subscription", h.ID,
				"topic", h.Topic,
				"key", h.Key,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.opts.retryDelay):
				continue
			}
		}

		b.mu.Lock()
		if cur, ok := b.offsets[h.ID]; ok && cur == start {
			b.offsets[h.ID] = end
		}
		b.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
	}
}

// logLocked must be called while holding b.mu.
func (b *MemoryBroker) logLocked(topic, key string) *partitionLog {
	k := topic + "\x00" + key
	log, ok := b.logs[k]
	if !ok {
		log = &partitionLog{notify: make(chan struct{})}
		b.logs[k] = log
	}
	return log
}
