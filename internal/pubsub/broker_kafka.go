package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"shelfcheck/pkg/platform/sentinel"
)

// KafkaBroker maps topics onto Kafka topics and keys onto record keys. Each
// Handle is a consumer group, so a resumed subscription continues from the
// group's committed offsets.
type KafkaBroker struct {
	seeds    []string
	clientID string
	opts     brokerOptions
	logger   *slog.Logger

	producer *kgo.Client
	admin    *kadm.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	subs   map[string]context.CancelFunc
	closed bool
}

// KafkaOption configures a KafkaBroker.
type KafkaOption func(*KafkaBroker)

// WithKafkaLogger sets the logger.
func WithKafkaLogger(logger *slog.Logger) KafkaOption {
	return func(b *KafkaBroker) {
		b.logger = logger
	}
}

// WithClientID sets the Kafka client id prefix.
func WithClientID(id string) KafkaOption {
	return func(b *KafkaBroker) {
		if id != "" {
			b.clientID = id
		}
	}
}

// WithKafkaMaxBatch bounds the records polled per batch.
func WithKafkaMaxBatch(n int) KafkaOption {
	return func(b *KafkaBroker) {
		if n > 0 {
			b.opts.maxBatch = n
		}
	}
}

// WithKafkaRetryDelay sets the pause before redelivering a failed batch.
func WithKafkaRetryDelay(d time.Duration) KafkaOption {
	return func(b *KafkaBroker) {
		if d > 0 {
			b.opts.retryDelay = d
		}
	}
}

// NewKafkaBroker connects a producer and an admin client to seeds.
func NewKafkaBroker(seeds []string, opts ...KafkaOption) (*KafkaBroker, error) {
	if len(seeds) == 0 {
		return nil, errors.New("kafka seed brokers are required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &KafkaBroker{
		seeds:    seeds,
		clientID: "shelfcheck",
		opts:     defaultBrokerOptions(),
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(b)
	}

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.ClientID(b.clientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	b.producer = producer
	b.admin = kadm.NewClient(producer)
	return b, nil
}

// EnsureTopics creates topics that do not exist yet.
func (b *KafkaBroker) EnsureTopics(ctx context.Context, partitions int32, replication int16, topics ...string) error {
	resp, err := b.admin.CreateTopics(ctx, partitions, replication, nil, topics...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, r := range resp.Sorted() {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Health pings the cluster.
func (b *KafkaBroker) Health(ctx context.Context) error {
	return b.producer.Ping(ctx)
}

func (b *KafkaBroker) Publish(ctx context.Context, topic, key string, values ...[]byte) error {
	if len(values) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(values))
	for _, v := range values {
		records = append(records, &kgo.Record{Topic: topic, Key: []byte(key), Value: v})
	}
	if err := b.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

func (b *KafkaBroker) Subscribe(_ context.Context, topic, key string, handler Handler, opts ...SubscribeOption) (Handle, error) {
	o := applySubscribeOptions(opts)
	id := o.id
	if id == "" {
		id = "sub-" + uuid.NewString()
	}
	handle := Handle{ID: id, Topic: topic, Key: key, Since: time.Now().UnixMilli()}
	if err := b.start(handle, handler); err != nil {
		return Handle{}, err
	}
	return handle, nil
}

func (b *KafkaBroker) Resume(_ context.Context, handle Handle, handler Handler) error {
	if handle.IsZero() {
		return errors.New("resume: empty handle")
	}
	return b.start(handle, handler)
}

func (b *KafkaBroker) Unsubscribe(_ context.Context, handle Handle) error {
	b.mu.Lock()
	cancel, running := b.subs[handle.ID]
	delete(b.subs, handle.ID)
	b.mu.Unlock()

	if running {
		// The consume loop deletes the group once its client has left.
		cancel()
		return nil
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.deleteGroup(handle.ID)
	}()
	return nil
}

func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	b.producer.Close()
	return nil
}

func (b *KafkaBroker) start(handle Handle, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return sentinel.ErrClosed
	}
	if _, ok := b.subs[handle.ID]; ok {
		return nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(b.seeds...),
		kgo.ClientID(b.clientID),
		kgo.ConsumerGroup(handle.ID),
		kgo.ConsumeTopics(handle.Topic),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AfterMilli(handle.Since)),
	)
	if err != nil {
		return fmt.Errorf("create kafka consumer %s: %w", handle.ID, err)
	}

	ctx, cancel := context.WithCancel(b.ctx)
	b.subs[handle.ID] = cancel
	b.wg.Add(1)
	go b.consume(ctx, client, handle, handler)
	return nil
}

func (b *KafkaBroker) consume(ctx context.Context, client *kgo.Client, handle Handle, handler Handler) {
	defer b.wg.Done()
	defer func() {
		client.Close()
		b.mu.Lock()
		_, stillRunning := b.subs[handle.ID]
		closing := b.closed
		b.mu.Unlock()
		// Unsubscribed rather than shut down: drop the group's offsets.
		if !stillRunning && !closing {
			b.deleteGroup(handle.ID)
		}
	}()

	for {
		fetches := client.PollRecords(ctx, b.opts.maxBatch)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			b.logger.Warn("kafka fetch error",
				"subscription", handle.ID,
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		var (
			records []*kgo.Record
			batch   []Message
		)
		fetches.EachRecord(func(r *kgo.Record) {
			records = append(records, r)
			if string(r.Key) == handle.Key {
				batch = append(batch, Message{Topic: r.Topic, Key: handle.Key, Value: r.Value, Offset: r.Offset})
			}
		})
		if len(records) == 0 {
			continue
		}

		for len(batch) > 0 {
			err := handler(ctx, batch)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("subscription handler failed, redelivering",
				"subscription", handle.ID,
				"topic", handle.Topic,
				"key", handle.Key,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.opts.retryDelay):
			}
		}

		if err := client.CommitRecords(context.WithoutCancel(ctx), records...); err != nil {
			b.logger.Warn("kafka commit failed", "subscription", handle.ID, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (b *KafkaBroker) deleteGroup(group string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := b.admin.DeleteGroups(ctx, group)
	if err == nil {
		err = resp.Error()
	}
	if err != nil && !errors.Is(err, kerr.GroupIDNotFound) {
		b.logger.Warn("delete consumer group failed", "group", group, "error", err)
	}
}
