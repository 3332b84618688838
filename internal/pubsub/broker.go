// Package pubsub moves lookup requests and lookup results between components.
//
// Topics are partitioned by key (the catalog id): messages for one key are
// delivered in publish order, in batches, at least once. Subscriptions are
// identified by a durable Handle that a subscriber persists and later hands
// back to Resume after it is re-activated.
package pubsub

import (
	"context"
	"time"
)

// Message is one record delivered to a Handler.
type Message struct {
	Topic  string
	Key    string
	Value  []byte
	Offset int64
}

// Handler processes a batch. A non-nil error leaves the batch unacknowledged
// and it is redelivered.
type Handler func(ctx context.Context, msgs []Message) error

// Handle identifies a durable subscription.
type Handle struct {
	ID    string `json:"id"`
	Topic string `json:"topic"`
	Key   string `json:"key"`
	// Since is the publish time (unix ms) a fresh subscription starts from.
	Since int64 `json:"since"`
}

func (h Handle) IsZero() bool { return h.ID == "" }

// Broker is the transport behind Channels.
type Broker interface {
	Publish(ctx context.Context, topic, key string, values ...[]byte) error
	// Subscribe starts a subscription for messages published from now on.
	Subscribe(ctx context.Context, topic, key string, handler Handler, opts ...SubscribeOption) (Handle, error)
	// Resume restarts a subscription where it left off. Resuming a handle
	// that is already running is a no-op.
	Resume(ctx context.Context, handle Handle, handler Handler) error
	// Unsubscribe stops delivery without waiting for an in-flight batch, so
	// it may be called from inside that batch's handler.
	Unsubscribe(ctx context.Context, handle Handle) error
	Close() error
}

// SubscribeOption configures Subscribe.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	id string
}

// WithHandleID subscribes under a fixed id so several processes share one
// subscription. Subscribing with the id of a running subscription is a no-op.
func WithHandleID(id string) SubscribeOption {
	return func(o *subscribeOptions) {
		o.id = id
	}
}

func applySubscribeOptions(opts []SubscribeOption) subscribeOptions {
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// brokerOptions are shared by every Broker implementation.
type brokerOptions struct {
	maxBatch   int
	retryDelay time.Duration
}

func defaultBrokerOptions() brokerOptions {
	return brokerOptions{maxBatch: 100, retryDelay: time.Second}
}
