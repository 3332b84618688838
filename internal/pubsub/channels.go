package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"shelfcheck/pkg/domain"
)

const (
	// TopicRequests carries titles waiting for a catalog lookup.
	TopicRequests = "shelfcheck.lookup-requests"
	// TopicResults carries LookupCompleted events.
	TopicResults = "shelfcheck.lookup-results"
)

// LookupCompleted announces a resolved title in one catalog.
type LookupCompleted struct {
	Catalog string      `json:"catalog"`
	Title   string      `json:"title"`
	Tags    domain.Tags `json:"tags"`
}

// Channels gives the two logical topics typed payloads. Both are keyed by
// lowercased catalog id.
type Channels struct {
	broker Broker
	logger *slog.Logger
}

func NewChannels(broker Broker, logger *slog.Logger) *Channels {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channels{broker: broker, logger: logger}
}

// PublishRequests enqueues titles for the catalog's dispatcher.
func (c *Channels) PublishRequests(ctx context.Context, catalog string, titles []string) error {
	values := make([][]byte, 0, len(titles))
	for _, t := range titles {
		values = append(values, []byte(t))
	}
	if err := c.broker.Publish(ctx, TopicRequests, catalogKey(catalog), values...); err != nil {
		return fmt.Errorf("publish lookup requests: %w", err)
	}
	return nil
}

// PublishResult announces a completed lookup.
func (c *Channels) PublishResult(ctx context.Context, ev LookupCompleted) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode lookup result: %w", err)
	}
	if err := c.broker.Publish(ctx, TopicResults, catalogKey(ev.Catalog), data); err != nil {
		return fmt.Errorf("publish lookup result: %w", err)
	}
	return nil
}

// SubscribeResults starts a durable subscription to the catalog's results.
func (c *Channels) SubscribeResults(ctx context.Context, catalog string, fn func(context.Context, []LookupCompleted) error) (Handle, error) {
	return c.broker.Subscribe(ctx, TopicResults, catalogKey(catalog), c.decodeResults(fn))
}

// ResumeResults restarts a results subscription from its handle.
func (c *Channels) ResumeResults(ctx context.Context, handle Handle, fn func(context.Context, []LookupCompleted) error) error {
	return c.broker.Resume(ctx, handle, c.decodeResults(fn))
}

// ConsumeRequests subscribes group to the catalog's request stream.
func (c *Channels) ConsumeRequests(ctx context.Context, catalog, group string, fn func(context.Context, []string) error) (Handle, error) {
	handler := func(ctx context.Context, msgs []Message) error {
		titles := make([]string, 0, len(msgs))
		for _, m := range msgs {
			titles = append(titles, string(m.Value))
		}
		return fn(ctx, titles)
	}
	return c.broker.Subscribe(ctx, TopicRequests, catalogKey(catalog), handler, WithHandleID(group))
}

// Unsubscribe stops a subscription. Safe to call from inside its handler.
func (c *Channels) Unsubscribe(ctx context.Context, handle Handle) error {
	return c.broker.Unsubscribe(ctx, handle)
}

func (c *Channels) decodeResults(fn func(context.Context, []LookupCompleted) error) Handler {
	return func(ctx context.Context, msgs []Message) error {
		events := make([]LookupCompleted, 0, len(msgs))
		for _, m := range msgs {
			var ev LookupCompleted
			if err := json.Unmarshal(m.Value, &ev); err != nil {
				c.logger.WarnContext(ctx, "skipping undecodable lookup result",
					"offset", m.Offset,
					"key", m.Key,
					"error", err,
				)
				continue
			}
			events = append(events, ev)
		}
		if len(events) == 0 {
			return nil
		}
		return fn(ctx, events)
	}
}

func catalogKey(catalog string) string {
	return strings.ToLower(strings.TrimSpace(catalog))
}
