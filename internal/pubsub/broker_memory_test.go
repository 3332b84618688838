package pubsub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"shelfcheck/pkg/domain"
)

type MemoryBrokerSuite struct {
	suite.Suite
	broker   *MemoryBroker
	channels *Channels
}

func TestMemoryBrokerSuite(t *testing.T) {
	suite.Run(t, new(MemoryBrokerSuite))
}

func (s *MemoryBrokerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.broker = NewMemoryBroker(
		WithMaxBatch(10),
		WithRetryDelay(10*time.Millisecond),
		WithMemoryLogger(logger),
	)
	s.channels = NewChannels(s.broker, logger)
}

func (s *MemoryBrokerSuite) TearDownTest() {
	s.Require().NoError(s.broker.Close())
}

type collector struct {
	mu     sync.Mutex
	titles []string
}

func (c *collector) add(ts ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles = append(c.titles, ts...)
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.titles...)
}

func (s *MemoryBrokerSuite) TestDeliversInOrderFromSubscribePoint() {
	ctx := context.Background()
	s.Require().NoError(s.channels.PublishRequests(ctx, "lib", []string{"before"}))

	got := &collector{}
	_, err := s.channels.ConsumeRequests(ctx, "lib", "dispatch-lib", func(_ context.Context, titles []string) error {
		got.add(titles...)
		return nil
	})
	s.Require().NoError(err)

	s.Require().NoError(s.channels.PublishRequests(ctx, "lib", []string{"a", "b"}))
	s.Require().NoError(s.channels.PublishRequests(ctx, "LIB", []string{"c"}))

	s.Eventually(func() bool { return len(got.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	s.Equal([]string{"a", "b", "c"}, got.snapshot())
}

func (s *MemoryBrokerSuite) TestKeysArePartitioned() {
	ctx := context.Background()
	var calls atomic.Int32
	_, err := s.channels.SubscribeResults(ctx, "lib-a", func(context.Context, []LookupCompleted) error {
		calls.Add(1)
		return nil
	})
	s.Require().NoError(err)

	s.Require().NoError(s.channels.PublishResult(ctx, LookupCompleted{Catalog: "lib-b", Title: "x", Tags: domain.Resolved()}))
	s.Never(func() bool { return calls.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func (s *MemoryBrokerSuite) TestFailedBatchIsRedelivered() {
	ctx := context.Background()
	var attempts atomic.Int32
	got := &collector{}
	_, err := s.channels.SubscribeResults(ctx, "lib", func(_ context.Context, evs []LookupCompleted) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient")
		}
		for _, ev := range evs {
			got.add(ev.Title)
		}
		return nil
	})
	s.Require().NoError(err)

	s.Require().NoError(s.channels.PublishResult(ctx, LookupCompleted{Catalog: "lib", Title: "Alien", Tags: domain.Resolved(domain.TagDVD)}))

	s.Eventually(func() bool { return len(got.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	s.Equal(int32(2), attempts.Load())
}

func (s *MemoryBrokerSuite) TestUnsubscribeFromInsideHandler() {
	ctx := context.Background()
	var handle Handle
	var mu sync.Mutex
	var deliveries atomic.Int32

	h, err := s.channels.SubscribeResults(ctx, "lib", func(ctx context.Context, _ []LookupCompleted) error {
		deliveries.Add(1)
		mu.Lock()
		defer mu.Unlock()
		return s.channels.Unsubscribe(ctx, handle)
	})
	s.Require().NoError(err)
	mu.Lock()
	handle = h
	mu.Unlock()

	s.Require().NoError(s.channels.PublishResult(ctx, LookupCompleted{Catalog: "lib", Title: "one", Tags: domain.Resolved()}))
	s.Eventually(func() bool { return !s.broker.Active(h) }, time.Second, 5*time.Millisecond)

	s.Require().NoError(s.channels.PublishResult(ctx, LookupCompleted{Catalog: "lib", Title: "two", Tags: domain.Resolved()}))
	s.Never(func() bool { return deliveries.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func (s *MemoryBrokerSuite) TestResume() {
	ctx := context.Background()

	s.Run("running handle is a no-op", func() {
		var calls atomic.Int32
		h, err := s.channels.SubscribeResults(ctx, "resume-a", func(context.Context, []LookupCompleted) error {
			calls.Add(1)
			return nil
		})
		s.Require().NoError(err)
		s.Require().NoError(s.channels.ResumeResults(ctx, h, func(context.Context, []LookupCompleted) error {
			calls.Add(100)
			return nil
		}))
		s.Equal(1, s.broker.Subscriptions())

		s.Require().NoError(s.channels.PublishResult(ctx, LookupCompleted{Catalog: "resume-a", Title: "x", Tags: domain.Resolved()}))
		s.Eventually(func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	})

	s.Run("unknown handle starts at the current end", func() {
		s.Require().NoError(s.channels.PublishResult(ctx, LookupCompleted{Catalog: "resume-b", Title: "old", Tags: domain.Resolved()}))

		got := &collector{}
		h := Handle{ID: "sub-restored", Topic: TopicResults, Key: "resume-b"}
		s.Require().NoError(s.channels.ResumeResults(ctx, h, func(_ context.Context, evs []LookupCompleted) error {
			for _, ev := range evs {
				got.add(ev.Title)
			}
			return nil
		}))
		s.Require().NoError(s.channels.PublishResult(ctx, LookupCompleted{Catalog: "resume-b", Title: "new", Tags: domain.Resolved()}))
		s.Eventually(func() bool { return len(got.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
		s.Equal([]string{"new"}, got.snapshot())
	})
}

func (s *MemoryBrokerSuite) TestUndecodableResultsAreSkipped() {
	ctx := context.Background()
	got := &collector{}
	_, err := s.channels.SubscribeResults(ctx, "lib", func(_ context.Context, evs []LookupCompleted) error {
		for _, ev := range evs {
			got.add(ev.Title)
		}
		return nil
	})
	s.Require().NoError(err)

	s.Require().NoError(s.broker.Publish(ctx, TopicResults, "lib", []byte("{not json")))
	s.Require().NoError(s.channels.PublishResult(ctx, LookupCompleted{Catalog: "lib", Title: "ok", Tags: domain.Resolved()}))

	s.Eventually(func() bool { return len(got.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	s.Equal([]string{"ok"}, got.snapshot())
}

func (s *MemoryBrokerSuite) TestClosedBrokerRejectsPublish() {
	s.Require().NoError(s.broker.Close())
	err := s.channels.PublishRequests(context.Background(), "lib", []string{"late"})
	s.Error(err)
}
