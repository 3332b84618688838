package actor

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

	"shelfcheck/pkg/platform/sentinel"
)

type counter struct {
	key   string
	value int
}

type RegistrySuite struct {
	suite.Suite
	activations atomic.Int32
	clock       *fakeClock
	registry    *Registry[*counter]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.activations.Store(0)
	s.clock = &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s.registry = NewRegistry("counters", func(_ context.Context, key string) (*counter, error) {
		s.activations.Add(1)
		return &counter{key: key}, nil
	},
		WithIdleTimeout(time.Minute),
		WithClock(s.clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func (s *RegistrySuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Require().NoError(s.registry.Close(ctx))
}

func (s *RegistrySuite) TestActivatesOncePerKey() {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.Require().NoError(s.registry.Call(ctx, "a", func(context.Context, *counter) error { return nil }))
	}
	_, err := s.registry.Get(ctx, "a")
	s.Require().NoError(err)
	s.Equal(int32(1), s.activations.Load())
	s.Equal(1, s.registry.Len())
}

func (s *RegistrySuite) TestCallsAreSerialized() {
	ctx := context.Background()
	const workers = 50

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.registry.Call(ctx, "shared", func(_ context.Context, c *counter) error {
				n := inFlight.Add(1)
				if n > maxInFlight.Load() {
					maxInFlight.Store(n)
				}
				c.value++
				inFlight.Add(-1)
				return nil
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	c, err := s.registry.Get(ctx, "shared")
	s.Require().NoError(err)
	s.Equal(workers, c.value)
	s.Equal(int32(1), maxInFlight.Load())
}

func (s *RegistrySuite) TestSubmissionOrder() {
	ctx := context.Background()
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		s.Require().NoError(s.registry.Call(ctx, "ordered", func(context.Context, *counter) error {
			order = append(order, i)
			return nil
		}))
	}
	s.Equal([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func (s *RegistrySuite) TestGetDoesNotWaitBehindCalls() {
	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = s.registry.Call(ctx, "busy", func(context.Context, *counter) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	getCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	c, err := s.registry.Get(getCtx, "busy")
	s.Require().NoError(err)
	s.Equal("busy", c.key)
	close(release)
}

func (s *RegistrySuite) TestCallerCancellationDoesNotAbortQueuedWork() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	entered := make(chan struct{})

	go func() {
		_ = s.registry.Call(ctx, "slow", func(workCtx context.Context, c *counter) error {
			close(entered)
			time.Sleep(50 * time.Millisecond)
			if workCtx.Err() == nil {
				c.value = 42
			}
			close(done)
			return nil
		})
	}()
	<-entered
	cancel()
	<-done

	c, err := s.registry.Get(context.Background(), "slow")
	s.Require().NoError(err)
	s.Equal(42, c.value)
}

func (s *RegistrySuite) TestErrorsAndPanicsReachCaller() {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.registry.Call(ctx, "k", func(context.Context, *counter) error { return boom })
	s.ErrorIs(err, boom)

	err = s.registry.Call(ctx, "k", func(context.Context, *counter) error { panic("kaboom") })
	s.Require().Error(err)
	s.Contains(err.Error(), "kaboom")

	s.NoError(s.registry.Call(ctx, "k", func(context.Context, *counter) error { return nil }),
		"instance keeps serving after a panic")
}

func (s *RegistrySuite) TestIdleEviction() {
	ctx := context.Background()
	s.Require().NoError(s.registry.Call(ctx, "idle", func(context.Context, *counter) error { return nil }))

	s.clock.Advance(30 * time.Second)
	s.Equal(0, s.registry.Sweep())

	s.clock.Advance(31 * time.Second)
	s.Equal(1, s.registry.Sweep())
	s.Equal(0, s.registry.Len())

	s.Require().NoError(s.registry.Call(ctx, "idle", func(context.Context, *counter) error { return nil }))
	s.Equal(int32(2), s.activations.Load(), "evicted key is re-activated on next use")
}

func (s *RegistrySuite) TestClosedRegistryRejectsWork() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Require().NoError(s.registry.Close(ctx))

	err := s.registry.Call(context.Background(), "late", func(context.Context, *counter) error { return nil })
	s.ErrorIs(err, sentinel.ErrClosed)
}

func TestActivationFailureIsRetried(t *testing.T) {
	var attempts atomic.Int32
	activateErr := errors.New("state store down")
	r := NewRegistry("flaky", func(_ context.Context, key string) (int, error) {
		if attempts.Add(1) == 1 {
			return 0, activateErr
		}
		return 7, nil
	}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	defer r.Close(context.Background())

	err := r.Call(context.Background(), "k", func(context.Context, int) error { return nil })
	if !errors.Is(err, activateErr) {
		t.Fatalf("expected activation error, got %v", err)
	}

	v, err := r.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("expected second activation to succeed: %v", err)
	}
	if v != 7 {
		t.Fatalf("expected activated value 7, got %d", v)
	}
}

func TestKeepAliveBlocksEviction(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	var pinned atomic.Bool
	pinned.Store(true)
	r := NewRegistry("pinned", func(_ context.Context, key string) (*counter, error) {
		return &counter{key: key}, nil
	},
		WithIdleTimeout(time.Minute),
		WithClock(clock.Now),
		WithKeepAlive(func(*counter) bool { return pinned.Load() }),
	)
	defer r.Close(context.Background())

	if _, err := r.Get(context.Background(), "k"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Minute)
	if n := r.Sweep(); n != 0 {
		t.Fatalf("expected pinned instance to survive, evicted %d", n)
	}

	var keys []string
	r.Range(func(key string, c *counter) { keys = append(keys, c.key) })
	if len(keys) != 1 || keys[0] != "k" {
		t.Fatalf("unexpected live instances %v", keys)
	}

	pinned.Store(false)
	if n := r.Sweep(); n != 1 {
		t.Fatalf("expected eviction once released, evicted %d", n)
	}
}
