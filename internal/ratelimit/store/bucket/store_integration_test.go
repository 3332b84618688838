//go:build integration

package bucket_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"shelfcheck/internal/ratelimit/ports"
	"shelfcheck/internal/ratelimit/store/bucket"
	"shelfcheck/pkg/testutil/containers"
)

// sharedStoreSuite holds the checks both shared backends must pass.
type sharedStoreSuite struct {
	suite.Suite
	store ports.WindowStore
}

// TestConcurrentAllowN verifies that concurrent callers never exceed the limit.
func (s *sharedStoreSuite) TestConcurrentAllowN() {
	ctx := context.Background()
	key := "concurrent-test"
	limit := 10
	const goroutines = 50

	var wg sync.WaitGroup
	var allowed, denied atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.store.AllowN(ctx, key, 1, limit, time.Minute)
			s.NoError(err)
			if err != nil {
				return
			}
			if result.Allowed {
				allowed.Add(1)
			} else {
				denied.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(limit), allowed.Load())
	s.Equal(int32(goroutines-limit), denied.Load())

	count, err := s.store.GetCurrentCount(ctx, key, time.Minute)
	s.Require().NoError(err)
	s.Equal(limit, count)
}

// TestWindowExpiry verifies permits return once the window passes.
func (s *sharedStoreSuite) TestWindowExpiry() {
	ctx := context.Background()
	key := "expiry-test"
	window := time.Second

	result, err := s.store.AllowN(ctx, key, 1, 1, window)
	s.Require().NoError(err)
	s.True(result.Allowed)

	result, err = s.store.AllowN(ctx, key, 1, 1, window)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Greater(result.RetryAfter, time.Duration(0))
	s.LessOrEqual(result.RetryAfter, window)

	time.Sleep(1200 * time.Millisecond)

	result, err = s.store.AllowN(ctx, key, 1, 1, window)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

// TestReset verifies reset clears the permit log.
func (s *sharedStoreSuite) TestReset() {
	ctx := context.Background()
	key := "reset-test"

	result, err := s.store.AllowN(ctx, key, 5, 5, time.Minute)
	s.Require().NoError(err)
	s.True(result.Allowed)

	s.Require().NoError(s.store.Reset(ctx, key))

	result, err = s.store.AllowN(ctx, key, 5, 5, time.Minute)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

type RedisStoreSuite struct {
	sharedStoreSuite
	redis *containers.RedisContainer
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = bucket.NewRedis(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

type PostgresStoreSuite struct {
	sharedStoreSuite
	postgres *containers.PostgresContainer
	pg       *bucket.PostgresBucketStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.pg = bucket.NewPostgres(s.postgres.DB)
	s.Require().NoError(s.pg.EnsureSchema(context.Background()))
	s.store = s.pg
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "rate_limit_events"))
}

// TestResetAll verifies batch cleanup across keys.
func (s *PostgresStoreSuite) TestResetAll() {
	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		_, err := s.pg.AllowN(ctx, key, 1, 1, time.Minute)
		s.Require().NoError(err)
	}
	s.Require().NoError(s.pg.ResetAll(ctx, "a", "b"))

	for key, want := range map[string]int{"a": 0, "b": 0, "c": 1} {
		count, err := s.pg.GetCurrentCount(ctx, key, time.Minute)
		s.Require().NoError(err)
		s.Equal(want, count, key)
	}
}
