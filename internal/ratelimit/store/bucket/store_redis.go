package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"shelfcheck/internal/ratelimit/models"
)

const (
	// Redis key prefix for permit logs
	bucketKeyPrefix = "shelfcheck:ratelimit:"
)

// allowScript trims the sorted-set log, then either appends cost members or
// reports when the blocking member ages out. Scores are microseconds.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count + cost <= limit then
	for i = 1, cost do
		redis.call('ZADD', key, now, member .. ':' .. i)
	end
	redis.call('PEXPIRE', key, math.ceil(window / 1000))
	return {1, limit - count - cost, 0}
end

local retry = window
local idx = count + cost - limit - 1
if idx >= 0 then
	local blocking = redis.call('ZRANGE', key, idx, idx, 'WITHSCORES')
	if blocking[2] then
		retry = tonumber(blocking[2]) + window - now
	end
end
return {0, 0, retry}
`)

// RedisBucketStore shares permit logs across instances through Redis sorted sets.
type RedisBucketStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedis creates a Redis-backed bucket store.
func NewRedis(client *redis.Client) *RedisBucketStore {
	return &RedisBucketStore{client: client, now: time.Now}
}

func (s *RedisBucketStore) AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (*models.Result, error) {
	now := s.now()
	res, err := allowScript.Run(ctx, s.client, []string{bucketKeyPrefix + key},
		now.UnixMicro(),
		window.Microseconds(),
		limit,
		cost,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis allow script: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("redis allow script: unexpected reply length %d", len(res))
	}

	if res[0] == 1 {
		return &models.Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: int(res[1]),
			ResetAt:   now.Add(window),
		}, nil
	}
	retryAfter := time.Duration(res[2]) * time.Microsecond
	return &models.Result{
		Allowed:    false,
		Limit:      limit,
		ResetAt:    now.Add(retryAfter),
		RetryAfter: retryAfter,
	}, nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, bucketKeyPrefix+key).Err()
}

func (s *RedisBucketStore) GetCurrentCount(ctx context.Context, key string, window time.Duration) (int, error) {
	lower := fmt.Sprintf("(%d", s.now().Add(-window).UnixMicro())
	n, err := s.client.ZCount(ctx, bucketKeyPrefix+key, lower, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcount: %w", err)
	}
	return int(n), nil
}
