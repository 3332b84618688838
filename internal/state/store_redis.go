package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"shelfcheck/pkg/platform/sentinel"
)

// Each document is a hash holding its JSON data and version.
const (
	stateKeyPrefix = "shelfcheck:state:"

	fieldData    = "data"
	fieldVersion = "version"
)

// RedisStore keeps each document in a hash with data and version fields and
// uses WATCH/MULTI for compare-and-set.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Read(ctx context.Context, kind, key string) ([]byte, int64, error) {
	fields, err := s.client.HGetAll(ctx, redisStateKey(kind, key)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, 0, sentinel.ErrNotFound
	}
	version, err := strconv.ParseInt(fields[fieldVersion], 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("parse stored version: %w", err)
	}
	return []byte(fields[fieldData]), version, nil
}

func (s *RedisStore) Write(ctx context.Context, kind, key string, data []byte, expected int64) (int64, error) {
	k := redisStateKey(kind, key)
	next := expected + 1

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, k, fieldVersion).Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != expected {
			return sentinel.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, fieldData, data, fieldVersion, next)
			return nil
		})
		return err
	}, k)

	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, sentinel.ErrConflict):
		return 0, fmt.Errorf("version %d is stale: %w", expected, sentinel.ErrConflict)
	default:
		return 0, fmt.Errorf("redis write state: %w", err)
	}
}

func redisStateKey(kind, key string) string {
	return stateKeyPrefix + kind + ":" + key
}
