package redis

import (
	"context"
	"fmt"
	"time"

	chat_errors "spacechat/pkg/errors"

	goredis "github.com/redis/go-redis/v9"
)

// Store adapts a redis client to the cache.Store contract. Redis trouble
// surfaces as ErrCacheUnavailable so callers can tell a degraded cache
// from a miss.
type Store struct {
	client *goredis.Client
}

func NewStore(client *goredis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable(err)
	}
	return data, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return unavailable(s.client.Set(ctx, key, value, ttl).Err())
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return unavailable(s.client.Del(ctx, keys...).Err())
}

func (s *Store) DeleteByPattern(ctx context.Context, pattern string) error {
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return unavailable(err)
	}
	if len(keys) == 0 {
		return nil
	}
	return unavailable(s.client.Del(ctx, keys...).Err())
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", chat_errors.ErrCacheUnavailable, err)
}
