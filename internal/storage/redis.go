package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/surface-mapper/pkg/utils"
)

const visitedKeyPrefix = "mapper:visited:"

// RedisVisited is the visited-set implementation backed by Redis, so a
// re-run within the TTL skips targets already mapped.
type RedisVisited struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisVisited(addr string, ttl time.Duration) *RedisVisited {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisVisited{client: rdb, ttl: ttl}
}

func (s *RedisVisited) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Seen reports whether key was already recorded, recording it atomically
// as a side effect. SETNX keeps check and mark race-free across workers.
func (s *RedisVisited) Seen(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s%s", visitedKeyPrefix, utils.HashKey(key))
	set, err := s.client.SetNX(ctx, redisKey, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}
