package persona

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "relaybot:persona:"

// RedisStore keeps personas in Redis so they survive restarts
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to the Redis instance at url. A zero ttl keeps keys forever.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisStore{client: c, ttl: ttl}, nil
}

var _ Store = (*RedisStore)(nil)

func key(userID int64) string {
	return keyPrefix + strconv.FormatInt(userID, 10)
}

func (r *RedisStore) Get(ctx context.Context, userID int64) (string, error) {
	res, err := r.client.Get(ctx, key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", err
	}
	return res, nil
}

func (r *RedisStore) Set(ctx context.Context, userID int64, persona string) error {
	return r.client.Set(ctx, key(userID), persona, r.ttl).Err()
}

func (r *RedisStore) Clear(ctx context.Context, userID int64) error {
	return r.client.Del(ctx, key(userID)).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
