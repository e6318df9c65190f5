// Package fastcache is the Redis-backed fast tier of the prompt cache.
package fastcache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "prompt:"

// Redis stores prompt payloads under "prompt:<key>" with a TTL.
type Redis struct {
	client *redis.Client
}

// New connects to redisURL (redis://[:password@]host:port/db).
func New(redisURL string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Redis{client: redis.NewClient(opt)}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Get returns the payload for key. A missing key is (nil, false, nil).
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Put stores payload for key. A non-positive ttl stores without expiry.
func (r *Redis) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, keyPrefix+key, payload, ttl).Err()
}

// Delete removes key. Deleting a missing key is not an error.
func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, keyPrefix+key).Err()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
