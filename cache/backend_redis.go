package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCmdable narrows the redis client surface the backend depends on so
// that tests can substitute a fake.
type redisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	FlushDB(ctx context.Context) *redis.StatusCmd
}

// redisBackend shares cached responses across gateway instances.
type redisBackend struct {
	client redisCmdable
}

func newRedisBackend(addr string) *redisBackend {
	return &redisBackend{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (r *redisBackend) get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *redisBackend) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisBackend) delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *redisBackend) exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *redisBackend) flushAll(ctx context.Context) error {
	return r.client.FlushDB(ctx).Err()
}
