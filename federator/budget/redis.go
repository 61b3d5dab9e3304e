package budget

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	// txAttempts bounds the retries of an optimistic transaction under
	// concurrent writers.
	txAttempts = 5
	// txRetryDelay spaces out transaction retries.
	txRetryDelay = 10 * time.Millisecond
)

// RedisConfig locates the shared redis instance and sizes its connection
// pool.
type RedisConfig struct {
	// URL is a redis:// connection URL.
	URL string
	// PoolMinSize keeps this many idle connections open.
	PoolMinSize int
	// PoolMaxSize caps the connection pool.
	PoolMaxSize int
	// PoolTimeout bounds the wait for a free connection.
	PoolTimeout time.Duration
}

// RedisStore keeps the response code time series in redis sorted sets so all
// gateway processes share one retry budget.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the redis instance named by the configuration.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis URL")
	}
	if cfg.PoolMaxSize > 0 {
		opts.PoolSize = cfg.PoolMaxSize
	}
	if cfg.PoolMinSize > 0 {
		opts.MinIdleConns = cfg.PoolMinSize
	}
	if cfg.PoolTimeout > 0 {
		opts.PoolTimeout = cfg.PoolTimeout
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// Close releases the connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// appendTrimmed runs the trim and add as one optimistic transaction: the key
// is watched, its cardinality read, and the mutation committed only if no
// concurrent writer touched the series in between. Conflicts are retried
// after a short delay.
func (r *RedisStore) appendTrimmed(ctx context.Context, key, member string, score float64, maxSize int64) error {
	txn := func(tx *redis.Tx) error {
		card, err := tx.ZCard(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if overflow := card + 1 - maxSize; overflow > 0 {
				pipe.ZRemRangeByRank(ctx, key, 0, overflow-1)
			}
			pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
			return nil
		})
		return err
	}
	for i := 0; i < txAttempts; i++ {
		err := r.client.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(txRetryDelay):
		}
	}
	return errors.Errorf("appending to time series %q kept conflicting", key)
}

func (r *RedisStore) dropBelow(ctx context.Context, key string, cutoff float64) error {
	return r.client.ZRemRangeByScore(ctx, key, "-inf", formatScore(cutoff)).Err()
}

func (r *RedisStore) scoreRange(ctx context.Context, key string, min, max float64) ([]string, error) {
	return r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: formatScore(min), Max: formatScore(max)}).Result()
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
