// Package cache provides the response cache of the federating gateway: an
// opaque binary store keyed by canonical request fingerprints, with optional
// gzip compression and exchangeable key value backends.
package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
)

// Backend types selectable through the cache configuration.
const (
	TypeNull   = "null"
	TypeMemory = "memory"
	TypeRedis  = "redis"
)

// DefaultTimeout is the entry lifetime applied when the configuration leaves
// it unset.
const DefaultTimeout = 300 * time.Second

// Config selects and tunes the cache backend.
type Config struct {
	// Type is one of null, memory or redis. An empty type means null.
	Type string
	// URL is the redis address for the redis backend.
	URL string
	// DefaultTimeout is the lifetime of cached entries.
	DefaultTimeout time.Duration
	// Compress enables gzip compression of stored payloads.
	Compress bool
}

type backend interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	delete(ctx context.Context, key string) error
	exists(ctx context.Context, key string) (bool, error)
	flushAll(ctx context.Context) error
}

// Cache fronts a key value backend, optionally gzip compressing stored
// payloads. The zero value behaves like a disabled cache.
type Cache struct {
	backend  backend
	ttl      time.Duration
	compress bool
}

// New returns the configured cache. The null type yields a cache on which
// every lookup misses and every write is a no-op.
func New(cfg Config) (*Cache, error) {
	ttl := cfg.DefaultTimeout
	if ttl <= 0 {
		ttl = DefaultTimeout
	}
	c := &Cache{ttl: ttl, compress: cfg.Compress}
	switch cfg.Type {
	case TypeNull, "":
	case TypeMemory:
		c.backend = newMemoryBackend(ttl)
	case TypeRedis:
		if cfg.URL == "" {
			return nil, errors.New("redis cache requires a URL")
		}
		c.backend = newRedisBackend(cfg.URL)
	default:
		return nil, errors.Errorf("invalid cache type: %q", cfg.Type)
	}
	return c, nil
}

// Enabled reports whether a backend is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.backend != nil
}

// Compressed reports whether stored payloads are gzip compressed.
func (c *Cache) Compressed() bool {
	return c.compress
}

// Get returns the cached payload in its original form. The second return
// value is false on a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := c.GetRaw(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	if !c.compress {
		return raw, true, nil
	}
	decompressed, err := gunzip(raw)
	if err != nil {
		return nil, false, errors.Wrap(err, "corrupt cache entry")
	}
	return decompressed, true, nil
}

// GetRaw returns the cached payload in its stored form, compressed when the
// cache compresses. Callers forwarding the raw blob must emit a matching
// Content-Encoding header.
func (c *Cache) GetRaw(ctx context.Context, key string) ([]byte, bool, error) {
	if !c.Enabled() {
		return nil, false, nil
	}
	return c.backend.get(ctx, key)
}

// Set stores a payload under key with the configured lifetime.
func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	if !c.Enabled() {
		return nil
	}
	if c.compress {
		compressed, err := gzipBytes(value)
		if err != nil {
			return err
		}
		value = compressed
	}
	return c.backend.set(ctx, key, value, c.ttl)
}

// Delete removes a cached entry.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if !c.Enabled() {
		return nil
	}
	return c.backend.delete(ctx, key)
}

// Exists reports whether key is cached.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	return c.backend.exists(ctx, key)
}

// FlushAll drops all cached entries.
func (c *Cache) FlushAll(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.backend.flushAll(ctx)
}

func gzipBytes(value []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(value); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(raw []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = zr.Close()
	}()
	return io.ReadAll(zr)
}
