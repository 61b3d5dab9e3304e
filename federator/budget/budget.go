// Package budget tracks upstream response codes per endpoint URL in a
// rolling, TTL bounded time series and derives the error ratio used as the
// client retry budget: endpoints whose recent share of 500/503 responses
// exceeds the configured threshold are dropped from dispatch for the
// remainder of a federated request.
package budget

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultThreshold is the error ratio above which an endpoint is dropped.
const DefaultThreshold = 1.0

// DefaultTTL bounds the age of response codes considered by the error ratio.
const DefaultTTL = 3600 * time.Second

// DefaultWindowSize caps the number of response codes kept per endpoint.
const DefaultWindowSize = 100

// errorCodes are the response codes counted as errors by the error ratio.
var errorCodes = map[int]bool{500: true, 503: true}

// store is the sorted set surface the statistics need. Members carry an
// insertion unix time as their score. The redis implementation applies
// mutations in optimistic transactions so that multiple gateway processes
// can share one time series.
type store interface {
	// appendTrimmed adds a member, first discarding the oldest members so
	// the set does not grow beyond maxSize.
	appendTrimmed(ctx context.Context, key, member string, score float64, maxSize int64) error
	// dropBelow removes all members with a score at or below cutoff.
	dropBelow(ctx context.Context, key string, cutoff float64) error
	// scoreRange returns the members with scores within [min, max].
	scoreRange(ctx context.Context, key string, min, max float64) ([]string, error)
}

// Config tunes the client retry budget.
type Config struct {
	// Threshold is the error ratio in [0, 1] above which an endpoint is
	// dropped.
	Threshold float64
	// TTL is the rolling window the error ratio is computed over.
	TTL time.Duration
	// WindowSize caps the kept response codes per endpoint. The cap is an
	// upper bound only, best effort under concurrent writers.
	WindowSize int64
}

// Stats is the per endpoint response code time series.
type Stats struct {
	store store
	cfg   Config
	now   func() time.Time
}

// NewStats returns statistics over the given redis store.
func NewStats(rs *RedisStore, cfg Config) *Stats {
	return newStats(rs, cfg)
}

func newStats(s store, cfg Config) *Stats {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	return &Stats{store: s, cfg: cfg, now: time.Now}
}

// Add appends a response code observed for the endpoint URL, trimming the
// series to the configured window size.
func (s *Stats) Add(ctx context.Context, endpointURL string, code int) error {
	key, err := Key(endpointURL)
	if err != nil {
		return err
	}
	score := float64(s.now().Unix())
	return s.store.appendTrimmed(ctx, key, encodeMember(code, score), score, s.cfg.WindowSize)
}

// GC removes response codes that aged out of the TTL window.
func (s *Stats) GC(ctx context.Context, endpointURL string) error {
	key, err := Key(endpointURL)
	if err != nil {
		return err
	}
	cutoff := float64(s.now().Add(-s.cfg.TTL).Unix())
	return s.store.dropBelow(ctx, key, cutoff)
}

// ErrorRatio returns the share of error responses among all responses
// recorded for the endpoint URL within the TTL window. An empty window
// yields zero.
func (s *Stats) ErrorRatio(ctx context.Context, endpointURL string) (float64, error) {
	key, err := Key(endpointURL)
	if err != nil {
		return 0, err
	}
	now := s.now()
	members, err := s.store.scoreRange(ctx, key, float64(now.Add(-s.cfg.TTL).Unix()), float64(now.Unix()))
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}
	var errorCount int
	for _, m := range members {
		code, err := decodeMember(m)
		if err != nil {
			continue
		}
		if errorCodes[code] {
			errorCount++
		}
	}
	return float64(errorCount) / float64(len(members)), nil
}

// Exceeded reports whether the endpoint's error ratio exceeds the configured
// threshold.
func (s *Stats) Exceeded(ctx context.Context, endpointURL string) (bool, error) {
	ratio, err := s.ErrorRatio(ctx, endpointURL)
	if err != nil {
		return false, err
	}
	return ratio > s.cfg.Threshold, nil
}

// Key derives the canonical time series key of an endpoint URL: the URL path
// joined with its netloc.
func Key(endpointURL string) (string, error) {
	u, err := url.Parse(endpointURL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid endpoint URL %q", endpointURL)
	}
	return strings.Join([]string{u.Path, u.Host}, "/"), nil
}

// encodeMember renders one time series member. The random suffix keeps
// members unique when identical codes arrive within the same second.
func encodeMember(code int, score float64) string {
	u := uuid.New()
	return fmt.Sprintf("%d:%d:%s", code, int64(score), hex.EncodeToString(u[:8]))
}

// decodeMember extracts the response code from a member.
func decodeMember(member string) (int, error) {
	idx := strings.IndexByte(member, ':')
	if idx < 1 {
		return 0, errors.Errorf("malformed time series member %q", member)
	}
	code, err := strconv.Atoi(member[:idx])
	if err != nil {
		return 0, errors.Wrapf(err, "malformed time series member %q", member)
	}
	return code, nil
}
