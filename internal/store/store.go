// Package store defines the typed key-value contract the Lens Gate core
// depends on: opaque byte values with TTL, counters, and a sorted-set
// subset. Backends are swappable; the audit chain and rate limiter only
// ever see this interface.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

// ErrBackend marks a retryable infrastructure failure (BACKEND_ERROR).
var ErrBackend = errors.New("store: backend error")

// BackendErr wraps an underlying backend failure so callers can match
// errors.Is(err, ErrBackend).
func BackendErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrBackend, op, err)
}

// Store is the primitive storage contract. Values are opaque byte strings;
// callers serialize domain objects to canonical JSON before writing.
// Operations are individually atomic; no multi-key transactions exist.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Incr(ctx context.Context, key string) (int64, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZRevRangeByScore(ctx context.Context, key string, max, min float64) ([]string, error)
	ZRem(ctx context.Context, key string, member string) error
	ZCard(ctx context.Context, key string) (int64, error)
}
