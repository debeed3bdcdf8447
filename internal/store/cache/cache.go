package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// CacheService defines the interface for a distributed cache system
type CacheService interface {
	// Get unmarshals the cached value into dest, or returns ErrMiss.
	Get(ctx context.Context, key string, dest any) error

	// Set stores a value in the cache with a TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	Delete(ctx context.Context, key string) error
}
