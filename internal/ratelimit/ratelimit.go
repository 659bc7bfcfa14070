// Package ratelimit provides the Gatekeeper's per-client sliding window
// rate limiter. Backends are selected by configuration: memory for a
// single Gatekeeper instance, redis for a window shared across replicas.
package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/queryrelay/queryrelay/internal/config"
)

// Limiter decides whether one more request from the given client
// identity fits inside the sliding window
type Limiter interface {
	// Allow records the request and reports whether it is within the
	// limit. The request is counted even when rejected, matching a
	// sliding window over attempts rather than admissions.
	Allow(ctx context.Context, identity string) (bool, error)

	// Close releases backend resources
	Close() error
}

// NewLimiter creates a Limiter based on configuration.
// Default is the in-memory backend if type is not specified.
func NewLimiter(cfg config.RateLimitConfig) (Limiter, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "memory":
		return newMemoryLimiter(cfg), nil

	case "redis":
		return newRedisLimiter(cfg)

	default:
		return nil, fmt.Errorf("unsupported rate limit type: %s (supported: memory, redis)", cfg.Type)
	}
}
