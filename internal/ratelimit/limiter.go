package ratelimit

import "context"

// RateLimiter decides whether one more request fits the caller's window.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
