package ratelimit

import "context"

// RateLimiter bounds how many requests a principal may issue per second.
type RateLimiter interface {
	Allow(ctx context.Context, principal string) (bool, error)
}
