package ratelimit

import "context"

// RateLimiter bounds delivery throughput per destination chat, so a burst of
// jobs for one recipient cannot trip the channel API's rate limits.
type RateLimiter interface {
	Allow(ctx context.Context, chatKey string) (bool, error)
	Wait(ctx context.Context, chatKey string) error
}
