package cache

import (
	"context"
	"time"
)

// Store is the shared counter store behind request throttling.
type Store interface {
	// IncrementWithTTL bumps key inside a fixed window and returns the new
	// count with the time left in the window.
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Ping(ctx context.Context) error
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
