// Package ports defines the storage boundary of the ratelimit module.
package ports

import (
	"context"
	"time"

	"shelfcheck/internal/ratelimit/models"
)

// WindowStore keeps sliding-window permit logs. Implementations must make
// AllowN atomic per key so concurrent callers never exceed limit.
type WindowStore interface {
	// AllowN consumes cost permits if they fit in the window ending now.
	AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (*models.Result, error)

	// Reset clears the permit log for a key.
	Reset(ctx context.Context, key string) error

	// GetCurrentCount returns the permits consumed in the current window.
	GetCurrentCount(ctx context.Context, key string, window time.Duration) (int, error)
}
