// Package middleware throttles inbound API requests per client IP so a single
// caller cannot flood the catalogs through the list endpoints.
package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"shelfcheck/internal/ratelimit/models"
	"shelfcheck/internal/ratelimit/ports"
	"shelfcheck/pkg/platform/httputil"
	"shelfcheck/pkg/platform/middleware/metadata"
)

type Middleware struct {
	store    ports.WindowStore
	limit    int
	window   time.Duration
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// New admits limit requests per client IP in every window. A non-positive
// limit disables the middleware.
func New(store ports.WindowStore, limit int, window time.Duration, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		store:    store,
		limit:    limit,
		window:   window,
		logger:   logger,
		disabled: limit <= 0 || window <= 0,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("api rate limiting disabled")
	}
	return m
}

// RateLimit fails open: a store error lets the request through.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		ip := metadata.GetClient(ctx).IP
		if ip == "" {
			ip = metadata.ClientIPFromRequest(r)
		}

		result, err := m.store.AllowN(ctx, models.WindowKey(models.ScopeClientIP, ip), 1, m.limit, m.window)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to check api rate limit", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		addRateLimitHeaders(w, result)

		if !result.Allowed {
			writeRateLimitExceeded(w, result)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.Result) {
	retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests from this IP address. Please try again later.",
		RetryAfter: retryAfter,
	})
}
