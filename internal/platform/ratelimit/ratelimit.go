// Package ratelimit throttles endpoints that hit the upstream REST API.
package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// Config holds the limit applied per client IP.
type Config struct {
	// RequestLimit is the maximum number of requests allowed in the window.
	// Zero or less disables limiting.
	RequestLimit int
	// WindowSize is the sliding window length.
	WindowSize time.Duration
}

// Middleware returns an httprate sliding-window limiter keyed by client IP.
// Rejected requests get a JSON 429 with Retry-After.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if cfg.RequestLimit <= 0 || cfg.WindowSize <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(cfg.WindowSize.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"Too many requests. Please try again later."}`))
		}),
	)
}
