// Package ratelimit provides per-client request limits for the camera API.
package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"camera-gateway/internal/streamerr"

	"github.com/go-chi/httprate"
)

// Config holds configuration for a rate limiting middleware.
type Config struct {
	// RequestLimit is the maximum number of requests allowed per window.
	RequestLimit int
	// WindowSize is the sliding window length.
	WindowSize time.Duration
	// KeyFunc extracts the rate limit key from the request. Defaults to the
	// client IP.
	KeyFunc func(r *http.Request) (string, error)
}

// Limit returns a sliding window rate limiter. Rejected requests get a 429
// JSON error envelope with a Retry-After header.
func Limit(cfg Config) func(http.Handler) http.Handler {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}
	window := cfg.WindowSize
	if window <= 0 {
		window = time.Minute
	}

	return httprate.Limit(
		cfg.RequestLimit,
		window,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			streamerr.WriteJSON(w, streamerr.New(streamerr.KindRateLimited,
				"Too many requests. Please try again later.").
				WithDetail("limit", cfg.RequestLimit).
				WithDetail("window_seconds", int(window.Seconds())))
		}),
	)
}

// PerMinute limits each client to n requests per minute.
func PerMinute(n int) func(http.Handler) http.Handler {
	return Limit(Config{RequestLimit: n, WindowSize: time.Minute})
}
