// Package ratelimit provides per-caller request rate limiting over a
// sliding window.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrRateLimited is returned when a caller exceeds its request ceiling.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config defines rate limiting parameters.
type Config struct {
	// RequestsPerWindow is the maximum requests allowed per window.
	RequestsPerWindow int64

	// Window is the time window for rate limiting.
	Window time.Duration

	// KeyPrefix is prepended to all rate limit keys.
	KeyPrefix string
}

// DefaultConfig returns sensible rate limiting defaults.
func DefaultConfig() *Config {
	return &Config{
		RequestsPerWindow: 60,
		Window:            time.Minute,
		KeyPrefix:         "ratelimit:",
	}
}

// normalize fills in unusable config values. A non-positive window is
// replaced with the default; a non-positive ceiling is kept as-is and
// denies every request.
func normalize(cfg *Config) *Config {
	if cfg == nil {
		return DefaultConfig()
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	return cfg
}

// Result contains the rate limit check result.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter decides whether a request from the given caller identity is
// allowed right now.
type Limiter interface {
	Allow(ctx context.Context, key string) (*Result, error)
}
