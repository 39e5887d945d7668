// Package ratelimit throttles credit checks with a fixed window per user.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultWindow      = 60 * time.Second
	defaultMaxRequests = 50
	keyPrefix          = "credits:ratelimit:"
)

var (
	ErrInvalidConfig = errors.New("invalid rate limiter config")
	ErrEmptyUserID   = errors.New("empty user id")
)

// Store keeps fixed-window counters. Implementations must make Increment atomic per key.
type Store interface {
	// Increment opens a window with count 1 when none is active, refuses without counting when the
	// active window already holds limit requests, and counts the request otherwise.
	Increment(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, count int, err error)
	// Count returns the number of requests in the active window, or zero.
	Count(ctx context.Context, key string) (int, error)
	Close() error
}

// Config holds the limiter settings.
type Config struct {
	Store       Store
	Window      time.Duration
	MaxRequests int
}

// DefaultConfig returns a 50 requests per minute limiter over an in-memory store.
func DefaultConfig() Config {
	return Config{Window: defaultWindow, MaxRequests: defaultMaxRequests}
}

// Limiter implements credits.RateLimiter.
type Limiter struct {
	store       Store
	window      time.Duration
	maxRequests int
}

// NewLimiter builds a Limiter. A nil Store defaults to a MemoryStore.
func NewLimiter(config Config) (*Limiter, error) {
	if config.Window <= 0 {
		return nil, fmt.Errorf("%w: window must be positive", ErrInvalidConfig)
	}
	if config.MaxRequests <= 0 {
		return nil, fmt.Errorf("%w: max requests must be positive", ErrInvalidConfig)
	}
	store := config.Store
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{store: store, window: config.Window, maxRequests: config.MaxRequests}, nil
}

// Allow counts a request for the user and reports whether it fits the current window.
func (limiter *Limiter) Allow(ctx context.Context, userID string) (bool, error) {
	key, err := limiterKey(userID)
	if err != nil {
		return false, err
	}
	allowed, _, err := limiter.store.Increment(ctx, key, limiter.maxRequests, limiter.window)
	if err != nil {
		return false, fmt.Errorf("rate limit increment: %w", err)
	}
	return allowed, nil
}

// Remaining reports how many requests the user may still make in the current window.
func (limiter *Limiter) Remaining(ctx context.Context, userID string) (int, error) {
	key, err := limiterKey(userID)
	if err != nil {
		return 0, err
	}
	count, err := limiter.store.Count(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("rate limit count: %w", err)
	}
	remaining := limiter.maxRequests - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Limit returns the maximum number of requests per window.
func (limiter *Limiter) Limit() int {
	return limiter.maxRequests
}

// Window returns the window length.
func (limiter *Limiter) Window() time.Duration {
	return limiter.window
}

// Close releases the store.
func (limiter *Limiter) Close() error {
	return limiter.store.Close()
}

func limiterKey(userID string) (string, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return "", ErrEmptyUserID
	}
	return keyPrefix + trimmed, nil
}
