package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultCleanupInterval = 5 * time.Minute

type fixedWindow struct {
	start    time.Time
	duration time.Duration
	count    int
}

func (window *fixedWindow) activeAt(now time.Time) bool {
	return now.Sub(window.start) < window.duration
}

// MemoryStore keeps windows in process memory. Suitable for a single instance; use RedisStore
// when several instances share users.
type MemoryStore struct {
	mutex   sync.Mutex
	windows map[string]*fixedWindow
	nowFn   func() time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryClock replaces the wall clock.
func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(store *MemoryStore) {
		if now != nil {
			store.nowFn = now
		}
	}
}

// WithCleanupInterval sets how often lapsed windows are dropped; zero disables the cleanup loop.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(store *MemoryStore) {
		store.cleanupInterval = interval
	}
}

// NewMemoryStore creates a MemoryStore and starts its cleanup loop.
func NewMemoryStore(options ...MemoryStoreOption) *MemoryStore {
	store := &MemoryStore{
		windows:         make(map[string]*fixedWindow),
		nowFn:           time.Now,
		cleanupInterval: defaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	for _, option := range options {
		if option != nil {
			option(store)
		}
	}
	if store.cleanupInterval > 0 {
		go store.cleanupLoop()
	}
	return store
}

// Increment implements Store.
func (store *MemoryStore) Increment(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	now := store.nowFn()
	current, exists := store.windows[key]
	if !exists || !current.activeAt(now) {
		store.windows[key] = &fixedWindow{start: now, duration: window, count: 1}
		return true, 1, nil
	}
	if current.count >= limit {
		return false, current.count, nil
	}
	current.count++
	return true, current.count, nil
}

// Count implements Store.
func (store *MemoryStore) Count(ctx context.Context, key string) (int, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	current, exists := store.windows[key]
	if !exists || !current.activeAt(store.nowFn()) {
		return 0, nil
	}
	return current.count, nil
}

// Len reports how many windows are tracked.
func (store *MemoryStore) Len() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.windows)
}

// Close stops the cleanup loop.
func (store *MemoryStore) Close() error {
	store.closeOnce.Do(func() {
		close(store.stopCleanup)
	})
	return nil
}

func (store *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(store.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			store.cleanup()
		case <-store.stopCleanup:
			return
		}
	}
}

func (store *MemoryStore) cleanup() {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	now := store.nowFn()
	for key, window := range store.windows {
		if !window.activeAt(now) {
			delete(store.windows, key)
		}
	}
}
