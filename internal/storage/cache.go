package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/racepix/racepix/internal/faults"
	"github.com/racepix/racepix/internal/observability"
)

const (
	downloadBackoffBase = 2 * time.Second
	downloadBackoffCap  = 8 * time.Second
)

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// DownloadCache wraps an ObjectStore with a single-flight, TTL-bounded
// download cache. Concurrent callers requesting the same key share one
// underlying fetch; different keys download fully in parallel. Entries
// expire a fixed TTL after population, independent of access.
type DownloadCache struct {
	store    ObjectStore
	ttl      time.Duration
	attempts int
	timeout  time.Duration

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]cacheEntry

	backoffBase time.Duration
	backoffCap  time.Duration
	now         func() time.Time
}

// NewDownloadCache builds a cache over store. attempts is the number of
// download tries per fetch, timeout bounds each individual attempt.
func NewDownloadCache(store ObjectStore, ttl time.Duration, attempts int, timeout time.Duration) *DownloadCache {
	return &DownloadCache{
		store:       store,
		ttl:         ttl,
		attempts:    attempts,
		timeout:     timeout,
		entries:     make(map[string]cacheEntry),
		backoffBase: downloadBackoffBase,
		backoffCap:  downloadBackoffCap,
		now:         time.Now,
	}
}

// Download returns the bytes for key, serving from cache when possible.
// After exhausting retries it returns a faults.RetrievalError wrapping the
// last underlying error.
func (c *DownloadCache) Download(ctx context.Context, key string) ([]byte, error) {
	if data, ok := c.lookup(key); ok {
		observability.DownloadCacheHits.Inc()
		return data, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A waiter may have queued up just after the previous flight
		// populated the cache.
		if data, ok := c.lookup(key); ok {
			return data, nil
		}

		data, err := c.fetchWithRetry(ctx, key)
		if err != nil {
			return nil, err
		}
		c.put(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *DownloadCache) lookup(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.data, true
}

func (c *DownloadCache) put(key string, data []byte) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{data: data, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()

	// Fixed TTL from population, not sliding.
	time.AfterFunc(c.ttl, func() {
		c.mu.Lock()
		if entry, ok := c.entries[key]; ok && !c.now().Before(entry.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	})
}

// fetchWithRetry downloads key with bounded attempts and increasing
// backoff. A too-small buffer or unknown image signature counts as a
// retryable error, not a final result.
func (c *DownloadCache) fetchWithRetry(ctx context.Context, key string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		data, err := c.store.Download(attemptCtx, key)
		cancel()

		if err == nil {
			verr := validateImageBuffer(data)
			if verr == nil {
				observability.DownloadFetches.Inc()
				return data, nil
			}
			err = fmt.Errorf("invalid image buffer: %w", verr)
		}
		lastErr = err
		slog.Warn("download attempt failed", "key", key, "attempt", attempt, "error", err)

		if attempt == c.attempts {
			break
		}

		backoff := time.Duration(attempt) * c.backoffBase
		if backoff > c.backoffCap {
			backoff = c.backoffCap
		}
		select {
		case <-ctx.Done():
			return nil, &faults.RetrievalError{Key: key, Err: ctx.Err()}
		case <-time.After(backoff):
		}
	}

	return nil, &faults.RetrievalError{Key: key, Err: lastErr}
}

// Len reports the number of live cache entries, for tests and stats.
func (c *DownloadCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
