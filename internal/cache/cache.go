// Package cache implements the two-tier Redis-backed response cache with
// in-process and cross-process single-flight collapsing.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/asepharyana/gatewayd/internal/apierr"
	"github.com/asepharyana/gatewayd/internal/telemetry"
)

// pendingEntry is one process-local single-flight ticket: a future shared
// by every caller racing for the same key, named after chproxy's
// pendingEntries bookkeeping but carrying a result channel instead of a
// deadline, since our producer runs to completion rather than expiring.
type pendingEntry struct {
	done chan struct{}
	val  []byte
	err  error
}

// Cache is a typed get-or-compute facade over Redis. Concurrent callers for
// the same key within one process observe at most one producer; across
// processes a Redis lock restricts the producer and losers poll.
type Cache struct {
	rdb *redis.Client

	mu      sync.Mutex
	pending map[string]*pendingEntry

	lockTTL    time.Duration
	pollEvery  time.Duration
	pollCeil   time.Duration
}

// New wraps an existing Redis client. lockTTL bounds how long a producer may
// hold the cross-process lock before another process may take over.
func New(rdb *redis.Client, lockTTL time.Duration) *Cache {
	return &Cache{
		rdb:       rdb,
		pending:   make(map[string]*pendingEntry),
		lockTTL:   lockTTL,
		pollEvery: 200 * time.Millisecond,
		pollCeil:  10 * time.Second,
	}
}

// GetOrSet returns the cached value for key, computing it with producer on
// a miss. Concurrent GetOrSet calls for the same key share one producer
// invocation in-process, and cooperate across processes via a Redis lock.
func GetOrSet[V any](ctx context.Context, c *Cache, key string, ttl time.Duration, producer func(ctx context.Context) (V, error)) (V, error) {
	var zero V

	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var v V
		if jsonErr := json.Unmarshal(raw, &v); jsonErr == nil {
			metrics.RecordCacheLookup("hit")
			return v, nil
		}
		log.Warn().Str("key", key).Msg("cache entry failed to unmarshal, treating as miss")
	} else if !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Str("key", key).Msg("cache read failed, falling through to producer")
	}

	entry, isProducer := c.register(key)
	if !isProducer {
		metrics.RecordCacheSingleFlightWait()
		<-entry.done
		if entry.err != nil {
			return zero, entry.err
		}
		var v V
		if err := json.Unmarshal(entry.val, &v); err != nil {
			return zero, fmt.Errorf("unmarshal shared result: %w", err)
		}
		return v, nil
	}

	wrapped := func(ctx context.Context) ([]byte, error) {
		val, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("marshal producer result: %w", err)
		}
		return raw, nil
	}

	raw, err := c.produce(ctx, key, ttl, wrapped)
	c.complete(key, entry, raw, err)
	if err != nil {
		metrics.RecordCacheLookup("miss")
		return zero, err
	}
	metrics.RecordCacheLookup("miss")

	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, fmt.Errorf("unmarshal produced result: %w", err)
	}
	return v, nil
}

// register adds key to the process-local single-flight table and returns
// the ticket plus whether this call is the producer.
func (c *Cache) register(key string) (*pendingEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.pending[key]; ok {
		return existing, false
	}
	entry := &pendingEntry{done: make(chan struct{})}
	c.pending[key] = entry
	return entry, true
}

// complete publishes the producer's result to waiters and evicts the ticket.
// Closing done exactly once mirrors the single-sender-closes shape used for
// pool/session shutdown broadcasting elsewhere in this codebase.
func (c *Cache) complete(key string, entry *pendingEntry, raw []byte, err error) {
	entry.val, entry.err = raw, err
	close(entry.done)

	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

// produce acquires the cross-process lock, runs producer, writes the
// result, and releases the lock; a caller that loses the lock race instead
// polls the cache until the lock-holder publishes or the wait ceiling
// elapses.
func (c *Cache) produce(ctx context.Context, key string, ttl time.Duration, producer func(context.Context) ([]byte, error)) ([]byte, error) {
	lockKey := key + ":lock"
	acquired, err := c.rdb.SetNX(ctx, lockKey, "1", c.lockTTL).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis lock acquisition failed, producing locally")
		acquired = true
	}

	if !acquired {
		return c.pollForValue(ctx, key)
	}
	defer c.rdb.Del(ctx, lockKey)

	raw, err := producer(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache write failed after successful produce")
	}
	return raw, nil
}

// pollForValue waits for another process's producer to publish key, up to
// the configured wait ceiling, returning ErrSingleFlightWaiter on expiry.
func (c *Cache) pollForValue(ctx context.Context, key string) ([]byte, error) {
	deadline := time.Now().Add(c.pollCeil)
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			raw, err := c.rdb.Get(ctx, key).Bytes()
			if err == nil {
				return raw, nil
			}
			if time.Now().After(deadline) {
				return nil, apierr.ErrSingleFlightWaiter
			}
		}
	}
}

// Invalidate removes key from Redis immediately, bypassing the single-flight
// table (for explicit cache-busts).
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// Close releases the underlying Redis client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
