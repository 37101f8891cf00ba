// Package reingest guarantees that third-party image URLs eventually
// resolve to URLs served from the project's own object store, without
// slowing down the request that first encounters them.
package reingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/asepharyana/gatewayd/internal/apierr"
	"github.com/asepharyana/gatewayd/internal/db"
	"github.com/asepharyana/gatewayd/internal/fetch"
	"github.com/asepharyana/gatewayd/internal/objectstore"
	"github.com/asepharyana/gatewayd/internal/security"
	"github.com/asepharyana/gatewayd/internal/telemetry"
)

const redisMirrorTTL = 30 * 24 * time.Hour

var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

const maxImageBytes = 10 << 20 // 10 MiB

// Reingest implements CacheBatchLazy: Redis-then-Postgres lookup on the
// request path, with misses handed to a bounded background worker pool.
type Reingest struct {
	rdb     *redis.Client
	pool    *db.Pool
	fetcher *fetch.Fetcher
	store   *objectstore.Store

	sem chan struct{}

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New builds a Reingest pipeline. workers bounds the number of concurrent
// background fetch+upload jobs, mirroring the teacher's errgroup.SetLimit
// discipline used for browser pool shutdown.
func New(rdb *redis.Client, pool *db.Pool, fetcher *fetch.Fetcher, store *objectstore.Store, workers int) *Reingest {
	if workers < 1 {
		workers = 4
	}
	return &Reingest{
		rdb:      rdb,
		pool:     pool,
		fetcher:  fetcher,
		store:    store,
		sem:      make(chan struct{}, workers),
		inFlight: make(map[string]struct{}),
	}
}

// CacheBatchLazy returns, for each url, the already-cached stored URL or
// nil if not yet cached. Misses are enqueued on the background worker pool
// and do not block this call.
func (r *Reingest) CacheBatchLazy(ctx context.Context, urls []string) []*string {
	results := make([]*string, len(urls))

	for i, url := range urls {
		hash := hashURL(url)

		if stored, ok := r.lookupRedis(ctx, hash); ok {
			metrics.RecordImageReingested("skipped_cached")
			results[i] = &stored
			continue
		}
		if stored, ok := r.lookupDB(ctx, hash); ok {
			r.mirrorToRedis(ctx, hash, stored)
			metrics.RecordImageReingested("skipped_cached")
			results[i] = &stored
			continue
		}

		r.enqueue(url, hash)
	}

	return results
}

func hashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (r *Reingest) lookupRedis(ctx context.Context, hash string) (string, bool) {
	val, err := r.rdb.Get(ctx, "img_cache:"+hash).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (r *Reingest) mirrorToRedis(ctx context.Context, hash, storedURL string) {
	if err := r.rdb.Set(ctx, "img_cache:"+hash, storedURL, redisMirrorTTL).Err(); err != nil {
		log.Warn().Err(err).Str("hash", hash).Msg("failed to mirror image cache record to redis")
	}
}

func (r *Reingest) lookupDB(ctx context.Context, hash string) (string, bool) {
	if r.pool == nil {
		return "", false
	}
	var storedURL string
	err := r.pool.QueryRow(ctx, `SELECT stored_url FROM image_cache WHERE hash = $1`, hash).Scan(&storedURL)
	if err != nil {
		if err != pgx.ErrNoRows {
			log.Warn().Err(err).Str("hash", hash).Msg("image cache db lookup failed")
		}
		return "", false
	}
	return storedURL, true
}

// enqueue dedupes on hash so a URL already being processed within or
// across batches is not refetched, then starts a bounded background job.
func (r *Reingest) enqueue(url, hash string) {
	r.mu.Lock()
	if _, already := r.inFlight[hash]; already {
		r.mu.Unlock()
		return
	}
	r.inFlight[hash] = struct{}{}
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.inFlight, hash)
			r.mu.Unlock()
		}()

		select {
		case r.sem <- struct{}{}:
			defer func() { <-r.sem }()
		case <-time.After(30 * time.Second):
			log.Warn().Str("url", security.RedactURL(url)).Msg("image reingest worker pool saturated, dropping job")
			return
		}

		if err := r.process(context.Background(), url, hash); err != nil {
			outcome := "rejected"
			if !errors.Is(err, apierr.ErrImageTooLarge) && !errors.Is(err, apierr.ErrImageTypeNotAllowed) {
				outcome = "failed"
			}
			metrics.RecordImageReingested(outcome)
			log.Warn().Err(err).Str("url", security.RedactURL(url)).Msg("image reingest job failed, will retry on next request")
			return
		}
		metrics.RecordImageReingested("stored")
	}()
}

func (r *Reingest) process(ctx context.Context, url, hash string) error {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	result, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("fetch image: %w", err)
	}
	body := []byte(result.Body)
	if len(body) > maxImageBytes {
		return fmt.Errorf("%w: %d bytes", apierr.ErrImageTooLarge, len(body))
	}

	mime := http.DetectContentType(body)
	if !allowedMIME[mime] {
		return fmt.Errorf("%w: %s", apierr.ErrImageTypeNotAllowed, mime)
	}

	key := fmt.Sprintf("images/%s/%s", hash[:2], hash)
	storedURL, err := r.store.Put(ctx, key, body, mime)
	if err != nil {
		return fmt.Errorf("upload to object store: %w", err)
	}

	if r.pool != nil {
		_, err = r.pool.Exec(ctx, `
			INSERT INTO image_cache (origin_url, hash, stored_url, mime, size, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (hash) DO UPDATE SET stored_url = EXCLUDED.stored_url`,
			url, hash, storedURL, mime, len(body))
		if err != nil {
			return fmt.Errorf("write image cache row: %w", err)
		}
	}

	r.mirrorToRedis(ctx, hash, storedURL)
	return nil
}
