package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/asepharyana/gatewayd/internal/chat"
	"github.com/asepharyana/gatewayd/internal/db"
	"github.com/asepharyana/gatewayd/internal/jobs"
)

const imageCacheRetention = 30 * 24 * time.Hour
const emptyRoomGrace = 15 * time.Minute
const defaultOrphanTTL = 10 * time.Minute

// CacheGCTask deletes image-cache rows older than 30 days, removes the
// matching Redis mirrors, and assigns a default TTL to any key in a known
// namespace that is currently missing one.
func CacheGCTask(rdb *redis.Client, pool *db.Pool) Task {
	return Task{
		Name: "cache_gc",
		Cron: "0 3 * * *", // daily at 03:00
		Run: func(ctx context.Context) error {
			removed, err := gcStaleImageRows(ctx, rdb, pool)
			if err != nil {
				return err
			}
			fixed, err := assignMissingTTLs(ctx, rdb)
			if err != nil {
				return err
			}
			log.Info().Int("rows_removed", removed).Int("ttls_assigned", fixed).Msg("cache GC complete")
			return nil
		},
	}
}

func gcStaleImageRows(ctx context.Context, rdb *redis.Client, pool *db.Pool) (int, error) {
	if pool == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-imageCacheRetention)

	rows, err := pool.Query(ctx, `SELECT hash FROM image_cache WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("query stale image rows: %w", err)
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan stale image hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if len(hashes) == 0 {
		return 0, nil
	}

	if _, err := pool.Exec(ctx, `DELETE FROM image_cache WHERE created_at < $1`, cutoff); err != nil {
		return 0, fmt.Errorf("delete stale image rows: %w", err)
	}

	for _, h := range hashes {
		if err := rdb.Del(ctx, "img_cache:"+h).Err(); err != nil {
			log.Warn().Err(err).Str("hash", h).Msg("failed to remove stale image cache mirror")
		}
	}
	return len(hashes), nil
}

// namespacePrefixes are the Redis key prefixes the scheduler is allowed to
// scan for orphaned (no-TTL) keys, matching §6's persisted-state list.
var namespacePrefixes = []string{"fetch:proxy:", "img_cache:", "session:"}

func assignMissingTTLs(ctx context.Context, rdb *redis.Client) (int, error) {
	fixed := 0
	for _, prefix := range namespacePrefixes {
		iter := rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			ttl, err := rdb.TTL(ctx, key).Result()
			if err != nil {
				continue
			}
			if ttl < 0 {
				if err := rdb.Expire(ctx, key, defaultOrphanTTL).Err(); err == nil {
					fixed++
				}
			}
		}
		if err := iter.Err(); err != nil {
			return fixed, fmt.Errorf("scan namespace %q: %w", prefix, err)
		}
	}
	return fixed, nil
}

// EmptyRoomReaperTask removes rooms with zero members whose last activity
// exceeds the grace period.
func EmptyRoomReaperTask(hub *chat.Hub) Task {
	return Task{
		Name: "empty_room_reaper",
		Cron: "*/10 * * * *", // every 10 minutes
		Run: func(ctx context.Context) error {
			reaped := hub.Rooms().ReapEmpty(emptyRoomGrace)
			if reaped > 0 {
				log.Info().Int("reaped", reaped).Msg("empty chat rooms reaped")
			}
			return nil
		},
	}
}

// DelayedJobPromotionTask moves due entries from the delayed job set onto
// their target queues. It runs frequently since a job's delay is meant to
// expire close to its due time, not up to a cron period late.
func DelayedJobPromotionTask(queue *jobs.Queue) Task {
	return Task{
		Name: "delayed_job_promotion",
		Cron: "* * * * *", // every minute
		Run: func(ctx context.Context) error {
			promoted, err := queue.PromoteDelayed(ctx, time.Now())
			if err != nil {
				return fmt.Errorf("promote delayed jobs: %w", err)
			}
			if promoted > 0 {
				log.Info().Int("promoted", promoted).Msg("delayed jobs promoted")
			}
			return nil
		},
	}
}

// SessionSweepTask counts the live session:* keys and logs the total as
// active_sessions. It does not delete anything itself: Redis TTL expiry
// already reclaims expired keys, this task only surfaces the count for
// observability.
func SessionSweepTask(rdb *redis.Client) Task {
	return Task{
		Name: "session_sweep",
		Cron: "0 * * * *", // hourly
		Run: func(ctx context.Context) error {
			count := 0
			iter := rdb.Scan(ctx, 0, "session:*", 200).Iterator()
			for iter.Next(ctx) {
				count++
			}
			if err := iter.Err(); err != nil {
				return fmt.Errorf("scan sessions: %w", err)
			}
			log.Info().Int("active_sessions", count).Msg("session sweep complete")
			return nil
		},
	}
}
