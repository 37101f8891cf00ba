// Package jobs implements the minimal Redis-backed job queue primitives
// backing the jobs:queue:<name>, jobs:data:<id>, jobs:data:<id>:meta, and
// jobs:delayed keys named in the persisted-state list.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const delayedKey = "jobs:delayed"

// Job is one queued unit of work: Payload is opaque to this package and
// decoded by whatever worker dequeues it.
type Job struct {
	ID      string          `json:"id"`
	Queue   string          `json:"queue"`
	Payload json.RawMessage `json:"payload"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Queue wraps a Redis client with the Enqueue/EnqueueDelayed/Dequeue API
// the persisted key list implies but the distilled spec never names.
type Queue struct {
	rdb *redis.Client
}

// New wraps an existing Redis client.
func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue pushes payload onto queue name's list and writes its data/meta
// rows, returning the generated job ID.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, meta map[string]string) (string, error) {
	id := uuid.NewString()
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf("jobs:data:%s", id), raw, 0)
	if len(meta) > 0 {
		metaRaw, err := json.Marshal(meta)
		if err != nil {
			return "", fmt.Errorf("marshal job meta: %w", err)
		}
		pipe.Set(ctx, fmt.Sprintf("jobs:data:%s:meta", id), metaRaw, 0)
	}
	pipe.LPush(ctx, "jobs:queue:"+name, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// EnqueueDelayed schedules payload to become dequeueable at runAt by adding
// it to the jobs:delayed sorted set, scored by execute-at epoch seconds.
// A separate worker loop (PromoteDelayed) moves due entries onto their
// target queue.
func (q *Queue) EnqueueDelayed(ctx context.Context, name string, payload any, runAt time.Time) (string, error) {
	id := uuid.NewString()
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal delayed job payload: %w", err)
	}

	entry, err := json.Marshal(Job{ID: id, Queue: name, Payload: raw})
	if err != nil {
		return "", fmt.Errorf("marshal delayed job entry: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf("jobs:data:%s", id), raw, 0)
	pipe.ZAdd(ctx, delayedKey, redis.Z{Score: float64(runAt.Unix()), Member: entry})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue delayed job: %w", err)
	}
	return id, nil
}

// PromoteDelayed moves every jobs:delayed entry due at or before now onto
// its target queue's list. Intended to be called periodically by the
// Scheduler.
func (q *Queue) PromoteDelayed(ctx context.Context, now time.Time) (int, error) {
	entries, err := q.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed jobs: %w", err)
	}

	promoted := 0
	for _, raw := range entries {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		pipe := q.rdb.TxPipeline()
		pipe.LPush(ctx, "jobs:queue:"+job.Queue, job.ID)
		pipe.ZRem(ctx, delayedKey, raw)
		if _, err := pipe.Exec(ctx); err != nil {
			continue
		}
		promoted++
	}
	return promoted, nil
}

// Dequeue blocks up to timeout for a job ID on queue name and loads its
// payload. It returns (nil, nil) on timeout rather than an error, so
// callers can loop without special-casing.
func (q *Queue) Dequeue(ctx context.Context, name string, timeout time.Duration) (*Job, error) {
	res, err := q.rdb.BRPop(ctx, timeout, "jobs:queue:"+name).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}

	id := res[1]
	raw, err := q.rdb.Get(ctx, fmt.Sprintf("jobs:data:%s", id)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("load job payload %s: %w", id, err)
	}

	job := &Job{ID: id, Queue: name, Payload: raw}

	metaRaw, err := q.rdb.Get(ctx, fmt.Sprintf("jobs:data:%s:meta", id)).Bytes()
	if err == nil {
		var meta map[string]string
		if json.Unmarshal(metaRaw, &meta) == nil {
			job.Meta = meta
		}
	}
	return job, nil
}
