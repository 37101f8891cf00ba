package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb), rdb
}

func TestEnqueueThenDequeueRoundTrips(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "images", map[string]string{"url": "x"}, map[string]string{"tenant": "a"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := q.Dequeue(ctx, "images", time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, "a", job.Meta["tenant"])

	var payload map[string]string
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, "x", payload["url"])
}

func TestDequeueTimesOutWithoutError(t *testing.T) {
	q, _ := newTestQueue(t)
	job, err := q.Dequeue(context.Background(), "empty", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestEnqueueDelayedIsNotImmediatelyDequeueable(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.EnqueueDelayed(ctx, "images", "payload", time.Now().Add(time.Hour))
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, "images", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job, "a delayed job must not appear on its queue before promotion")
}

func TestPromoteDelayedMovesDueJobsOntoTheirQueue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	dueID, err := q.EnqueueDelayed(ctx, "images", "due", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = q.EnqueueDelayed(ctx, "images", "not-due", time.Now().Add(time.Hour))
	require.NoError(t, err)

	promoted, err := q.PromoteDelayed(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	job, err := q.Dequeue(ctx, "images", 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, dueID, job.ID)

	// The not-due job should still be absent.
	job2, err := q.Dequeue(ctx, "images", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job2)
}

func TestPromoteDelayedIsIdempotentOnceDrained(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.EnqueueDelayed(ctx, "images", "due", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	first, err := q.PromoteDelayed(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := q.PromoteDelayed(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, second, "promoting again should find nothing left in the delayed set")
}
