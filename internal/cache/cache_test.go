package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return New(rdb, 5*time.Second), srv
}

type payload struct {
	Value string `json:"value"`
}

func TestGetOrSetProducesOnMiss(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var calls int32
	producer := func(ctx context.Context) (payload, error) {
		atomic.AddInt32(&calls, 1)
		return payload{Value: "hello"}, nil
	}

	got, err := GetOrSet(ctx, c, "k1", time.Minute, producer)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Value)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestGetOrSetHitsCacheOnSecondCall(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var calls int32
	producer := func(ctx context.Context) (payload, error) {
		atomic.AddInt32(&calls, 1)
		return payload{Value: "hello"}, nil
	}

	_, err := GetOrSet(ctx, c, "k1", time.Minute, producer)
	require.NoError(t, err)
	_, err = GetOrSet(ctx, c, "k1", time.Minute, producer)
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "second call should be served from redis, not re-invoke producer")
}

func TestGetOrSetSingleFlightCollapsesConcurrentCallers(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var calls int32
	release := make(chan struct{})
	producer := func(ctx context.Context) (payload, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return payload{Value: "slow"}, nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]payload, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = GetOrSet(ctx, c, "shared", time.Minute, producer)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "only one goroutine should have produced")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "slow", results[i].Value)
	}
}

func TestGetOrSetPropagatesProducerError(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	wantErr := assert.AnError
	_, err := GetOrSet(ctx, c, "k-err", time.Minute, func(ctx context.Context) (payload, error) {
		return payload{}, wantErr
	})

	assert.ErrorIs(t, err, wantErr)
}

func TestInvalidateRemovesKey(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	_, err := GetOrSet(ctx, c, "k1", time.Minute, func(ctx context.Context) (payload, error) {
		return payload{Value: "x"}, nil
	})
	require.NoError(t, err)
	assert.True(t, srv.Exists("k1"))

	require.NoError(t, c.Invalidate(ctx, "k1"))
	assert.False(t, srv.Exists("k1"))
}
