package reingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asepharyana/gatewayd/internal/config"
	"github.com/asepharyana/gatewayd/internal/fetch"
	"github.com/asepharyana/gatewayd/internal/objectstore"
)

// fakeOriginAndStore serves a small PNG at /image.png and accepts any PUT as
// a successful object upload, standing in for the scraped origin site and
// the S3-compatible bucket in the same httptest server.
func fakeOriginAndStore(t *testing.T) *httptest.Server {
	t.Helper()
	var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "image/png")
			w.Write(pngBytes)
		case http.MethodPut:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
}

func newTestReingest(t *testing.T, srv *httptest.Server) (*Reingest, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store, err := objectstore.New(context.Background(), &config.Config{
		S3Bucket:         "images",
		S3Region:         "us-east-1",
		S3Endpoint:       srv.URL,
		S3AccessKey:      "test",
		S3SecretKey:      "test",
		S3ForcePathStyle: true,
	})
	require.NoError(t, err)

	fetcher := fetch.New("", 2, nil)
	fetcher.SetURLValidator(func(ctx context.Context, rawURL string) error { return nil })
	return New(rdb, nil, fetcher, store, 2), rdb
}

func TestCacheBatchLazyReturnsNilForUncachedAndEnqueues(t *testing.T) {
	srv := fakeOriginAndStore(t)
	defer srv.Close()

	r, rdb := newTestReingest(t, srv)

	results := r.CacheBatchLazy(context.Background(), []string{srv.URL + "/image.png"})
	require.Len(t, results, 1)
	assert.Nil(t, results[0], "first lookup of an unseen URL should not block for the background upload")

	assert.Eventually(t, func() bool {
		hash := hashURL(srv.URL + "/image.png")
		_, err := rdb.Get(context.Background(), "img_cache:"+hash).Result()
		return err == nil
	}, 2*time.Second, 20*time.Millisecond, "background job should eventually populate the redis mirror")
}

func TestCacheBatchLazyReturnsCachedURLFromRedis(t *testing.T) {
	srv := fakeOriginAndStore(t)
	defer srv.Close()

	r, rdb := newTestReingest(t, srv)

	url := srv.URL + "/image.png"
	hash := hashURL(url)
	require.NoError(t, rdb.Set(context.Background(), "img_cache:"+hash, "https://cdn.example.com/cached.png", 0).Err())

	results := r.CacheBatchLazy(context.Background(), []string{url})
	require.Len(t, results, 1)
	require.NotNil(t, results[0])
	assert.Equal(t, "https://cdn.example.com/cached.png", *results[0])
}

func TestCacheBatchLazyDedupesConcurrentRequestsForSameURL(t *testing.T) {
	release := make(chan struct{})
	var gets int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets++
			<-release
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r, _ := newTestReingest(t, srv)
	url := srv.URL + "/image.png"

	r.CacheBatchLazy(context.Background(), []string{url})
	r.CacheBatchLazy(context.Background(), []string{url})

	time.Sleep(50 * time.Millisecond)
	r.mu.Lock()
	_, inFlight := r.inFlight[hashURL(url)]
	r.mu.Unlock()
	assert.True(t, inFlight, "job for the URL should still be in flight")
	assert.Equal(t, 1, gets, "second CacheBatchLazy call for the same URL should not start a second fetch")

	close(release)
	assert.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		_, stillInFlight := r.inFlight[hashURL(url)]
		return !stillInFlight
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHashURLIsDeterministic(t *testing.T) {
	assert.Equal(t, hashURL("https://example.com/a.png"), hashURL("https://example.com/a.png"))
	assert.NotEqual(t, hashURL("https://example.com/a.png"), hashURL("https://example.com/b.png"))
}
