package objectstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asepharyana/gatewayd/internal/config"
)

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), &config.Config{})
	assert.Error(t, err)
}

func TestURLUsesPublicEndpointWhenSet(t *testing.T) {
	s := &Store{bucket: "images", publicURL: "https://cdn.example.com"}
	assert.Equal(t, "https://cdn.example.com/images/foo/bar.png", s.URL("foo/bar.png"))
}

func TestURLFallsBackToAmazonS3Host(t *testing.T) {
	s := &Store{bucket: "images"}
	assert.Equal(t, "https://images.s3.amazonaws.com/foo/bar.png", s.URL("foo/bar.png"))
}

// fakeS3Server accepts any PUT as a successful object upload, enough to
// exercise Store.Put's request plumbing without a real S3-compatible backend.
func fakeS3Server(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("ETag", `"fake-etag"`)
		w.WriteHeader(http.StatusOK)
	}))
}

func TestPutUploadsAndReturnsURL(t *testing.T) {
	srv := fakeS3Server(t)
	defer srv.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err)

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(srv.URL)
		o.UsePathStyle = true
	})

	store := &Store{
		client:    client,
		uploader:  manager.NewUploader(client),
		bucket:    "images",
		publicURL: srv.URL,
	}

	url, err := store.Put(context.Background(), "images/ab/abc123", []byte("data"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/images/images/ab/abc123", url)
}
