// Package objectstore uploads reingested images to an S3-compatible
// bucket and returns their public URL.
package objectstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/asepharyana/gatewayd/internal/config"
)

// Store uploads object bytes and hands back the URL the CDN/edge serves
// them from.
type Store struct {
	client    *s3.Client
	uploader  *manager.Uploader
	bucket    string
	publicURL string
}

// New builds a Store from cfg. cfg.S3Endpoint, when set, overrides the
// service endpoint (MinIO, R2, Spaces); cfg.S3ForcePathStyle selects
// path-style addressing. Static credentials are used when both
// cfg.S3AccessKey and cfg.S3SecretKey are set; otherwise credentials come
// from the default AWS credential chain.
func New(ctx context.Context, cfg *config.Config) (*Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET not configured")
	}

	var optFns []func(*awsconfig.LoadOptions) error
	optFns = append(optFns, awsconfig.WithRegion(cfg.S3Region))
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3ForcePathStyle
	})

	return &Store{
		client:    client,
		uploader:  manager.NewUploader(client),
		bucket:    cfg.S3Bucket,
		publicURL: cfg.S3Endpoint,
	}, nil
}

// Put uploads body at key with contentType and returns the object's public
// URL, deterministic from bucket+key so repeated uploads of the same key
// are idempotent from the caller's perspective.
func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload object %q: %w", key, err)
	}
	return s.URL(key), nil
}

// URL returns the public URL for key without performing any I/O.
func (s *Store) URL(key string) string {
	if s.publicURL != "" {
		return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
}
