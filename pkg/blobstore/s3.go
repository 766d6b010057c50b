package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hashicorp/go-hclog"
)

// S3Config configures the S3 backend. Endpoint supports S3-compatible
// services such as MinIO; when set, path-style addressing is forced.
type S3Config struct {
	Bucket    string
	Region    string
	Prefix    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3 stores blobs in one bucket under an optional key prefix.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
	logger hclog.Logger
}

// NewS3 builds the client and verifies the bucket is reachable.
func NewS3(ctx context.Context, cfg S3Config, logger hclog.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	store := &S3{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger.Named("s3-blobstore"),
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("failed to verify S3 bucket %q: %w", cfg.Bucket, err)
	}

	store.logger.Info("S3 blob store initialized",
		"bucket", cfg.Bucket,
		"prefix", cfg.Prefix,
	)
	return store, nil
}

func (s *S3) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Put writes the blob under name.
func (s *S3) Put(ctx context.Context, name string, r io.Reader) (int64, error) {
	// S3 requires a seekable or fully-buffered body for unsized streams.
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("error buffering blob for upload: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return 0, fmt.Errorf("error uploading blob to S3: %w", err)
	}
	return int64(len(data)), nil
}

// Open returns a reader for the blob.
func (s *S3) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching blob from S3: %w", err)
	}
	return out.Body, nil
}

// Exists reports whether the blob is present.
func (s *S3) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("error checking blob in S3: %w", err)
	}
	return true, nil
}

// Delete removes the blob. S3 deletes are idempotent.
func (s *S3) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return fmt.Errorf("error deleting blob from S3: %w", err)
	}
	return nil
}
