package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const traceContentType = "application/json"

// S3Store implements Publisher for AWS S3 and S3-compatible stores.
type S3Store struct {
	client      *s3.Client
	bucket      string
	maxAttempts int
	backoff     time.Duration
}

// S3Config holds configuration for S3 publishing.
type S3Config struct {
	// Bucket receives the traces.
	Bucket string `json:"bucket" yaml:"bucket"`
	// Region is the AWS region for the S3 bucket.
	Region string `json:"region" yaml:"region"`
	// Endpoint is an optional custom endpoint (for MinIO, LocalStack, etc.).
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	// UsePathStyle enables path-style addressing (required for MinIO).
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// NewS3Store creates a new S3 publisher.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: s3 publisher needs a bucket")
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3StoreWithClient(client, cfg.Bucket), nil
}

// NewS3StoreWithClient creates a publisher around a pre-configured client.
func NewS3StoreWithClient(client *s3.Client, bucket string) *S3Store {
	return &S3Store{
		client:      client,
		bucket:      bucket,
		maxAttempts: 4,
		backoff:     100 * time.Millisecond,
	}
}

// Publish uploads a trace file, tagging compressed traces with their
// content encoding.
func (s *S3Store) Publish(ctx context.Context, localPath, objectPath string) (Object, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return Object{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Object{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectPath),
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(traceContentType),
	}
	if enc := contentEncoding(objectPath); enc != "" {
		input.ContentEncoding = aws.String(enc)
	}

	var etag string
	err = s.retry(ctx, func() error {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		input.Body = file
		out, err := s.client.PutObject(ctx, input)
		if err != nil {
			return err
		}
		etag = aws.ToString(out.ETag)
		return nil
	})
	if err != nil {
		return Object{}, fmt.Errorf("%w: %s: %v", ErrUploadFailed, objectPath, err)
	}
	return Object{Key: objectPath, Size: info.Size(), ETag: etag}, nil
}

// Stat reads an object's size and ETag with a HEAD request.
func (s *S3Store) Stat(ctx context.Context, objectPath string) (Object, error) {
	var obj Object
	err := s.retry(ctx, func() error {
		out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, objectPath)
		}
		if err != nil {
			return err
		}
		obj = Object{
			Key:  objectPath,
			Size: aws.ToInt64(out.ContentLength),
			ETag: aws.ToString(out.ETag),
		}
		return nil
	})
	return obj, err
}

// Delete removes an object from S3.
func (s *S3Store) Delete(ctx context.Context, objectPath string) error {
	err := s.retry(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeleteFailed, objectPath, err)
	}
	return nil
}

// retry runs op up to maxAttempts times, doubling the pause after each
// failure. A missing object is final.
func (s *S3Store) retry(ctx context.Context, op func() error) error {
	pause := s.backoff
	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = op()
		if err == nil || errors.Is(err, ErrObjectNotFound) || attempt >= s.maxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
		pause *= 2
	}
}
