package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/okuzmin/vectorize-api/internal/domain"
)

// S3Config holds the settings for an S3-compatible blob store. Endpoint is
// optional; set it for R2 or MinIO.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Store stores blobs in an S3-compatible bucket.
type S3Store struct {
	bucket     string
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

// NewS3Store builds the client, uploader, and downloader for the configured
// bucket.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		bucket:     cfg.Bucket,
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
	}, nil
}

// Fetch reads the blob at ref.
func (s *S3Store) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ValidateRef(ref); err != nil {
		return nil, err
	}

	buf := manager.NewWriteAtBuffer(nil)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: blob %q", domain.ErrNotFound, ref)
		}
		return nil, fmt.Errorf("failed to download blob %q: %w", ref, err)
	}
	return buf.Bytes(), nil
}

// Save uploads a blob under ref.
func (s *S3Store) Save(ctx context.Context, ref string, data []byte, contentType string) error {
	if err := ValidateRef(ref); err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("failed to upload blob %q: %w", ref, err)
	}
	return nil
}

// Size returns the blob's size in bytes via a HEAD request.
func (s *S3Store) Size(ctx context.Context, ref string) (int64, error) {
	if err := ValidateRef(ref); err != nil {
		return 0, err
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return 0, fmt.Errorf("%w: blob %q", domain.ErrNotFound, ref)
		}
		return 0, fmt.Errorf("failed to stat blob %q: %w", ref, err)
	}
	return aws.ToInt64(head.ContentLength), nil
}

// Delete removes a blob; S3 deletes are idempotent so an absent blob is not
// an error.
func (s *S3Store) Delete(ctx context.Context, ref string) error {
	if err := ValidateRef(ref); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob %q: %w", ref, err)
	}
	return nil
}
