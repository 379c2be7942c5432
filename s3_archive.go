package redispoco

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Archive keeps snapshots as objects in an S3 (or S3-compatible) bucket.
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archive creates an archive writing objects under prefix in bucket.
func NewS3Archive(client *s3.Client, bucket, prefix string) *S3Archive {
	return &S3Archive{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

// NewS3ArchiveFromEnv builds the S3 client from the default AWS credential
// chain (environment, shared config, instance role).
func NewS3ArchiveFromEnv(ctx context.Context, bucket, prefix string) (*S3Archive, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3Archive(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// MinIOConfig contains MinIO-specific configuration
type MinIOConfig struct {
	Endpoint        string // e.g., "localhost:9000" or "minio.example.com"
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	Prefix          string
}

// NewMinIOArchive creates an S3Archive talking to a MinIO server with
// path-style addressing.
func NewMinIOArchive(cfg MinIOConfig) (*S3Archive, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "MinIOConfig",
			"reason": "endpoint and bucket are required",
		})
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	client := s3.New(s3.Options{
		BaseEndpoint: aws.String(fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)),
		Region:       "us-east-1", // ignored by MinIO, required by the SDK
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		UsePathStyle: true,
	})
	return NewS3Archive(client, cfg.Bucket, cfg.Prefix), nil
}

func (a *S3Archive) key(name string) string {
	return a.prefix + name
}

// Upload buffers r and stores it as one object.
func (a *S3Archive) Upload(ctx context.Context, name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot %s: %w", name, err)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.key(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to s3://%s: %w", a.key(name), a.bucket, err)
	}
	return nil
}

func (a *S3Archive) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(name)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) || strings.Contains(err.Error(), "NoSuchKey") {
			return nil, WithContext(ErrArchiveNotFound, map[string]interface{}{
				"bucket": a.bucket,
				"key":    a.key(name),
			})
		}
		return nil, fmt.Errorf("failed to download %s from s3://%s: %w", a.key(name), a.bucket, err)
	}
	return out.Body, nil
}

func (a *S3Archive) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(a.key(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", a.bucket, a.key(prefix), err)
		}
		for _, obj := range page.Contents {
			names = append(names, strings.TrimPrefix(aws.ToString(obj.Key), a.prefix))
		}
	}
	sort.Strings(names)
	return names, nil
}

// CreateBucket creates the archive bucket. Intended for tests and local
// MinIO setups.
func (a *S3Archive) CreateBucket(ctx context.Context) error {
	_, err := a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	return err
}

// Close is a no-op; the S3 client holds no resources.
func (a *S3Archive) Close() error {
	return nil
}
