package redispoco

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSArchive keeps snapshots as objects in a Google Cloud Storage bucket.
type GCSArchive struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig contains GCS-specific configuration
type GCSConfig struct {
	Bucket          string
	Prefix          string
	CredentialsFile string // service account JSON; Application Default Credentials when empty
	Endpoint        string // emulator endpoint, unauthenticated when set
}

// NewGCSArchive creates a GCS-backed archive.
func NewGCSArchive(ctx context.Context, cfg GCSConfig) (*GCSArchive, error) {
	if cfg.Bucket == "" {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "GCSConfig.Bucket",
			"reason": "bucket is required",
		})
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSArchive{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (a *GCSArchive) object(name string) *storage.ObjectHandle {
	return a.client.Bucket(a.bucket).Object(a.prefix + name)
}

// Upload streams r into the object.
func (a *GCSArchive) Upload(ctx context.Context, name string, r io.Reader) error {
	w := a.object(name).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload %s to gs://%s: %w", a.prefix+name, a.bucket, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to upload %s to gs://%s: %w", a.prefix+name, a.bucket, err)
	}
	return nil
}

func (a *GCSArchive) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	reader, err := a.object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, WithContext(ErrArchiveNotFound, map[string]interface{}{
				"bucket": a.bucket,
				"key":    a.prefix + name,
			})
		}
		return nil, fmt.Errorf("failed to download %s from gs://%s: %w", a.prefix+name, a.bucket, err)
	}
	return reader, nil
}

func (a *GCSArchive) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	it := a.client.Bucket(a.bucket).Objects(ctx, &storage.Query{Prefix: a.prefix + prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", a.bucket, a.prefix+prefix, err)
		}
		names = append(names, strings.TrimPrefix(attrs.Name, a.prefix))
	}
	sort.Strings(names)
	return names, nil
}

func (a *GCSArchive) Close() error {
	return a.client.Close()
}
