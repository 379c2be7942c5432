package redispoco

import (
	"context"
	"errors"
	"io"
)

// ErrArchiveNotFound is returned by Archive.Download for an unknown name.
var ErrArchiveNotFound = errors.New("archive not found")

// Archive stores snapshot files produced by Store.ExportTo.
//
// Implementations exist for S3 (and S3-compatible servers such as MinIO)
// and Google Cloud Storage.
type Archive interface {
	// Upload stores the content of r under name, replacing any previous
	// snapshot of that name.
	Upload(ctx context.Context, name string, r io.Reader) error

	// Download opens the snapshot stored under name. The caller closes it.
	Download(ctx context.Context, name string) (io.ReadCloser, error)

	// List returns the names of stored snapshots starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	Close() error
}
