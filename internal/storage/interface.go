package storage

import (
	"context"
	"io"
)

// ObjectStorage reads source archives from a bucket.
type ObjectStorage interface {
	// Download opens an object for reading. An empty bucket means the configured one.
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// Exists checks if an object exists
	Exists(ctx context.Context, bucket, key string) (bool, error)

	// Bucket returns the configured default bucket
	Bucket() string
}
