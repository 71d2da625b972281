package storage

import (
	"context"
	"io"
)

// ObjectStorage is the blob store holding plan external data.
// Keys are bucket-relative; List returns keys sorted ascending.
type ObjectStorage interface {
	// Upload writes an object
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download opens an object for reading
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns every key under prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes an object
	Delete(ctx context.Context, key string) error
}
