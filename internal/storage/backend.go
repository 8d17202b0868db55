// Package storage defines the Backend interface for the blob store that
// holds exported schema documents.
package storage

import (
	"context"
	"io"
)

// Backend is the interface for blob store backends.
// Keys are slash-separated regardless of the backend.
type Backend interface {
	// GetObject streams an object. The caller closes the reader.
	// A missing key yields an error wrapping fs.ErrNotExist.
	GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// PutObject uploads content to the given key. A negative size means unknown.
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

	// ListObjects returns every key that starts with prefix, sorted.
	ListObjects(ctx context.Context, prefix string) ([]string, error)

	// Type returns the backend type identifier ("s3", "local").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}
