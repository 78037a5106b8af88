// Package storage defines the object sinks run summaries are written to.
package storage

import (
	"context"
	"io"
)

// BlobStore writes whole objects and returns a URI for the stored copy.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, data io.Reader) (string, error)
}

// Appender extends an object in place. Only stores with a native append
// implement it.
type Appender interface {
	AppendObject(ctx context.Context, path string, data io.Reader) (string, error)
}
