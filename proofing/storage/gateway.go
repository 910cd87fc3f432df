package storage

import (
	"context"
	"errors"
	"time"
)

var ErrObjectNotFound = errors.New("object not found in storage")

// Gateway is the object store boundary for image bytes. Keys are opaque
// slash-separated strings chosen by the caller.
type Gateway interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error

	Get(ctx context.Context, key string) ([]byte, error)

	Delete(ctx context.Context, key string) error

	// SignedURL returns a url granting read access to the object until the
	// ttl elapses.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
