// Package storage persists prescription files in a private object store
// and mints expiring, HMAC-signed download URLs. Two backends exist: the
// local filesystem for development and an HTTP media store for
// deployments.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when no object exists under a key.
	ErrNotFound = errors.New("storage: object not found")

	// ErrAlreadyExists is returned when a Put would overwrite an
	// existing object. Keys are generated unique, so a collision means
	// a caller bug rather than a retry situation.
	ErrAlreadyExists = errors.New("storage: object already exists")
)

// Store is the prescription object store. Objects are private; reads go
// through Open (server side) or a signed URL (client side).
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	SignedURL(key string, expiry time.Duration) (string, error)
}
