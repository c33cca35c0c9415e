package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Local stores objects as files under a root directory. Signed URLs
// point at the API's own download endpoint, which verifies the
// signature before serving the file.
type Local struct {
	root    string
	baseURL string
	signer  *Signer
	logger  *zap.Logger
}

// NewLocal creates the root directory if needed. baseURL is the public
// address of the API, without a trailing slash.
func NewLocal(root, baseURL string, signer *Signer, logger *zap.Logger) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{
		root:    root,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		signer:  signer,
		logger:  logger,
	}, nil
}

// resolve maps a key to a path under root, rejecting keys that would
// escape it.
func (l *Local) resolve(key string) (string, error) {
	path := filepath.Join(l.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(l.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("storage: key %q escapes root", key)
	}
	return path, nil
}

// Put writes the object, refusing to overwrite. Keys are unique by
// construction, so an existing file means a duplicate write.
func (l *Local) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create object: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write object: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close object: %w", err)
	}

	l.logger.Debug("object stored",
		zap.String("key", key),
		zap.Int64("bytes", size),
		zap.String("content_type", contentType))
	return nil
}

// Open returns the object contents for server-side reads.
func (l *Local) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

// Delete removes the object.
func (l *Local) Delete(ctx context.Context, key string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// SignedURL returns an expiring download URL served by the API itself.
func (l *Local) SignedURL(key string, expiry time.Duration) (string, error) {
	expires := time.Now().Add(expiry).Unix()
	sig := l.signer.Sign(key, expires)
	return fmt.Sprintf("%s/api/files/%s?expires=%d&signature=%s", l.baseURL, key, expires, sig), nil
}
