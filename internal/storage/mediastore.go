package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/medleaf/pharma-platform/pkg/circuitbreaker"
)

// MediaStore talks to the HTTP media store that holds prescription files
// in deployed environments. Writes run through a circuit breaker so a
// down store fails uploads fast instead of stacking up requests.
type MediaStore struct {
	client  *resty.Client
	breaker *circuitbreaker.CircuitBreaker
	signer  *Signer
	baseURL string
	logger  *zap.Logger
}

func NewMediaStore(baseURL string, signer *Signer, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *MediaStore {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)

	return &MediaStore{
		client:  client,
		breaker: breaker,
		signer:  signer,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Put uploads the object. The media store rejects duplicate keys with
// 409, mirroring the no-overwrite rule of the local backend.
func (m *MediaStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read object body: %w", err)
	}

	_, err = m.breaker.Execute(ctx, func() (interface{}, error) {
		resp, err := m.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", contentType).
			SetBody(bytes.NewReader(body)).
			Put("/objects/" + key)
		if err != nil {
			return nil, err
		}
		switch resp.StatusCode() {
		case http.StatusOK, http.StatusCreated, http.StatusNoContent:
			return nil, nil
		case http.StatusConflict:
			return nil, ErrAlreadyExists
		default:
			return nil, fmt.Errorf("media store put: status %d", resp.StatusCode())
		}
	})
	if err != nil {
		if circuitbreaker.IsOpen(err) {
			m.logger.Warn("media store circuit open, upload rejected",
				zap.String("key", key))
		}
		return err
	}

	m.logger.Debug("object uploaded",
		zap.String("key", key),
		zap.Int64("bytes", size))
	return nil
}

// Open streams the object back for server-side reads.
func (m *MediaStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := m.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get("/objects/" + key)
	if err != nil {
		return nil, fmt.Errorf("media store get: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		resp.RawBody().Close()
		return nil, ErrNotFound
	}
	if resp.StatusCode() != http.StatusOK {
		resp.RawBody().Close()
		return nil, fmt.Errorf("media store get: status %d", resp.StatusCode())
	}
	return resp.RawBody(), nil
}

// Delete removes the object. Deleting a missing object is ErrNotFound.
func (m *MediaStore) Delete(ctx context.Context, key string) error {
	resp, err := m.client.R().
		SetContext(ctx).
		Delete("/objects/" + key)
	if err != nil {
		return fmt.Errorf("media store delete: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("media store delete: status %d", resp.StatusCode())
	}
}

// SignedURL returns an expiring URL served directly by the media store,
// which shares the signing secret.
func (m *MediaStore) SignedURL(key string, expiry time.Duration) (string, error) {
	expires := time.Now().Add(expiry).Unix()
	sig := m.signer.Sign(key, expires)
	return fmt.Sprintf("%s/objects/%s?expires=%d&signature=%s", m.baseURL, key, expires, sig), nil
}
