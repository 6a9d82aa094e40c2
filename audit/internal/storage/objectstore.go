package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/models"
)

const headerContentType = "Content-Type"

// ObjectStore is an Archive backed by a JetStream object store bucket.
type ObjectStore struct {
	bucket jetstream.ObjectStore
}

// NewObjectStore wraps an opened bucket.
func NewObjectStore(bucket jetstream.ObjectStore) *ObjectStore {
	return &ObjectStore{bucket: bucket}
}

// Put uploads body as a single object. JetStream object stores replace an
// existing object of the same name only after the new one is complete.
func (s *ObjectStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	meta := jetstream.ObjectMeta{
		Name:    key,
		Headers: nats.Header{headerContentType: []string{contentType}},
	}
	if _, err := s.bucket.Put(ctx, meta, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("put %s: %w", key, classifyNATSError(err))
	}
	return nil
}

// Get downloads an object and its content type.
func (s *ObjectStore) Get(ctx context.Context, key string) (*models.ArchiveObject, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	info, err := s.bucket.GetInfo(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, classifyNATSError(err))
	}
	body, err := s.bucket.GetBytes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, classifyNATSError(err))
	}

	contentType := ContentTypeJSON
	if info.Headers != nil {
		if ct := info.Headers.Get(headerContentType); ct != "" {
			contentType = ct
		}
	}
	return &models.ArchiveObject{
		Key:         key,
		Body:        body,
		ContentType: contentType,
		Size:        int64(info.Size),
		Modified:    info.ModTime,
	}, nil
}

// classifyNATSError maps client errors onto the store taxonomy.
func classifyNATSError(err error) error {
	switch {
	case errors.Is(err, jetstream.ErrObjectNotFound):
		return fmt.Errorf("%w: %v", models.ErrNotFound, err)
	case errors.Is(err, nats.ErrPermissionViolation),
		errors.Is(err, nats.ErrAuthorization),
		errors.Is(err, nats.ErrAuthExpired):
		return fmt.Errorf("%w: %v", models.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
}
