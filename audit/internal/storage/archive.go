// Package storage implements the blob archive that holds audit event payloads.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/models"
)

// ContentTypeJSON is the content type of archived payloads.
const ContentTypeJSON = "application/json"

// Archive stores payload bytes under derived keys. A single Put either fully
// applies or not at all; a later Put with the same key replaces the object.
type Archive interface {
	// Put fails with models.ErrStoreUnavailable or models.ErrPermissionDenied,
	// and with models.ErrConstraintViolation for keys no backend can hold.
	Put(ctx context.Context, key string, body []byte, contentType string) error
	// Get fails with models.ErrNotFound when the key was never written.
	Get(ctx context.Context, key string) (*models.ArchiveObject, error)
}

// validateKey rejects keys that cannot be stored safely in every backend.
// Such keys come from event ids like "a//b" or "..", so retrying never helps.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: archive key must not be empty", models.ErrConstraintViolation)
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: archive key %q must be relative", models.ErrConstraintViolation, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: archive key %q has an invalid segment", models.ErrConstraintViolation, key)
		}
	}
	return nil
}
