package models

import "errors"

// Store error taxonomy shared by the archive and index backends.
var (
	// ErrStoreUnavailable is a transient infrastructure failure. Retryable.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrPermissionDenied means the store rejected our credentials. Not retried.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrConstraintViolation means the store rejected the record. Not retried.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrNotFound is an expected lookup outcome.
	ErrNotFound = errors.New("not found")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
