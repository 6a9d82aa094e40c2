// Package repository implements the metadata index of ingested audit events.
package repository

import (
	"context"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/models"
)

// Index stores one record per event id and serves ordered scans by entity
// and by author. Results are ascending by ts, ties broken by event id.
type Index interface {
	// PutRecord upserts on EventID. It fails with models.ErrStoreUnavailable
	// or models.ErrConstraintViolation.
	PutRecord(ctx context.Context, rec *models.IndexRecord) error
	// GetByEventID fails with models.ErrNotFound for unknown ids.
	GetByEventID(ctx context.Context, eventID string) (*models.IndexRecord, error)
	ListByEntity(ctx context.Context, entityID string, q models.Query) ([]*models.IndexRecord, error)
	ListByAuthor(ctx context.Context, author string, q models.Query) ([]*models.IndexRecord, error)
}

// Pinger is implemented by backends that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}
