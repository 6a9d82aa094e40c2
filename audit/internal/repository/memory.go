package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/models"
)

// MemoryIndex is an in-process Index for tests and single-node dev mode.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[string]models.IndexRecord
	puts    int
	failPut error
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]models.IndexRecord)}
}

// FailPuts makes every subsequent PutRecord return err. Pass nil to clear.
func (m *MemoryIndex) FailPuts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPut = err
}

func (m *MemoryIndex) PutRecord(ctx context.Context, rec *models.IndexRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.puts++
	if m.failPut != nil {
		return fmt.Errorf("put record %s: %w", rec.EventID, m.failPut)
	}
	if rec.EventID == "" {
		return fmt.Errorf("put record: %w: empty event id", models.ErrConstraintViolation)
	}
	m.records[rec.EventID] = *rec
	return nil
}

func (m *MemoryIndex) GetByEventID(ctx context.Context, eventID string) (*models.IndexRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[eventID]
	if !ok {
		return nil, fmt.Errorf("get record %s: %w", eventID, models.ErrNotFound)
	}
	return &rec, nil
}

func (m *MemoryIndex) ListByEntity(ctx context.Context, entityID string, q models.Query) ([]*models.IndexRecord, error) {
	return m.list(q, func(r *models.IndexRecord) bool { return r.EntityID == entityID }), nil
}

func (m *MemoryIndex) ListByAuthor(ctx context.Context, author string, q models.Query) ([]*models.IndexRecord, error) {
	return m.list(q, func(r *models.IndexRecord) bool { return r.Author == author }), nil
}

func (m *MemoryIndex) list(q models.Query, keep func(*models.IndexRecord) bool) []*models.IndexRecord {
	m.mu.RLock()
	out := make([]*models.IndexRecord, 0)
	for _, rec := range m.records {
		if keep(&rec) && q.InRange(rec.TS) {
			out = append(out, &rec)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TS != out[j].TS {
			return out[i].TS < out[j].TS
		}
		return out[i].EventID < out[j].EventID
	})
	if limit := q.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Puts reports how many PutRecord calls were attempted.
func (m *MemoryIndex) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

// Len reports how many records are stored.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryIndex) Ping(ctx context.Context) error { return nil }
