package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/models"
)

// MemoryArchive is an in-process Archive for tests and single-node dev mode.
type MemoryArchive struct {
	mu      sync.RWMutex
	objects map[string]models.ArchiveObject
	puts    int
	failPut error
	now     func() time.Time
}

// NewMemoryArchive returns an empty archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		objects: make(map[string]models.ArchiveObject),
		now:     time.Now,
	}
}

// FailPuts makes every subsequent Put return err. Pass nil to clear.
func (m *MemoryArchive) FailPuts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPut = err
}

func (m *MemoryArchive) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.puts++
	if m.failPut != nil {
		return fmt.Errorf("put %s: %w", key, m.failPut)
	}
	m.objects[key] = models.ArchiveObject{
		Key:         key,
		Body:        append([]byte(nil), body...),
		ContentType: contentType,
		Size:        int64(len(body)),
		Modified:    m.now().UTC(),
	}
	return nil
}

func (m *MemoryArchive) Get(ctx context.Context, key string) (*models.ArchiveObject, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, models.ErrNotFound)
	}
	obj.Body = append([]byte(nil), obj.Body...)
	return &obj, nil
}

// Puts reports how many Put calls were attempted.
func (m *MemoryArchive) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

// Keys lists stored keys in order.
func (m *MemoryArchive) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
