// Package executions keeps the latest execution record of each ingestion
// workflow run so operators can inspect failed or retried events.
package executions

import (
	"context"
	"fmt"
	"sync"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/models"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/workflow"
)

// Store is a workflow.Tracker that can also read executions back.
type Store interface {
	workflow.Tracker
	// Get fails with models.ErrNotFound for unknown or expired events.
	Get(ctx context.Context, eventID string) (*workflow.Execution, error)
}

// Noop discards executions. Used when history is disabled.
type Noop struct{}

func (Noop) Record(ctx context.Context, exec *workflow.Execution) error { return nil }

func (Noop) Get(ctx context.Context, eventID string) (*workflow.Execution, error) {
	return nil, fmt.Errorf("execution %s: %w", eventID, models.ErrNotFound)
}

// Memory keeps executions in process.
type Memory struct {
	mu       sync.RWMutex
	latest   map[string]workflow.Execution
	attempts map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		latest:   make(map[string]workflow.Execution),
		attempts: make(map[string]int),
	}
}

func (m *Memory) Record(ctx context.Context, exec *workflow.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exec.State == workflow.StateStart {
		m.attempts[exec.EventID]++
	}
	snapshot := *exec
	snapshot.Steps = append([]workflow.StepResult(nil), exec.Steps...)
	m.latest[exec.EventID] = snapshot
	return nil
}

func (m *Memory) Get(ctx context.Context, eventID string) (*workflow.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exec, ok := m.latest[eventID]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", eventID, models.ErrNotFound)
	}
	exec.Attempts = m.attempts[eventID]
	return &exec, nil
}
