package seeder

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-audit/audit/pkg/event"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Count = 200
	cfg.Entities = 10
	cfg.Seed = 42
	return cfg
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.Event
	failN  int
}

func (p *recordingPublisher) Publish(ctx context.Context, body []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failN > 0 {
		p.failN--
		return "", errors.New("server down")
	}
	ev, err := event.Parse(body)
	if err != nil {
		return "", err
	}
	p.events = append(p.events, ev)
	return ev.ID, nil
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 500, cfg.Count)
	assert.Equal(t, []string{"book", "customer", "order", "invoice"}, cfg.EntityTypes)
	assert.Equal(t, 24*time.Hour, cfg.TimeSpread)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"count", func(c *Config) { c.Count = 0 }, "count"},
		{"entities", func(c *Config) { c.Entities = 0 }, "entities"},
		{"authors", func(c *Config) { c.Authors = 0 }, "authors"},
		{"no types", func(c *Config) { c.EntityTypes = nil }, "entity type"},
		{"unknown type", func(c *Config) { c.EntityTypes = []string{"spaceship"} }, `unknown entity type "spaceship"`},
		{"ratio", func(c *Config) { c.DeleteRatio = 1.5 }, "delete_ratio"},
		{"concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"source", func(c *Config) { c.Source = "" }, "source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeder.yaml")
	require.NoError(t, os.WriteFile(path, []byte("count: 25\nentity_types: [book]\ndelete_ratio: 0.5\n"), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Count)
	assert.Equal(t, []string{"book"}, cfg.EntityTypes)
	assert.Equal(t, 0.5, cfg.DeleteRatio)
	assert.Equal(t, 50, cfg.Entities, "defaults fill the rest")
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeder.yaml")
	require.NoError(t, os.WriteFile(path, []byte("count: -1\n"), 0600))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestGenerator_Lifecycle(t *testing.T) {
	cfg := testConfig()
	now := time.UnixMilli(1700000000000)
	gen := NewGenerator(cfg, now)

	seen := map[string]string{}
	var lastTS int64
	for i := 0; i < cfg.Count; i++ {
		env, err := gen.Next()
		require.NoError(t, err)

		raw, err := env.Encode()
		require.NoError(t, err)
		ev, err := event.Parse(raw)
		require.NoError(t, err)

		assert.Equal(t, event.DetailTypeStateChange, ev.DetailType)
		assert.Equal(t, cfg.Source, ev.SourceSystem)
		assert.NotEmpty(t, ev.Author)
		assert.Contains(t, cfg.EntityTypes, ev.EntityType)
		require.True(t, ev.HasTimestamp())
		assert.Greater(t, ev.TS, lastTS, "timestamps strictly increase")
		assert.LessOrEqual(t, ev.TS, now.UnixMilli())
		lastTS = ev.TS

		prev, known := seen[ev.EntityID]
		switch ev.Operation {
		case event.OperationInsert:
			assert.False(t, known, "insert comes first")
			assert.True(t, ev.HasData())
		case event.OperationUpdate:
			assert.Contains(t, []string{event.OperationInsert, event.OperationUpdate}, prev)
			assert.True(t, ev.HasData())
		case event.OperationDelete:
			assert.Contains(t, []string{event.OperationInsert, event.OperationUpdate}, prev)
			assert.False(t, ev.HasData())
		default:
			t.Fatalf("unexpected operation %q", ev.Operation)
		}
		seen[ev.EntityID] = ev.Operation
	}
}

func TestGenerator_Deterministic(t *testing.T) {
	cfg := testConfig()
	now := time.UnixMilli(1700000000000)

	a, b := NewGenerator(cfg, now), NewGenerator(cfg, now)
	for i := 0; i < 20; i++ {
		ea, err := a.Next()
		require.NoError(t, err)
		eb, err := b.Next()
		require.NoError(t, err)
		assert.Equal(t, ea, eb)
	}
}

func TestRunner_Run(t *testing.T) {
	cfg := testConfig()
	pub := &recordingPublisher{failN: 3}

	r := NewRunner(cfg, pub)
	r.Logger = log.New(io.Discard, "", 0)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, cfg.Count-3, summary.Sent)
	assert.Equal(t, 3, summary.Failed)
	assert.Len(t, pub.events, cfg.Count-3)

	total := 0
	for _, n := range summary.ByOperation {
		total += n
	}
	assert.Equal(t, summary.Sent, total)
	assert.Positive(t, summary.ByOperation[event.OperationInsert])
}

func TestRunner_Cancelled(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = time.Hour

	r := NewRunner(cfg, &recordingPublisher{})
	r.Logger = log.New(io.Discard, "", 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, summary.Sent, cfg.Count)
}
