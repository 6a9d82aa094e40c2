package seeder

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Publisher submits one encoded envelope.
type Publisher interface {
	Publish(ctx context.Context, envelope []byte) (string, error)
}

// Summary reports a seeding run.
type Summary struct {
	Sent        int            `json:"sent"`
	Failed      int            `json:"failed"`
	ByOperation map[string]int `json:"by_operation"`
	Duration    time.Duration  `json:"duration"`
}

// Runner handles the event seeding execution
type Runner struct {
	Config    *Config
	Publisher Publisher
	Logger    *log.Logger
	now       func() time.Time
}

// NewRunner creates a new seeder runner
func NewRunner(cfg *Config, publisher Publisher) *Runner {
	return &Runner{
		Config:    cfg,
		Publisher: publisher,
		Logger:    log.Default(),
		now:       time.Now,
	}
}

// Run generates Config.Count events and publishes them with bounded
// concurrency. Envelopes are generated in order; a failed publish is counted
// and does not stop the run. Run returns early only when ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	cfg := r.Config
	started := r.now()
	gen := NewGenerator(cfg, started)

	r.Logger.Printf("Starting event seeder:")
	r.Logger.Printf("  Event count: %d", cfg.Count)
	r.Logger.Printf("  Entities: %d (%v)", cfg.Entities, cfg.EntityTypes)
	r.Logger.Printf("  Authors: %d", cfg.Authors)
	r.Logger.Printf("  Time spread: %v", cfg.TimeSpread)
	r.Logger.Printf("  Concurrency: %d", cfg.Concurrency)

	summary := &Summary{ByOperation: make(map[string]int)}
	var mu sync.Mutex

	progressInterval := cfg.Count / 10
	if progressInterval < 100 {
		progressInterval = 100
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)

	for i := 0; i < cfg.Count; i++ {
		if gctx.Err() != nil {
			break
		}
		env, err := gen.Next()
		if err != nil {
			return nil, fmt.Errorf("generate event %d: %w", i, err)
		}
		body, err := env.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode event %d: %w", i, err)
		}
		operation := env.Detail.Operation

		g.Go(func() error {
			_, err := r.Publisher.Publish(gctx, body)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				r.Logger.Printf("Failed to publish %s: %v", env.ID, err)
				return nil
			}
			summary.Sent++
			summary.ByOperation[operation]++
			if summary.Sent%progressInterval == 0 {
				r.Logger.Printf("Progress: %d/%d events sent", summary.Sent, cfg.Count)
			}
			return nil
		})

		if cfg.Interval > 0 && i < cfg.Count-1 {
			select {
			case <-gctx.Done():
			case <-time.After(cfg.Interval):
			}
		}
	}
	_ = g.Wait()
	summary.Duration = r.now().Sub(started)

	r.Logger.Printf("Seeding complete:")
	r.Logger.Printf("  Success: %d events", summary.Sent)
	r.Logger.Printf("  Failed: %d events", summary.Failed)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}
