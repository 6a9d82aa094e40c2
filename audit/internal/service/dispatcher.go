package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/metrics"
	"github.com/telhawk-systems/telhawk-audit/audit/pkg/event"
	"github.com/telhawk-systems/telhawk-audit/audit/pkg/routing"
	"github.com/telhawk-systems/telhawk-audit/common/logging"
)

// DefaultMaxConcurrency bounds in-flight instructions per event.
const DefaultMaxConcurrency = 8

// Report is the outcome of dispatching one event, in routing order.
type Report struct {
	EventID string    `json:"event_id"`
	Results []*Result `json:"results"`
}

// Failed counts failed instructions.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == metrics.StatusFailure {
			n++
		}
	}
	return n
}

// Dispatcher routes events and executes every instruction in process.
type Dispatcher struct {
	engine         *routing.Engine
	executor       *Executor
	maxConcurrency int
	logger         *logging.Logger

	startedAt  time.Time
	processed  atomic.Uint64
	failed     atomic.Uint64
	dispatched atomic.Uint64
	unrouted   atomic.Uint64
}

func NewDispatcher(engine *routing.Engine, executor *Executor, maxConcurrency int, logger *logging.Logger) *Dispatcher {
	if maxConcurrency < 1 {
		maxConcurrency = DefaultMaxConcurrency
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		engine:         engine,
		executor:       executor,
		maxConcurrency: maxConcurrency,
		logger:         logger,
		startedAt:      time.Now().UTC(),
	}
}

// Dispatch executes every instruction Route produces for ev concurrently.
// One failing instruction never cancels another; all failures are joined.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *event.Event) (*Report, error) {
	instructions := d.engine.Route(ev)
	report := &Report{EventID: ev.ID, Results: make([]*Result, len(instructions))}
	if len(instructions) == 0 {
		metrics.UnroutedTotal.Inc()
		d.unrouted.Add(1)
		d.processed.Add(1)
		d.logger.DebugContext(ctx, "event matched no rule", logging.EventID(ev.ID))
		return report, nil
	}

	errs := make([]error, len(instructions))
	var g errgroup.Group
	g.SetLimit(d.maxConcurrency)
	for i, in := range instructions {
		metrics.RoutedTotal.WithLabelValues(in.Rule.Name, string(in.Target.Type)).Inc()
		g.Go(func() error {
			report.Results[i], errs[i] = d.executor.Execute(ctx, in, ev)
			return nil
		})
	}
	_ = g.Wait()
	d.dispatched.Add(uint64(len(instructions)))

	if err := errors.Join(errs...); err != nil {
		d.failed.Add(1)
		return report, err
	}
	d.processed.Add(1)
	return report, nil
}

// Submit dispatches ev and discards the report. It lets the HTTP ingress
// run without a bus.
func (d *Dispatcher) Submit(ctx context.Context, ev *event.Event) error {
	_, err := d.Dispatch(ctx, ev)
	return err
}

// Engine returns the routing engine.
func (d *Dispatcher) Engine() *routing.Engine {
	return d.engine
}

// Stats returns a snapshot of dispatcher metrics.
type Stats struct {
	UptimeSeconds int64  `json:"uptime_seconds"`
	Processed     uint64 `json:"processed"`
	Failed        uint64 `json:"failed"`
	Dispatched    uint64 `json:"dispatched"`
	Unrouted      uint64 `json:"unrouted"`
}

// Health returns live status for health checks.
func (d *Dispatcher) Health() Stats {
	return Stats{
		UptimeSeconds: int64(time.Since(d.startedAt).Seconds()),
		Processed:     d.processed.Load(),
		Failed:        d.failed.Load(),
		Dispatched:    d.dispatched.Load(),
		Unrouted:      d.unrouted.Load(),
	}
}
