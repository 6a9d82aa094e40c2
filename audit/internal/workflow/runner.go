// Package workflow runs the two-step ingestion saga: persist the payload to
// the blob archive, then write the metadata record that references it.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/metrics"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/models"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/repository"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/storage"
	"github.com/telhawk-systems/telhawk-audit/audit/pkg/event"
	"github.com/telhawk-systems/telhawk-audit/common/logging"
)

// DefaultTimeout bounds a run when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Tracker records execution state transitions. Implementations must be safe
// for concurrent use.
type Tracker interface {
	Record(ctx context.Context, exec *Execution) error
}

// Runner executes ingestion workflow runs. It holds no per-run state, so one
// Runner serves any number of concurrent runs.
type Runner struct {
	archive storage.Archive
	index   repository.Index
	tracker Tracker
	timeout time.Duration
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithTracker records every transition with t.
func WithTracker(t Tracker) Option {
	return func(r *Runner) { r.tracker = t }
}

// WithTimeout bounds each run. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock overrides the clock used for execution timings.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner over the given stores.
func NewRunner(archive storage.Archive, index repository.Index, logger *logging.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Runner{
		archive: archive,
		index:   index,
		timeout: DefaultTimeout,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the saga for ev from START. The returned Execution is always
// non-nil; on failure its State is FAILED and the error is a *StepError.
func (r *Runner) Run(ctx context.Context, ev *event.Event) (*Execution, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	exec := &Execution{
		EventID:   ev.ID,
		State:     StateStart,
		StartedAt: r.now().UTC(),
	}
	r.track(ctx, exec)

	if err := validate(ev); err != nil {
		return exec, r.fail(ctx, exec, StateStart, err)
	}

	exec.State = StatePersistPayload
	r.track(ctx, exec)
	key, err := r.step(ctx, exec, StatePersistPayload, func(ctx context.Context) (string, error) {
		return r.persistPayload(ctx, ev)
	})
	if err != nil {
		return exec, r.fail(ctx, exec, StatePersistPayload, err)
	}
	exec.S3Key = key

	exec.State = StateWriteIndex
	r.track(ctx, exec)
	if _, err := r.step(ctx, exec, StateWriteIndex, func(ctx context.Context) (string, error) {
		return "", r.writeIndex(ctx, ev, key)
	}); err != nil {
		return exec, r.fail(ctx, exec, StateWriteIndex, err)
	}

	exec.State = StateDone
	exec.FinishedAt = r.now().UTC()
	r.track(ctx, exec)
	metrics.WorkflowDuration.Observe(exec.Duration().Seconds())

	r.logger.InfoContext(ctx, "workflow completed",
		logging.EventID(ev.ID),
		logging.Key(key),
		logging.Duration(exec.Duration().Milliseconds()),
	)
	return exec, nil
}

// step runs fn unless the run has already exceeded its deadline.
func (r *Runner) step(ctx context.Context, exec *Execution, name State, fn func(context.Context) (string, error)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	start := r.now()
	out, err := fn(ctx)

	status := metrics.StatusSuccess
	switch {
	case err != nil:
		status = metrics.StatusFailure
	case name == StatePersistPayload && out == "":
		status = metrics.StatusSkipped
	}
	exec.Steps = append(exec.Steps, StepResult{
		Step:       name,
		Status:     status,
		DurationMs: r.now().Sub(start).Milliseconds(),
	})
	metrics.WorkflowSteps.WithLabelValues(string(name), status).Inc()
	return out, err
}

// persistPayload writes the payload under its derived key. Events without
// data perform no write and yield an empty key.
func (r *Runner) persistPayload(ctx context.Context, ev *event.Event) (string, error) {
	body, err := ev.Payload()
	if err != nil {
		return "", err
	}
	if body == nil {
		return "", nil
	}
	key := event.KeyFor(ev)
	if err := r.archive.Put(ctx, key, body, storage.ContentTypeJSON); err != nil {
		return "", err
	}
	return key, nil
}

func (r *Runner) writeIndex(ctx context.Context, ev *event.Event, key string) error {
	return r.index.PutRecord(ctx, &models.IndexRecord{
		EventID:    ev.ID,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		Operation:  ev.Operation,
		S3Key:      key,
		Author:     ev.Author,
		TS:         ev.TS,
	})
}

func (r *Runner) fail(ctx context.Context, exec *Execution, step State, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %v", ErrTimeout, r.timeout, err)
	}
	stepErr := &StepError{EventID: exec.EventID, Step: step, Err: err}

	exec.State = StateFailed
	exec.Step = step
	exec.Error = err.Error()
	exec.Retryable = IsRetryable(stepErr)
	exec.FinishedAt = r.now().UTC()
	r.track(context.WithoutCancel(ctx), exec)
	metrics.WorkflowDuration.Observe(exec.Duration().Seconds())

	r.logger.ErrorContext(ctx, "workflow failed",
		logging.EventID(exec.EventID),
		logging.Step(string(step)),
		logging.Error(err),
		"retryable", exec.Retryable,
	)
	return stepErr
}

// track hands a snapshot to the tracker. Tracker errors never fail a run.
func (r *Runner) track(ctx context.Context, exec *Execution) {
	if r.tracker == nil {
		return
	}
	snapshot := *exec
	snapshot.Steps = append([]StepResult(nil), exec.Steps...)
	if err := r.tracker.Record(ctx, &snapshot); err != nil {
		r.logger.WarnContext(ctx, "failed to record execution",
			logging.EventID(exec.EventID),
			logging.Error(err),
		)
	}
}

func validate(ev *event.Event) error {
	if ev.ID == "" {
		return fmt.Errorf("%w: missing id", event.ErrMalformed)
	}
	if !ev.HasTimestamp() {
		return fmt.Errorf("%w: missing detail.ts", event.ErrMalformed)
	}
	if ev.EntityID == "" {
		return fmt.Errorf("%w: missing detail.entity-id", event.ErrMalformed)
	}
	return nil
}
