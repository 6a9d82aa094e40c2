package nats

import (
	"context"
	"fmt"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/metrics"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/models"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/service"
	"github.com/telhawk-systems/telhawk-audit/audit/pkg/event"
	"github.com/telhawk-systems/telhawk-audit/audit/pkg/routing"
	"github.com/telhawk-systems/telhawk-audit/common/logging"
	"github.com/telhawk-systems/telhawk-audit/common/messaging"
	"github.com/telhawk-systems/telhawk-audit/common/middleware"
)

// Executor performs one instruction.
type Executor interface {
	Execute(ctx context.Context, d routing.Dispatch, ev *event.Event) (*service.Result, error)
}

// Worker consumes dispatch messages of one target type.
type Worker struct {
	target     routing.TargetType
	engine     *routing.Engine
	executor   Executor
	dlq        DeadLetterWriter
	backoff    Backoff
	maxDeliver int
	logger     *logging.Logger
}

// NewWorker creates a worker. maxDeliver must match the consumer's
// MaxDeliver so the last attempt is dead-lettered rather than dropped.
func NewWorker(target routing.TargetType, engine *routing.Engine, executor Executor, dlq DeadLetterWriter, backoff Backoff, maxDeliver int, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	if maxDeliver < 1 {
		maxDeliver = 1
	}
	return &Worker{
		target:     target,
		engine:     engine,
		executor:   executor,
		dlq:        dlq,
		backoff:    backoff,
		maxDeliver: maxDeliver,
		logger:     logger.With(logging.Service("audit-worker"), logging.Target(string(target))),
	}
}

// Target returns the target type the worker serves.
func (w *Worker) Target() routing.TargetType {
	return w.target
}

// Handle executes one dispatch message and settles it: Ack on success,
// delayed Nak on a retryable failure with attempts left, otherwise DLQ and
// Term.
func (w *Worker) Handle(ctx context.Context, msg Msg) {
	attempt := deliveryAttempt(msg)

	m, err := DecodeDispatch(msg.Data())
	if err != nil {
		w.deadLetter(ctx, msg, &models.FailedDispatch{
			EventID:  msg.Headers().Get(messaging.HeaderEventID),
			Target:   string(w.target),
			Step:     "decode",
			Error:    err.Error(),
			Attempts: attempt,
			Envelope: msg.Data(),
		})
		return
	}
	ctx = middleware.WithEventID(ctx, m.EventID)
	if reqID := msg.Headers().Get(messaging.HeaderRequestID); reqID != "" {
		ctx = middleware.WithRequestID(ctx, reqID)
	}

	failed := &models.FailedDispatch{
		EventID:  m.EventID,
		Rule:     m.Rule,
		Target:   m.Target,
		Attempts: attempt,
		Envelope: m.Envelope,
	}

	d, err := w.engine.Resolve(m.Rule, m.TargetIndex)
	if err == nil && d.Target.Type != w.target {
		err = fmt.Errorf("rule %q target %d is %s, not %s", m.Rule, m.TargetIndex, d.Target.Type, w.target)
	}
	if err != nil {
		failed.Step = "resolve"
		failed.Error = err.Error()
		w.deadLetter(ctx, msg, failed)
		return
	}

	ev, err := event.Parse(m.Envelope)
	if err != nil {
		failed.Step = "parse"
		failed.Error = err.Error()
		w.deadLetter(ctx, msg, failed)
		return
	}

	if _, err := w.executor.Execute(ctx, d, ev); err != nil {
		retryable := service.Retryable(err)
		if retryable && attempt < w.maxDeliver {
			delay := w.backoff.Delay(attempt)
			metrics.DeliveryRetries.WithLabelValues(string(w.target)).Inc()
			w.logger.InfoContext(ctx, "scheduling redelivery",
				logging.Rule(m.Rule),
				logging.Attempt(attempt),
				logging.Duration(delay.Milliseconds()),
				logging.Error(err),
			)
			_ = msg.NakWithDelay(delay)
			return
		}
		failed.Step = failingStep(err, m.Target)
		failed.Error = err.Error()
		failed.Retryable = retryable
		w.deadLetter(ctx, msg, failed)
		return
	}

	if err := msg.Ack(); err != nil {
		w.logger.WarnContext(ctx, "failed to ack instruction", logging.Rule(m.Rule), logging.Error(err))
	}
}

func (w *Worker) deadLetter(ctx context.Context, msg Msg, failed *models.FailedDispatch) {
	if err := w.dlq.Write(ctx, failed); err != nil {
		w.logger.ErrorContext(ctx, "failed to dead-letter instruction",
			logging.Rule(failed.Rule),
			logging.Step(failed.Step),
			logging.Error(err),
		)
		_ = msg.NakWithDelay(w.backoff.Delay(deliveryAttempt(msg)))
		return
	}
	_ = msg.Term()
}
