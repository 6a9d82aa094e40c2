// Package service executes routed dispatch instructions and fans events out
// across the targets of every matching rule.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/logsink"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/metrics"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/notification"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/workflow"
	"github.com/telhawk-systems/telhawk-audit/audit/pkg/event"
	"github.com/telhawk-systems/telhawk-audit/audit/pkg/routing"
	"github.com/telhawk-systems/telhawk-audit/common/logging"
)

// WorkflowRunner runs the ingestion saga for one event.
type WorkflowRunner interface {
	Run(ctx context.Context, ev *event.Event) (*workflow.Execution, error)
}

// DispatchError reports the instruction a failure belongs to.
type DispatchError struct {
	EventID string
	Rule    string
	Target  routing.TargetType
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("event %s: rule %q: %s: %v", e.EventID, e.Rule, e.Target, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Retryable reports whether redelivering the instruction may succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var fe *routing.FormatError
	if errors.As(err, &fe) || errors.Is(err, event.ErrMalformed) {
		return false
	}
	return workflow.IsRetryable(err) ||
		notification.IsRetryable(err) ||
		errors.Is(err, logsink.ErrUnavailable)
}

// Result is the outcome of one instruction.
type Result struct {
	Rule         string                     `json:"rule"`
	Target       routing.TargetType         `json:"target"`
	TargetIndex  int                        `json:"target_index"`
	Status       string                     `json:"status"`
	Error        string                     `json:"error,omitempty"`
	Execution    *workflow.Execution        `json:"execution,omitempty"`
	Notification *notification.Notification `json:"notification,omitempty"`
	DurationMs   int64                      `json:"duration_ms"`
}

// Executor performs single (rule, target) instructions.
type Executor struct {
	runner    WorkflowRunner
	sink      logsink.Sink
	formatter *notification.Formatter
	channel   notification.Channel
	logger    *logging.Logger
}

func NewExecutor(runner WorkflowRunner, sink logsink.Sink, channel notification.Channel, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Executor{
		runner:    runner,
		sink:      sink,
		formatter: notification.NewFormatter(),
		channel:   channel,
		logger:    logger,
	}
}

// Execute performs d for ev. A non-nil error is a *DispatchError; the Result
// is returned in both cases.
func (x *Executor) Execute(ctx context.Context, d routing.Dispatch, ev *event.Event) (*Result, error) {
	start := time.Now()
	res := &Result{
		Rule:        d.Rule.Name,
		Target:      d.Target.Type,
		TargetIndex: d.TargetIndex,
	}

	var err error
	switch d.Target.Type {
	case routing.TargetWorkflow:
		res.Execution, err = x.runner.Run(ctx, ev)
	case routing.TargetLog:
		err = x.sink.Write(ctx, d.ID(ev.ID), ev)
	case routing.TargetNotification:
		res.Notification, err = x.notify(ctx, d, ev)
	default:
		err = fmt.Errorf("unknown target type %q", d.Target.Type)
	}

	elapsed := time.Since(start)
	res.DurationMs = elapsed.Milliseconds()
	metrics.DispatchDuration.WithLabelValues(string(d.Target.Type)).Observe(elapsed.Seconds())

	if err != nil {
		res.Status = metrics.StatusFailure
		res.Error = err.Error()
		metrics.DispatchTotal.WithLabelValues(string(d.Target.Type), metrics.StatusFailure).Inc()
		x.logger.WarnContext(ctx, "dispatch failed",
			logging.EventID(ev.ID),
			logging.Rule(d.Rule.Name),
			logging.Target(string(d.Target.Type)),
			logging.Error(err),
		)
		return res, &DispatchError{EventID: ev.ID, Rule: d.Rule.Name, Target: d.Target.Type, Err: err}
	}

	res.Status = metrics.StatusSuccess
	metrics.DispatchTotal.WithLabelValues(string(d.Target.Type), metrics.StatusSuccess).Inc()
	return res, nil
}

func (x *Executor) notify(ctx context.Context, d routing.Dispatch, ev *event.Event) (*notification.Notification, error) {
	n, err := x.formatter.Format(d.Rule, d.Target, ev)
	if err != nil {
		// The rule matched an event its template cannot render.
		x.logger.ErrorContext(ctx, "notification template does not fit matched event",
			logging.EventID(ev.ID),
			logging.Rule(d.Rule.Name),
			logging.Error(err),
		)
		metrics.NotificationsTotal.WithLabelValues(x.channel.Type(), metrics.StatusFailure).Inc()
		return nil, err
	}
	if err := x.channel.Send(ctx, n); err != nil {
		metrics.NotificationsTotal.WithLabelValues(x.channel.Type(), metrics.StatusFailure).Inc()
		return n, err
	}
	metrics.NotificationsTotal.WithLabelValues(x.channel.Type(), metrics.StatusSuccess).Inc()
	return n, nil
}
