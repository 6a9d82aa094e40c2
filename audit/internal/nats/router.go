package nats

import (
	"context"
	"fmt"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/metrics"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/models"
	"github.com/telhawk-systems/telhawk-audit/audit/pkg/event"
	"github.com/telhawk-systems/telhawk-audit/audit/pkg/routing"
	"github.com/telhawk-systems/telhawk-audit/common/logging"
	"github.com/telhawk-systems/telhawk-audit/common/messaging"
	"github.com/telhawk-systems/telhawk-audit/common/middleware"
)

// Router consumes inbound envelopes, routes them and publishes one dispatch
// message per (rule, target) instruction.
type Router struct {
	engine    *routing.Engine
	publisher StreamPublisher
	dlq       DeadLetterWriter
	backoff   Backoff
	logger    *logging.Logger
}

func NewRouter(engine *routing.Engine, publisher StreamPublisher, dlq DeadLetterWriter, backoff Backoff, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{
		engine:    engine,
		publisher: publisher,
		dlq:       dlq,
		backoff:   backoff,
		logger:    logger.With(logging.Service("audit-router")),
	}
}

// Handle processes one inbound message and settles it. Instructions are
// published with their instruction id as message id, so redelivering an
// envelope after a partial publish never duplicates an instruction.
func (r *Router) Handle(ctx context.Context, msg Msg) {
	ev, err := event.Parse(msg.Data())
	if err == nil && ev.SourceSystem == "" {
		err = fmt.Errorf("%w: missing source", event.ErrMalformed)
	}
	if err != nil {
		eventID := msg.Headers().Get(messaging.HeaderEventID)
		if ev != nil {
			eventID = ev.ID
		}
		metrics.EventsReceived.WithLabelValues("unknown", metrics.StatusFailure).Inc()
		r.deadLetter(ctx, msg, &models.FailedDispatch{
			EventID:  eventID,
			Target:   "router",
			Step:     "parse",
			Error:    err.Error(),
			Attempts: deliveryAttempt(msg),
			Envelope: msg.Data(),
		})
		return
	}
	ctx = middleware.WithEventID(ctx, ev.ID)
	if reqID := msg.Headers().Get(messaging.HeaderRequestID); reqID != "" {
		ctx = middleware.WithRequestID(ctx, reqID)
	}
	metrics.EventsReceived.WithLabelValues(ev.SourceSystem, metrics.StatusSuccess).Inc()

	instructions := r.engine.Route(ev)
	if len(instructions) == 0 {
		metrics.UnroutedTotal.Inc()
		r.logger.DebugContext(ctx, "event matched no rule")
		_ = msg.Ack()
		return
	}

	for _, d := range instructions {
		if err := r.publish(ctx, ev, d); err != nil {
			attempt := deliveryAttempt(msg)
			r.logger.WarnContext(ctx, "failed to publish instruction, redelivering",
				logging.Rule(d.Rule.Name),
				logging.Target(string(d.Target.Type)),
				logging.Attempt(attempt),
				logging.Error(err),
			)
			_ = msg.NakWithDelay(r.backoff.Delay(attempt))
			return
		}
		metrics.RoutedTotal.WithLabelValues(d.Rule.Name, string(d.Target.Type)).Inc()
	}

	if err := msg.Ack(); err != nil {
		r.logger.WarnContext(ctx, "failed to ack event", logging.Error(err))
	}
}

func (r *Router) publish(ctx context.Context, ev *event.Event, d routing.Dispatch) error {
	m := &DispatchMessage{
		EventID:     ev.ID,
		Rule:        d.Rule.Name,
		Target:      string(d.Target.Type),
		TargetIndex: d.TargetIndex,
		Envelope:    ev.Raw,
	}
	data, err := EncodeDispatch(m)
	if err != nil {
		return err
	}
	opts := []messaging.PublishOption{
		messaging.WithMsgID(m.ID()),
		messaging.WithHeader(messaging.HeaderEventID, ev.ID),
	}
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		opts = append(opts, messaging.WithHeader(messaging.HeaderRequestID, reqID))
	}
	_, err = r.publisher.PublishSync(ctx, messaging.DispatchSubject(m.Target), data, opts...)
	return err
}

// deadLetter records failed and terminates msg. If the DLQ itself is down
// the message is redelivered instead so it is not lost.
func (r *Router) deadLetter(ctx context.Context, msg Msg, failed *models.FailedDispatch) {
	if err := r.dlq.Write(ctx, failed); err != nil {
		r.logger.ErrorContext(ctx, "failed to dead-letter message",
			logging.Step(failed.Step),
			logging.Error(err),
		)
		_ = msg.NakWithDelay(r.backoff.Delay(deliveryAttempt(msg)))
		return
	}
	_ = msg.Term()
}
