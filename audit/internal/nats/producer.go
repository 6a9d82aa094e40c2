package nats

import (
	"context"
	"fmt"

	"github.com/telhawk-systems/telhawk-audit/audit/pkg/event"
	"github.com/telhawk-systems/telhawk-audit/common/messaging"
	"github.com/telhawk-systems/telhawk-audit/common/middleware"
)

// Producer publishes inbound envelopes to the AUDIT_EVENTS stream. The event
// id is the bus message id, so a producer retry inside the dedupe window is
// stored once.
type Producer struct {
	publisher StreamPublisher
}

func NewProducer(p StreamPublisher) *Producer {
	return &Producer{publisher: p}
}

func (p *Producer) Submit(ctx context.Context, ev *event.Event) error {
	opts := []messaging.PublishOption{
		messaging.WithMsgID(ev.ID),
		messaging.WithHeader(messaging.HeaderEventID, ev.ID),
	}
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		opts = append(opts, messaging.WithHeader(messaging.HeaderRequestID, reqID))
	}
	if _, err := p.publisher.PublishSync(ctx, messaging.EventSubject(ev.SourceSystem), ev.Raw, opts...); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.ID, err)
	}
	return nil
}
