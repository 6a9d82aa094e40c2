package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/metrics"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/models"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/service"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/workflow"
	"github.com/telhawk-systems/telhawk-audit/common/logging"
	"github.com/telhawk-systems/telhawk-audit/common/messaging"
)

// StreamPublisher is the subset of the JetStream client used for publishing.
type StreamPublisher interface {
	PublishSync(ctx context.Context, subject string, data []byte, opts ...messaging.PublishOption) (*jetstream.PubAck, error)
}

// DeadLetterWriter records instructions that will not be retried.
type DeadLetterWriter interface {
	Write(ctx context.Context, failed *models.FailedDispatch) error
}

// JetStreamDLQ writes failed instructions to the AUDIT_DLQ stream under
// audit.dlq.<step>.
type JetStreamDLQ struct {
	publisher StreamPublisher
	stream    jetstream.Stream
	logger    *logging.Logger
	written   atomic.Uint64
}

// NewJetStreamDLQ creates a DLQ. stream may be nil when only writing.
func NewJetStreamDLQ(publisher StreamPublisher, stream jetstream.Stream, logger *logging.Logger) *JetStreamDLQ {
	if logger == nil {
		logger = logging.Default()
	}
	return &JetStreamDLQ{publisher: publisher, stream: stream, logger: logger}
}

func (q *JetStreamDLQ) Write(ctx context.Context, failed *models.FailedDispatch) error {
	if failed.FailedAt.IsZero() {
		failed.FailedAt = time.Now().UTC()
	}
	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	subject := messaging.DLQSubject(failed.Step)
	if _, err := q.publisher.PublishSync(ctx, subject, data,
		messaging.WithHeader(messaging.HeaderEventID, failed.EventID),
	); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	q.written.Add(1)
	metrics.DLQTotal.WithLabelValues(failed.Target, failed.Step).Inc()
	q.logger.WarnContext(ctx, "instruction dead-lettered",
		logging.EventID(failed.EventID),
		logging.Rule(failed.Rule),
		logging.Target(failed.Target),
		logging.Step(failed.Step),
		logging.Attempt(failed.Attempts),
		logging.Subject(subject),
	)
	return nil
}

// Written reports how many entries this process wrote.
func (q *JetStreamDLQ) Written() uint64 {
	return q.written.Load()
}

// Stats returns DLQ stream totals.
func (q *JetStreamDLQ) Stats(ctx context.Context) (*models.DLQStats, error) {
	if q.stream == nil {
		return nil, errors.New("dlq stream not configured")
	}
	info, err := q.stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("dlq stream info: %w", err)
	}
	return &models.DLQStats{Messages: info.State.Msgs, Bytes: info.State.Bytes}, nil
}

// List returns up to limit dead-lettered instructions, oldest first.
func (q *JetStreamDLQ) List(ctx context.Context, limit int) ([]models.FailedDispatch, error) {
	if q.stream == nil {
		return nil, errors.New("dlq stream not configured")
	}
	if limit <= 0 {
		limit = 100
	}

	// Ephemeral consumer, nothing is acknowledged.
	consumer, err := q.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{messaging.SubjectAuditDLQ + ".>"},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var out []models.FailedDispatch
	for msg := range msgs.Messages() {
		var failed models.FailedDispatch
		if err := json.Unmarshal(msg.Data(), &failed); err != nil {
			q.logger.WarnContext(ctx, "skipping unreadable dlq entry", logging.Error(err))
			continue
		}
		out = append(out, failed)
	}
	if err := msgs.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) {
		q.logger.WarnContext(ctx, "dlq fetch completed with error", logging.Error(err))
	}
	return out, nil
}

// failingStep names the step recorded in the DLQ for err.
func failingStep(err error, target string) string {
	var se *workflow.StepError
	if errors.As(err, &se) {
		return string(se.Step)
	}
	var de *service.DispatchError
	if errors.As(err, &de) {
		return string(de.Target)
	}
	return target
}
