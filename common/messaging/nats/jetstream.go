package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/telhawk-audit/common/messaging"
)

// JetStreamClient adds streams, durable consumers and object stores to Client.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig is the subset of jetstream.StreamConfig the audit streams set.
type StreamConfig struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
	MaxBytes int64
	MaxMsgs  int64

	// Duplicates is the Nats-Msg-Id deduplication window. Zero keeps the
	// server default.
	Duplicates time.Duration

	Retention jetstream.RetentionPolicy
	Storage   jetstream.StorageType
}

// ConsumerConfig describes a durable pull consumer with explicit acks.
type ConsumerConfig struct {
	Name          string
	FilterSubject string
	AckWait       time.Duration
	MaxDeliver    int
	MaxAckPending int
}

// DefaultConsumerConfig returns a consumer that redelivers up to five times.
func DefaultConsumerConfig(name, filterSubject string) ConsumerConfig {
	return ConsumerConfig{
		Name:          name,
		FilterSubject: filterSubject,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		MaxAckPending: 100,
	}
}

const gigabyte = 1 << 30

// Streams used by the audit pipeline.
var (
	// AuditEventsStream captures inbound envelopes from producers.
	AuditEventsStream = StreamConfig{
		Name:       "AUDIT_EVENTS",
		Subjects:   []string{messaging.SubjectAuditEvents + ".>"},
		MaxAge:     24 * time.Hour,
		MaxBytes:   gigabyte,
		MaxMsgs:    1_000_000,
		Duplicates: 2 * time.Minute,
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
	}

	// AuditDispatchStream captures routed (rule, target) instructions. Its
	// dedupe window must outlast router redeliveries.
	AuditDispatchStream = StreamConfig{
		Name:       "AUDIT_DISPATCH",
		Subjects:   []string{messaging.SubjectAuditDispatch + ".>"},
		MaxAge:     24 * time.Hour,
		MaxBytes:   gigabyte,
		MaxMsgs:    1_000_000,
		Duplicates: 10 * time.Minute,
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
	}

	// AuditLogStream is the append-only sink of verbatim envelopes.
	AuditLogStream = StreamConfig{
		Name:       "AUDIT_LOG",
		Subjects:   []string{messaging.SubjectAuditLog},
		MaxAge:     24 * time.Hour,
		MaxBytes:   gigabyte,
		MaxMsgs:    -1,
		Duplicates: 2 * time.Minute,
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
	}

	// AuditDLQStream holds instructions that exhausted retries or failed permanently.
	AuditDLQStream = StreamConfig{
		Name:      "AUDIT_DLQ",
		Subjects:  []string{messaging.SubjectAuditDLQ + ".>"},
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  100 << 20,
		MaxMsgs:   100_000,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}
)

// NewJetStreamClient dials cfg.URL and opens a JetStream context on it.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &JetStreamClient{Client: client, js: js}, nil
}

// CreateOrUpdateStream applies cfg to the server.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, cfg.toJetStream())
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// CreateOrUpdateConsumer applies cfg as a durable consumer on streamName.
func (c *JetStreamClient) CreateOrUpdateConsumer(ctx context.Context, streamName string, cfg ConsumerConfig) (jetstream.Consumer, error) {
	stream, err := c.Stream(ctx, streamName)
	if err != nil {
		return nil, err
	}
	consumer, err := stream.CreateOrUpdateConsumer(ctx, cfg.toJetStream())
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.Name, err)
	}
	return consumer, nil
}

// Stream returns a handle to an existing stream.
func (c *JetStreamClient) Stream(ctx context.Context, name string) (jetstream.Stream, error) {
	stream, err := c.js.Stream(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", name, err)
	}
	return stream, nil
}

// PublishSync publishes and waits for the stream to persist the message.
// WithMsgID sets Nats-Msg-Id for the stream's dedupe window.
func (c *JetStreamClient) PublishSync(ctx context.Context, subject string, data []byte, opts ...messaging.PublishOption) (*jetstream.PubAck, error) {
	o := messaging.ApplyPublishOptions(opts...)
	msg := messageToNats(&messaging.Message{Subject: subject, Data: data, Headers: o.Headers})

	var pubOpts []jetstream.PublishOpt
	if o.MsgID != "" {
		pubOpts = append(pubOpts, jetstream.WithMsgID(o.MsgID))
	}

	ack, err := c.js.PublishMsg(ctx, msg, pubOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return ack, nil
}

// Consume delivers every message of a durable consumer to fn, which owns
// the ack. The returned function stops delivery.
func (c *JetStreamClient) Consume(ctx context.Context, streamName, consumerName string, fn func(context.Context, jetstream.Msg)) (func(), error) {
	stream, err := c.Stream(ctx, streamName)
	if err != nil {
		return nil, err
	}
	consumer, err := stream.Consumer(ctx, consumerName)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer %s: %w", consumerName, err)
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		fn(consumeCtx, msg)
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start consuming %s: %w", consumerName, err)
	}

	return func() {
		cancel()
		cc.Stop()
	}, nil
}

// ObjectStore creates the bucket if needed and returns it.
func (c *JetStreamClient) ObjectStore(ctx context.Context, bucket string, storage jetstream.StorageType) (jetstream.ObjectStore, error) {
	obs, err := c.js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "audit event payloads",
		Storage:     storage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open object store %s: %w", bucket, err)
	}
	return obs, nil
}

func (s StreamConfig) toJetStream() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:       s.Name,
		Subjects:   s.Subjects,
		MaxAge:     s.MaxAge,
		MaxBytes:   s.MaxBytes,
		MaxMsgs:    s.MaxMsgs,
		Duplicates: s.Duplicates,
		Retention:  s.Retention,
		Storage:    s.Storage,
	}
}

func (c ConsumerConfig) toJetStream() jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Name:          c.Name,
		Durable:       c.Name,
		FilterSubject: c.FilterSubject,
		AckWait:       c.AckWait,
		MaxDeliver:    c.MaxDeliver,
		MaxAckPending: c.MaxAckPending,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
}
