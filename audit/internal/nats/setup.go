package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/config"
	"github.com/telhawk-systems/telhawk-audit/audit/pkg/routing"
	"github.com/telhawk-systems/telhawk-audit/common/logging"
	"github.com/telhawk-systems/telhawk-audit/common/messaging"
	natsclient "github.com/telhawk-systems/telhawk-audit/common/messaging/nats"
)

// Streams lists the streams the pipeline needs, in creation order.
func Streams() []natsclient.StreamConfig {
	return []natsclient.StreamConfig{
		natsclient.AuditEventsStream,
		natsclient.AuditDispatchStream,
		natsclient.AuditLogStream,
		natsclient.AuditDLQStream,
	}
}

// RouterConsumer is the durable consumer of inbound envelopes.
func RouterConsumer(names config.Names, cfg config.DispatchConfig) natsclient.ConsumerConfig {
	c := natsclient.DefaultConsumerConfig(names.Consumer("router"), messaging.SubjectAuditEvents+".>")
	applyDispatch(&c, cfg)
	return c
}

// WorkerConsumer is the durable consumer of one target type's instructions.
func WorkerConsumer(names config.Names, target routing.TargetType, cfg config.DispatchConfig) natsclient.ConsumerConfig {
	c := natsclient.DefaultConsumerConfig(names.Consumer(string(target)), messaging.DispatchSubject(string(target)))
	applyDispatch(&c, cfg)
	return c
}

func applyDispatch(c *natsclient.ConsumerConfig, cfg config.DispatchConfig) {
	if cfg.MaxDeliver > 0 {
		c.MaxDeliver = cfg.MaxDeliver
	}
	if cfg.AckWait > 0 {
		c.AckWait = cfg.AckWait
	}
}

// Bus wires the router and target workers to JetStream.
type Bus struct {
	js      *natsclient.JetStreamClient
	names   config.Names
	cfg     config.DispatchConfig
	router  *Router
	workers []*Worker
	logger  *logging.Logger
	stops   []func()
}

func NewBus(js *natsclient.JetStreamClient, names config.Names, cfg config.DispatchConfig, router *Router, workers []*Worker, logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{js: js, names: names, cfg: cfg, router: router, workers: workers, logger: logger}
}

// SetupStreams creates or updates every stream the pipeline uses.
func SetupStreams(ctx context.Context, js *natsclient.JetStreamClient) error {
	for _, s := range Streams() {
		if _, err := js.CreateOrUpdateStream(ctx, s); err != nil {
			return fmt.Errorf("setup stream %s: %w", s.Name, err)
		}
	}
	return nil
}

// Setup creates or updates every stream and durable consumer.
func (b *Bus) Setup(ctx context.Context) error {
	if err := SetupStreams(ctx, b.js); err != nil {
		return err
	}
	if b.router != nil {
		if _, err := b.js.CreateOrUpdateConsumer(ctx, natsclient.AuditEventsStream.Name, RouterConsumer(b.names, b.cfg)); err != nil {
			return fmt.Errorf("setup router consumer: %w", err)
		}
	}
	for _, w := range b.workers {
		if _, err := b.js.CreateOrUpdateConsumer(ctx, natsclient.AuditDispatchStream.Name, WorkerConsumer(b.names, w.Target(), b.cfg)); err != nil {
			return fmt.Errorf("setup %s consumer: %w", w.Target(), err)
		}
	}
	return nil
}

// Start begins consuming. Stop must be called to release the consumers.
func (b *Bus) Start(ctx context.Context) error {
	if b.router != nil {
		stop, err := b.js.Consume(ctx, natsclient.AuditEventsStream.Name, b.names.Consumer("router"), func(ctx context.Context, msg jetstream.Msg) {
			b.router.Handle(ctx, msg)
		})
		if err != nil {
			b.Stop()
			return fmt.Errorf("start router: %w", err)
		}
		b.stops = append(b.stops, stop)
	}
	for _, w := range b.workers {
		stop, err := b.js.Consume(ctx, natsclient.AuditDispatchStream.Name, b.names.Consumer(string(w.Target())), func(ctx context.Context, msg jetstream.Msg) {
			w.Handle(ctx, msg)
		})
		if err != nil {
			b.Stop()
			return fmt.Errorf("start %s worker: %w", w.Target(), err)
		}
		b.stops = append(b.stops, stop)
	}
	b.logger.Info("bus consumers started",
		"router", b.router != nil,
		"workers", len(b.workers),
	)
	return nil
}

// Stop stops every consumer started by Start.
func (b *Bus) Stop() {
	for _, stop := range b.stops {
		stop()
	}
	b.stops = nil
}

// DLQStream opens the DLQ stream for stats and listing.
func DLQStream(ctx context.Context, js *natsclient.JetStreamClient) (jetstream.Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return js.Stream(ctx, natsclient.AuditDLQStream.Name)
}
