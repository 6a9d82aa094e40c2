package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/config"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/executions"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/handlers"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/logsink"
	auditnats "github.com/telhawk-systems/telhawk-audit/audit/internal/nats"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/notification"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/repository"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/server"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/service"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/storage"
	"github.com/telhawk-systems/telhawk-audit/audit/internal/workflow"
	"github.com/telhawk-systems/telhawk-audit/audit/pkg/routing"
	"github.com/telhawk-systems/telhawk-audit/common/logging"
	"github.com/telhawk-systems/telhawk-audit/common/messaging"
	natsclient "github.com/telhawk-systems/telhawk-audit/common/messaging/nats"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	addr := flag.String("addr", "", "override listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("audit"))
	logging.SetDefault(logger)

	names := cfg.Names()
	slog.Info("Starting Audit service",
		slog.Int("port", cfg.Server.Port),
		slog.String("env", names.Env),
		slog.String("archive", cfg.Archive.Backend),
		slog.String("index", cfg.Index.Backend),
		slog.Bool("nats", cfg.NATS.Enabled),
	)

	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	if *addr != "" {
		listenAddr = *addr
	}

	ctx := context.Background()

	engine, err := loadRules(cfg.Rules.Path)
	if err != nil {
		fatal("Failed to load routing rules", err)
	}
	slog.Info("Routing rules loaded", slog.Int("rules", len(engine.Rules())))

	// NATS is required for the bus, the object store archive and the nats
	// notification channel.
	var js *natsclient.JetStreamClient
	if cfg.NATS.Enabled {
		js, err = natsclient.NewJetStreamClient(natsclient.Config{
			URL:           cfg.NATS.URL,
			Name:          "audit-service",
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       5 * time.Second,
			Logger:        logger.Logger,
		})
		if err != nil {
			fatal("Failed to connect to NATS", err)
		}
		defer js.Close()
		slog.Info("Connected to NATS", slog.String("url", cfg.NATS.URL))

		if err := auditnats.SetupStreams(ctx, js); err != nil {
			fatal("Failed to set up streams", err)
		}
	} else {
		slog.Info("NATS messaging disabled, dispatching in process")
	}

	checks := map[string]handlers.Check{}

	archive, err := buildArchive(ctx, cfg, names, js)
	if err != nil {
		fatal("Failed to open archive", err)
	}

	index, closeIndex, err := buildIndex(ctx, cfg, names)
	if err != nil {
		fatal("Failed to open index", err)
	}
	defer closeIndex()
	if p, ok := index.(repository.Pinger); ok {
		checks["index"] = handlers.PingCheck(p)
	}

	history, err := buildHistory(ctx, cfg)
	if err != nil {
		fatal("Failed to open execution history", err)
	}
	if p, ok := history.(repository.Pinger); ok {
		checks["redis"] = handlers.PingCheck(p)
	}

	runner := workflow.NewRunner(archive, index, logger,
		workflow.WithTracker(history),
		workflow.WithTimeout(cfg.Workflow.Timeout),
	)

	var sink logsink.Sink = logsink.NewLoggerSink(logger)
	if js != nil {
		sink = logsink.NewJetStreamSink(js)
	}

	executor := service.NewExecutor(runner, sink, buildNotificationChannel(cfg, js, logger), logger)
	dispatcher := service.NewDispatcher(engine, executor, cfg.Dispatch.MaxConcurrency, logger)

	var (
		submitter handlers.Submitter = dispatcher
		bus       *auditnats.Bus
		dlq       *auditnats.JetStreamDLQ
	)
	if js != nil {
		stream, err := auditnats.DLQStream(ctx, js)
		if err != nil {
			fatal("Failed to open DLQ stream", err)
		}
		dlq = auditnats.NewJetStreamDLQ(js, stream, logger)

		backoff := auditnats.Backoff{Initial: cfg.Dispatch.BackoffInitial, Max: cfg.Dispatch.BackoffMax}
		router := auditnats.NewRouter(engine, js, dlq, backoff, logger)
		workers := make([]*auditnats.Worker, 0, len(routing.TargetTypes))
		for _, target := range routing.TargetTypes {
			workers = append(workers, auditnats.NewWorker(target, engine, executor, dlq, backoff, cfg.Dispatch.MaxDeliver, logger))
		}

		bus = auditnats.NewBus(js, names, cfg.Dispatch, router, workers, logger)
		if err := bus.Setup(ctx); err != nil {
			fatal("Failed to set up consumers", err)
		}
		if err := bus.Start(ctx); err != nil {
			fatal("Failed to start consumers", err)
		}
		submitter = auditnats.NewProducer(js)

		checks["nats"] = func(ctx context.Context) error {
			return messaging.CheckClientHealth(ctx, js, 2*time.Second).Err()
		}
	}

	h := handlers.New(engine, submitter, index, archive, logger).
		WithExecutions(history).
		WithMaxBodyBytes(cfg.Server.MaxBodyBytes).
		WithStats(func() any {
			stats := map[string]any{"dispatcher": dispatcher.Health()}
			if dlq != nil {
				stats["dead_lettered"] = dlq.Written()
			}
			return stats
		})
	if dlq != nil {
		h.WithDeadLetters(dlq)
	}
	for name, check := range checks {
		h.WithCheck(name, check)
	}

	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      server.NewRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("audit service listening", slog.String("addr", listenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("Server error", err)
		}
	}()

	<-shutdownCtx.Done()
	slog.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}

	// Stop consuming after ingress is closed so accepted events still drain.
	if bus != nil {
		slog.Info("stopping bus consumers")
		bus.Stop()
	}
	if js != nil {
		if err := js.Drain(); err != nil {
			slog.Warn("NATS drain failed", slog.String("error", err.Error()))
		}
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}

func loadRules(path string) (*routing.Engine, error) {
	if path == "" {
		return routing.Default()
	}
	return routing.LoadFile(path)
}

func buildArchive(ctx context.Context, cfg *config.Config, names config.Names, js *natsclient.JetStreamClient) (storage.Archive, error) {
	switch cfg.Archive.Backend {
	case "objectstore":
		bucket, err := js.ObjectStore(ctx, names.Bucket, jetstream.FileStorage)
		if err != nil {
			return nil, err
		}
		slog.Info("Using object store archive", slog.String("bucket", names.Bucket))
		return storage.NewObjectStore(bucket), nil
	case "file":
		slog.Info("Using file archive", slog.String("path", cfg.Archive.BasePath))
		return storage.NewFileArchive(cfg.Archive.BasePath)
	default:
		slog.Warn("Using in-memory archive, payloads are lost on restart")
		return storage.NewMemoryArchive(), nil
	}
}

func buildIndex(ctx context.Context, cfg *config.Config, names config.Names) (repository.Index, func(), error) {
	switch cfg.Index.Backend {
	case "postgres":
		connString := cfg.Database.Postgres.ConnString()
		slog.Info("Running database migrations")
		if err := repository.Migrate(connString); err != nil {
			return nil, nil, err
		}
		slog.Info("Database migrations completed")

		pg, err := repository.NewPostgresIndex(ctx, connString)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case "opensearch":
		idx, err := repository.NewOpenSearchIndex(repository.OpenSearchConfig{
			URL:      cfg.OpenSearch.URL,
			Username: cfg.OpenSearch.Username,
			Password: cfg.OpenSearch.Password,
			Insecure: cfg.OpenSearch.Insecure,
			Index:    names.Index,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := idx.EnsureIndex(ctx); err != nil {
			return nil, nil, err
		}
		slog.Info("Using OpenSearch index", slog.String("index", names.Index))
		return idx, func() {}, nil
	default:
		slog.Warn("Using in-memory index, records are lost on restart")
		return repository.NewMemoryIndex(), func() {}, nil
	}
}

func buildHistory(ctx context.Context, cfg *config.Config) (executions.Store, error) {
	if !cfg.Redis.Enabled {
		return executions.NewMemory(), nil
	}
	client, err := executions.NewRedisClient(cfg.Redis.URL, cfg.Redis.MaxRetries, cfg.Redis.PoolSize)
	if err != nil {
		return nil, err
	}
	tracker := executions.NewRedisTracker(client, cfg.Redis.TTL)
	if err := tracker.Ping(ctx); err != nil {
		// History is diagnostic only; runs proceed without it.
		slog.Warn("Redis unreachable, execution history disabled", slog.String("error", err.Error()))
		return executions.Noop{}, nil
	}
	slog.Info("Connected to Redis", slog.String("url", cfg.Redis.URL))
	return tracker, nil
}

func buildNotificationChannel(cfg *config.Config, js *natsclient.JetStreamClient, logger *logging.Logger) notification.Channel {
	channels := []notification.Channel{notification.NewLogChannel(logger)}

	switch cfg.Notification.Channel {
	case "nats":
		channels = append(channels, notification.NewNATSChannel(js))
		slog.Info("NATS notifications enabled")
	case "webhook":
		channels = append(channels, notification.NewWebhookChannel(cfg.Notification.WebhookURL, cfg.Notification.Timeout))
		slog.Info("Webhook notifications enabled", slog.String("url", cfg.Notification.WebhookURL))
	}

	if len(channels) == 1 {
		return channels[0]
	}
	return notification.NewMultiChannel(channels...)
}
