package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"courier/internal/config"
	"courier/internal/core"
	notifcore "courier/internal/notifications/core"
	"courier/internal/notifications/worker"
	"courier/internal/queue"
	"courier/internal/store"
	"courier/internal/types"
)

// ChannelDeps is what a ChannelFactory can draw on.
type ChannelDeps struct {
	Config        *config.Config
	Collaborators Collaborators
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// ChannelFactory builds the handler for one channel.
type ChannelFactory func(ctx context.Context, deps ChannelDeps) (worker.ChannelHandler, error)

// WorkerSpec names a channel worker binary.
type WorkerSpec struct {
	// Name is used as the consumer tag and log component.
	Name       string
	Channel    types.NotificationType
	NewHandler ChannelFactory
}

// RunWorker connects to Redis and RabbitMQ, builds the delivery pipeline for
// spec.Channel and consumes its queue until ctx is cancelled or the broker
// connection is lost for good. The health and metrics listener runs
// alongside on the configured port.
func RunWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, spec WorkerSpec) error {
	logger = logger.With("component", spec.Name)

	st, err := store.Open(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer st.Close()

	cm, err := ConnectBroker(ctx, cfg.RabbitMQ, logger)
	if err != nil {
		return err
	}
	defer cm.Close()

	queueName, ok := queue.NewTopology(cfg.RabbitMQ).QueueFor(spec.Channel)
	if !ok {
		return fmt.Errorf("no queue configured for channel %q", spec.Channel)
	}

	reg := NewRegistry()
	metrics, err := NewDeliveryMetrics(ctx, cfg, reg, logger)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: cfg.Collaborators.HTTPTimeout}
	collab := NewCollaborators(cfg.Collaborators, httpClient)

	handler, err := spec.NewHandler(ctx, ChannelDeps{
		Config:        cfg,
		Collaborators: collab,
		HTTPClient:    httpClient,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("building %s handler: %w", spec.Channel, err)
	}

	tl := types.NewSlogLogger(logger)

	var forwarder notifcore.StatusForwarder
	if collab.Tracker != nil {
		forwarder = collab.Tracker
	}
	status := notifcore.NewStatusUpdater(st, forwarder, cfg.Delivery.StatusForwardLimit, types.RealClock{}, tl)
	defer status.Close()

	scheduler := notifcore.NewScheduler()
	defer scheduler.Stop()

	breaker := notifcore.NewBreaker(spec.Channel, notifcore.BreakerSettings{
		Threshold:  cfg.Delivery.BreakerThreshold,
		ResetAfter: cfg.Delivery.BreakerResetAfter,
	}, metrics, tl)

	dispatcher := notifcore.NewDispatcher(spec.Channel,
		notifcore.RetryPolicyFromConfig(cfg.Delivery),
		breaker, scheduler, status, tl,
		notifcore.WithAttemptTimeout(cfg.Delivery.AttemptTimeout),
		notifcore.WithRateLimit(cfg.Delivery.RatePerSecond, cfg.Delivery.RateBurst),
		notifcore.WithMetrics(metrics),
	)

	publisher := queue.NewPublisher(cm, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.PublishTimeout, logger)
	defer publisher.Close()

	processor := worker.NewProcessor(worker.Config{
		Handler:     handler,
		Attempter:   dispatcher,
		Failed:      publisher,
		Queue:       queueName,
		FailedQueue: cfg.RabbitMQ.FailedQueue,
		Metrics:     metrics,
		Logger:      tl,
	})
	consumer := queue.NewConsumer(cm, cfg.RabbitMQ.Prefetch, spec.Name, logger)

	ops, err := NewOpsServer(cfg, logger, reg,
		core.NewProbe("rabbitmq", cm.Check),
		core.NewProbe("redis", st.Ping),
	)
	if err != nil {
		return err
	}

	logger.Info("worker started", "queue", queueName, "prefetch", cfg.RabbitMQ.Prefetch)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx, cm, queueName, processor.Handle)
	})
	g.Go(func() error {
		return ops.ListenAndServe(gctx, ":"+cfg.Server.Port, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		return watchBroker(gctx, cm)
	})

	err = g.Wait()
	logger.Info("worker stopped")
	return err
}

// brokerWatcher is satisfied by *queue.ConnectionManager.
type brokerWatcher interface {
	Failed() <-chan struct{}
	Err() error
}

// watchBroker returns an error once the connection manager gives up
// reconnecting, and nil when ctx ends first.
func watchBroker(ctx context.Context, cm brokerWatcher) error {
	select {
	case <-cm.Failed():
		err := cm.Err()
		if err == nil {
			err = errors.New("connection closed")
		}
		return fmt.Errorf("broker connection lost: %w", err)
	case <-ctx.Done():
		return nil
	}
}
