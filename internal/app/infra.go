package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"courier/internal/config"
	"courier/internal/core"
	notifcore "courier/internal/notifications/core"
	"courier/internal/queue"
	"courier/internal/types"
)

// LoadConfig loads the process configuration. Outside local mode any
// *_SSM_PARAM variable is resolved through SSM Parameter Store.
func LoadConfig() (*config.Config, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := config.LoadConfig(config.NewSSMProvider(region, os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

// ConnectBroker connects to RabbitMQ and declares the exchange, the channel
// queues and the failed queue. The caller owns the returned manager.
func ConnectBroker(ctx context.Context, cfg config.RabbitMQConfig, logger *slog.Logger, opts ...queue.ManagerOption) (*queue.ConnectionManager, error) {
	cm := queue.NewConnectionManager(cfg, logger, opts...)
	if err := cm.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}

	ch, err := cm.Channel()
	if err != nil {
		_ = cm.Close()
		return nil, fmt.Errorf("opening topology channel: %w", err)
	}
	defer ch.Close()

	if err := queue.NewTopology(cfg).Declare(ch); err != nil {
		_ = cm.Close()
		return nil, err
	}
	return cm, nil
}

// NewRegistry returns a Prometheus registry with the Go runtime and process
// collectors registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// LoadAWSConfig builds the SDK config for SES and CloudWatch. A non-empty
// endpoint points every client at LocalStack.
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.EndpointURL))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config (region=%s): %w", cfg.Region, err)
	}
	return awsCfg, nil
}

// NewDeliveryMetrics selects the delivery metrics backend. Prometheus
// collectors are registered on reg.
func NewDeliveryMetrics(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (notifcore.NotificationMetrics, error) {
	switch cfg.Observability.MetricsBackend {
	case "prometheus":
		return notifcore.NewPrometheusNotificationMetrics(reg), nil
	case "cloudwatch":
		awsCfg, err := LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		return notifcore.NewCloudWatchNotificationMetrics(
			cloudwatch.NewFromConfig(awsCfg),
			cfg.Observability.MetricNamespace,
			types.NewSlogLogger(logger).With("component", "cloudwatch_metrics"),
		), nil
	case "none", "":
		return notifcore.NopMetrics{}, nil
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", cfg.Observability.MetricsBackend)
	}
}

// NewOpsServer builds the health and metrics listener used by the workers.
// It carries no domain routes.
func NewOpsServer(cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry, probes ...core.HealthProbe) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv.Metrics = core.NewPrometheusMetrics(reg)
	srv.Gatherer = reg
	srv.HealthProbes = probes
	srv.MountRoutes()
	return srv, nil
}
