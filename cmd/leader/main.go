// Package main runs a replica that takes part in lease-based leader election
// and performs a periodic task only while it holds the lease.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/Shavakan/lease-leader/pkg/config"
	"github.com/Shavakan/lease-leader/pkg/coordinator"
	"github.com/Shavakan/lease-leader/pkg/election"
	"github.com/Shavakan/lease-leader/pkg/lease"
	"github.com/Shavakan/lease-leader/pkg/logging"
	"github.com/Shavakan/lease-leader/pkg/metrics"
	"github.com/Shavakan/lease-leader/pkg/tracing"
)

var (
	serverLog = logging.WithComponent(logging.LogTypeServer, "main")
	taskLog   = logging.WithComponent(logging.LogTypeTask, "leader-task")
)

func needsAWS(cfg *config.Config) bool {
	return (cfg.Enabled && cfg.Backend == config.BackendDynamoDB) || cfg.Metrics.CloudWatchEnabled
}

func buildStore(ctx context.Context, awsCfg aws.Config, cfg *config.Config) (lease.Store, error) {
	switch cfg.Backend {
	case config.BackendKubernetes:
		clientset, err := lease.NewKubernetesClient(cfg.Kubeconfig)
		if err != nil {
			return nil, err
		}
		return lease.NewKubernetesStore(clientset), nil
	case config.BackendDynamoDB:
		return lease.NewDynamoDBStoreFromConfig(awsCfg, cfg.DynamoDBTable), nil
	case config.BackendRedis:
		connectCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
		return lease.NewRedisStore(connectCtx, lease.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
	case config.BackendMemory:
		return lease.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

func initMetrics(awsCfg aws.Config, cfg *config.Config) (metrics.Publisher, http.Handler) {
	var publishers []metrics.Publisher
	var prometheusHandler http.Handler
	m := cfg.Metrics

	if m.CloudWatchEnabled {
		namespace := m.Namespace
		if namespace == "" {
			namespace = "LeaseLeader"
		}
		publishers = append(publishers, metrics.NewCloudWatchPublisherWithNamespace(awsCfg, namespace))
		serverLog.Info("CloudWatch metrics enabled", logging.KeyNamespace, namespace)
	}

	if m.PrometheusEnabled {
		prom := metrics.NewPrometheusPublisher(metrics.PrometheusConfig{Namespace: m.Namespace})
		publishers = append(publishers, prom)
		prometheusHandler = prom.Handler()
		serverLog.Info("Prometheus metrics enabled")
	}

	if m.DatadogEnabled {
		dd, err := metrics.NewDatadogPublisher(metrics.DatadogConfig{
			Address:   m.DatadogAddr,
			Namespace: m.Namespace,
			Tags:      m.DatadogTags,
		})
		if err != nil {
			serverLog.Warn("failed to create Datadog metrics publisher, continuing without Datadog", logging.KeyError, err)
		} else {
			publishers = append(publishers, dd)
			serverLog.Info("Datadog metrics enabled", "addr", m.DatadogAddr)
		}
	}

	if len(publishers) == 0 {
		serverLog.Info("no metrics backends enabled")
		return metrics.NoopPublisher{}, nil
	}

	if len(publishers) == 1 {
		return publishers[0], prometheusHandler
	}

	return metrics.NewMultiPublisher(publishers...), prometheusHandler
}

// leadershipLogger logs tenure changes on behalf of the application.
func leadershipLogger(identity string) election.Callbacks {
	log := serverLog.With(logging.KeyIdentity, identity)
	return election.CallbackFuncs{
		BecameLeader:   func() { log.Info("this replica is now the leader") },
		LostLeadership: func() { log.Info("this replica is no longer the leader") },
		ObservedLeader: func(holder string) { log.Debug("new leader observed", logging.KeyHolder, holder) },
	}
}

func initCoordinator(ctx context.Context, awsCfg aws.Config, cfg *config.Config, publisher metrics.Publisher) (coordinator.Coordinator, error) {
	app := leadershipLogger(cfg.Identity)

	if !cfg.Enabled {
		serverLog.Info("leader election disabled (no-op coordinator)")
		return coordinator.NewNoOpCoordinator(cfg.Identity, app), nil
	}

	store, err := buildStore(ctx, awsCfg, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s lease store: %w", cfg.Backend, err)
	}
	serverLog.Info("lease store ready", logging.KeyBackend, cfg.Backend)

	coord, err := coordinator.NewLeaseCoordinator(cfg.ElectionConfig(), store,
		election.WithMetrics(publisher),
		election.WithCallbacks(app),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return coord, nil
}

// runLeaderTask calls task every interval while isLeader reports true.
func runLeaderTask(ctx context.Context, interval time.Duration, isLeader func() bool, task func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if isLeader() {
				task(ctx)
			}
		}
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		serverLog.Error("failed to load config", logging.KeyError, err)
		os.Exit(1)
	}
	logging.Init(cfg.LogLevel)
	serverLog.Info("starting lease-leader",
		logging.KeyLease, cfg.LeaseName,
		logging.KeyNamespace, cfg.Namespace,
		logging.KeyIdentity, cfg.Identity,
		logging.KeyBackend, cfg.Backend,
	)

	tracerProvider, err := tracing.Init(ctx, tracing.LoadConfig())
	if err != nil {
		serverLog.Warn("failed to initialize tracing, continuing without it", logging.KeyError, err)
	}

	var awsCfg aws.Config
	if needsAWS(cfg) {
		loadCtx, loadCancel := context.WithTimeout(ctx, config.ConnectTimeout)
		awsCfg, err = awsconfig.LoadDefaultConfig(loadCtx, awsconfig.WithRegion(cfg.AWSRegion))
		loadCancel()
		if err != nil {
			serverLog.Error("failed to load AWS config", logging.KeyError, err)
			os.Exit(1)
		}
	}

	metricsPublisher, prometheusHandler := initMetrics(awsCfg, cfg)

	coord, err := initCoordinator(ctx, awsCfg, cfg, metricsPublisher)
	if err != nil {
		serverLog.Error("failed to create coordinator", logging.KeyError, err)
		os.Exit(1)
	}
	if err := coord.Start(ctx); err != nil {
		serverLog.Error("failed to start coordinator", logging.KeyError, err)
		os.Exit(1)
	}

	status := newStatusHandler(cfg.Identity, coord)
	mux := http.NewServeMux()
	status.register(mux)
	if prometheusHandler != nil {
		mux.Handle(cfg.Metrics.PrometheusPath, prometheusHandler)
		serverLog.Info("Prometheus metrics endpoint registered", "path", cfg.Metrics.PrometheusPath)
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go runLeaderTask(ctx, cfg.TaskInterval, coord.IsLeader, func(context.Context) {
		taskLog.Info("running scheduled task as leader", logging.KeyIdentity, cfg.Identity)
	})

	go func() {
		serverLog.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLog.Error("server failed", logging.KeyError, err)
			cancel()
		}
	}()

	<-ctx.Done()
	serverLog.Info("shutdown signal received, gracefully stopping")
	status.markShuttingDown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := coord.Stop(shutdownCtx); err != nil {
		serverLog.Warn("coordinator shutdown failed", logging.KeyError, err)
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		serverLog.Warn("server shutdown failed", logging.KeyError, err)
	}

	if err := metricsPublisher.Close(); err != nil {
		serverLog.Warn("metrics publisher close failed", logging.KeyError, err)
	}

	if tracerProvider != nil {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), config.CleanupTimeout)
		if err := tracerProvider.Shutdown(cleanupCtx); err != nil {
			serverLog.Warn("tracer shutdown failed", logging.KeyError, err)
		}
		cleanupCancel()
	}

	serverLog.Info("server stopped")
}
