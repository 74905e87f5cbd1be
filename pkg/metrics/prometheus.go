package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultPrometheusNamespace = "lease_leader"

// PrometheusPublisher publishes metrics to Prometheus via /metrics endpoint.
// All Publisher interface methods are documented on the Publisher interface.
type PrometheusPublisher struct {
	registry *prometheus.Registry

	leadershipAcquired prometheus.Counter
	leadershipLost     *prometheus.CounterVec
	leaderStatus       prometheus.Gauge
	renewalLatency     prometheus.Histogram
	renewalFailures    *prometheus.CounterVec
	storeErrors        *prometheus.CounterVec
	conflicts          prometheus.Counter
	callbackPanics     *prometheus.CounterVec
}

// Ensure PrometheusPublisher implements Publisher.
var _ Publisher = (*PrometheusPublisher)(nil)

// PrometheusConfig holds configuration for the Prometheus publisher.
type PrometheusConfig struct {
	Namespace string
}

// NewPrometheusPublisher creates a Prometheus metrics publisher.
func NewPrometheusPublisher(cfg PrometheusConfig) *PrometheusPublisher {
	if cfg.Namespace == "" {
		cfg.Namespace = defaultPrometheusNamespace
	}

	registry := prometheus.NewRegistry()

	p := &PrometheusPublisher{
		registry: registry,

		leadershipAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "leadership_acquired_total",
			Help:      "Total number of leadership tenures started by this replica",
		}),
		leadershipLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "leadership_lost_total",
			Help:      "Total number of leadership tenures ended by this replica",
		}, []string{"reason"}),
		leaderStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "is_leader",
			Help:      "1 while this replica holds the lease, 0 otherwise",
		}),
		renewalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "renewal_latency_seconds",
			Help:      "Latency of successful lease renewals",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		renewalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "renewal_failures_total",
			Help:      "Total number of failed lease renewal attempts",
		}, []string{"reason"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "store_errors_total",
			Help:      "Total number of lease store errors",
		}, []string{"operation"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "conflicts_total",
			Help:      "Total number of lost compare-and-swap races",
		}),
		callbackPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "callback_panics_total",
			Help:      "Total number of recovered leadership callback panics",
		}, []string{"event"}),
	}

	registry.MustRegister(
		p.leadershipAcquired,
		p.leadershipLost,
		p.leaderStatus,
		p.renewalLatency,
		p.renewalFailures,
		p.storeErrors,
		p.conflicts,
		p.callbackPanics,
	)

	return p
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (p *PrometheusPublisher) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Close implements Publisher.Close. Prometheus registry doesn't require cleanup.
func (p *PrometheusPublisher) Close() error {
	return nil
}

// Publisher interface implementation below.
// All methods are documented on the Publisher interface.

func (p *PrometheusPublisher) PublishLeadershipAcquired(_ context.Context) error { //nolint:revive
	p.leadershipAcquired.Inc()
	return nil
}

func (p *PrometheusPublisher) PublishLeadershipLost(_ context.Context, reason string) error { //nolint:revive
	p.leadershipLost.WithLabelValues(reason).Inc()
	return nil
}

func (p *PrometheusPublisher) PublishLeaderStatus(_ context.Context, leader bool) error { //nolint:revive
	p.leaderStatus.Set(boolGauge(leader))
	return nil
}

func (p *PrometheusPublisher) PublishRenewalLatency(_ context.Context, latency time.Duration) error { //nolint:revive
	p.renewalLatency.Observe(latency.Seconds())
	return nil
}

func (p *PrometheusPublisher) PublishRenewalFailure(_ context.Context, reason string) error { //nolint:revive
	p.renewalFailures.WithLabelValues(reason).Inc()
	return nil
}

func (p *PrometheusPublisher) PublishStoreError(_ context.Context, operation string) error { //nolint:revive
	p.storeErrors.WithLabelValues(operation).Inc()
	return nil
}

func (p *PrometheusPublisher) PublishConflict(_ context.Context) error { //nolint:revive
	p.conflicts.Inc()
	return nil
}

func (p *PrometheusPublisher) PublishCallbackPanic(_ context.Context, event string) error { //nolint:revive
	p.callbackPanics.WithLabelValues(event).Inc()
	return nil
}

// PublishEvent is a no-op for Prometheus (Datadog-specific feature).
func (p *PrometheusPublisher) PublishEvent(_ context.Context, _, _, _ string, _ []string) error { //nolint:revive
	return nil
}
