package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
)

const defaultDatadogNamespace = "lease_leader"

// DatadogPublisher publishes metrics to Datadog via DogStatsD.
// All Publisher interface methods are documented on the Publisher interface.
type DatadogPublisher struct {
	client     *statsd.Client
	namespace  string
	tags       []string
	sampleRate float64
}

// Ensure DatadogPublisher implements Publisher.
var _ Publisher = (*DatadogPublisher)(nil)

// DatadogConfig holds configuration for the Datadog publisher.
type DatadogConfig struct {
	// Address is the DogStatsD address (default: "127.0.0.1:8125")
	Address string
	// Namespace is the metric namespace prefix (default: "lease_leader")
	Namespace string
	// Tags are global tags applied to all metrics
	Tags []string
	// SampleRate for high-frequency metrics (default: 1.0 = 100%)
	// Values < 1.0 enable sampling to reduce network traffic
	SampleRate float64

	// Client tuning options (0 = use library default)
	// BufferPoolSize configures buffer pool size (0 = library default of 2048)
	BufferPoolSize int
	// BufferFlushInterval configures flush interval (0 = library default of 100ms)
	BufferFlushInterval time.Duration
	// WorkersCount configures parallel workers (0 = library default of 1)
	WorkersCount int
	// MaxMessagesPerPayload limits messages per UDP payload (0 = unlimited)
	MaxMessagesPerPayload int
}

// NewDatadogPublisher creates a Datadog metrics publisher using DogStatsD.
func NewDatadogPublisher(cfg DatadogConfig) (*DatadogPublisher, error) {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8125"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = defaultDatadogNamespace
	}
	if cfg.SampleRate <= 0 || cfg.SampleRate > 1 {
		cfg.SampleRate = 1.0
	}

	opts := []statsd.Option{
		statsd.WithNamespace(cfg.Namespace + "."),
		statsd.WithTags(cfg.Tags),
	}

	if cfg.BufferPoolSize > 0 {
		opts = append(opts, statsd.WithBufferPoolSize(cfg.BufferPoolSize))
	}
	if cfg.BufferFlushInterval > 0 {
		opts = append(opts, statsd.WithBufferFlushInterval(cfg.BufferFlushInterval))
	}
	if cfg.WorkersCount > 0 {
		opts = append(opts, statsd.WithWorkersCount(cfg.WorkersCount))
	}
	if cfg.MaxMessagesPerPayload > 0 {
		opts = append(opts, statsd.WithMaxMessagesPerPayload(cfg.MaxMessagesPerPayload))
	}

	client, err := statsd.New(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create DogStatsD client: %w", err)
	}

	return &DatadogPublisher{
		client:     client,
		namespace:  cfg.Namespace,
		tags:       cfg.Tags,
		sampleRate: cfg.SampleRate,
	}, nil
}

// Close closes the DogStatsD client connection.
func (p *DatadogPublisher) Close() error {
	return p.client.Close()
}

// Publisher interface implementation below.
// All methods are documented on the Publisher interface.

func (p *DatadogPublisher) PublishLeadershipAcquired(_ context.Context) error { //nolint:revive
	return p.client.Incr("leadership.acquired", nil, 1)
}

func (p *DatadogPublisher) PublishLeadershipLost(_ context.Context, reason string) error { //nolint:revive
	return p.client.Incr("leadership.lost", []string{"reason:" + reason}, 1)
}

func (p *DatadogPublisher) PublishLeaderStatus(_ context.Context, leader bool) error { //nolint:revive
	return p.client.Gauge("leadership.is_leader", boolGauge(leader), nil, 1)
}

func (p *DatadogPublisher) PublishRenewalLatency(_ context.Context, latency time.Duration) error { //nolint:revive
	// Renewals run every retry period on the leader; sample to reduce traffic
	return p.client.Distribution("renewal.latency_seconds", latency.Seconds(), nil, p.sampleRate)
}

func (p *DatadogPublisher) PublishRenewalFailure(_ context.Context, reason string) error { //nolint:revive
	return p.client.Incr("renewal.failure", []string{"reason:" + reason}, 1)
}

func (p *DatadogPublisher) PublishStoreError(_ context.Context, operation string) error { //nolint:revive
	return p.client.Incr("store.error", []string{"operation:" + operation}, 1)
}

func (p *DatadogPublisher) PublishConflict(_ context.Context) error { //nolint:revive
	return p.client.Incr("store.conflict", nil, 1)
}

func (p *DatadogPublisher) PublishCallbackPanic(_ context.Context, event string) error { //nolint:revive
	return p.client.Incr("callback.panic", []string{"event:" + event}, 1)
}

// PublishEvent publishes a Datadog event.
func (p *DatadogPublisher) PublishEvent(_ context.Context, title, text, alertType string, tags []string) error { //nolint:revive
	var ddAlertType statsd.EventAlertType
	switch alertType {
	case "warning":
		ddAlertType = statsd.Warning
	case "error":
		ddAlertType = statsd.Error
	case "success":
		ddAlertType = statsd.Success
	default:
		ddAlertType = statsd.Info
	}

	allTags := make([]string, 0, len(p.tags)+len(tags))
	allTags = append(allTags, p.tags...)
	allTags = append(allTags, tags...)

	return p.client.Event(&statsd.Event{
		Title:     title,
		Text:      text,
		AlertType: ddAlertType,
		Tags:      allTags,
	})
}
