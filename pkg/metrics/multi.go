package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Shavakan/lease-leader/pkg/logging"
)

const publishTimeout = 5 * time.Second

var metricsLog = logging.WithComponent(logging.LogTypeMetrics, "multi")

// MultiPublisher publishes metrics to multiple backends simultaneously.
// All Publisher interface methods are documented on the Publisher interface.
type MultiPublisher struct {
	publishers []Publisher
	timeout    time.Duration
}

// Ensure MultiPublisher implements Publisher.
var _ Publisher = (*MultiPublisher)(nil)

// NewMultiPublisher creates a publisher that fans out to multiple backends.
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers, timeout: publishTimeout}
}

// Close closes all child publishers.
func (m *MultiPublisher) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// publishAll fans out to every backend. A backend that has not answered
// within the per-backend timeout, or before ctx ends, is reported as an error
// and left to finish on its own.
func (m *MultiPublisher) publishAll(ctx context.Context, fn func(p Publisher) error) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for _, p := range m.publishers {
		wg.Add(1)
		go func(pub Publisher) {
			defer wg.Done()
			done := make(chan error, 1)
			go func() {
				done <- fn(pub)
			}()
			timer := time.NewTimer(m.timeout)
			defer timer.Stop()
			var err error
			select {
			case err = <-done:
				if err != nil {
					metricsLog.Warn("metrics publish error", slog.String("error", err.Error()))
				}
			case <-timer.C:
				metricsLog.Warn("metrics publish timeout", slog.Duration("timeout", m.timeout))
				err = fmt.Errorf("publish timeout after %v", m.timeout)
			case <-ctx.Done():
				err = fmt.Errorf("publish abandoned: %w", ctx.Err())
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Publisher interface implementation below.
// All methods are documented on the Publisher interface.

func (m *MultiPublisher) PublishLeadershipAcquired(ctx context.Context) error { //nolint:revive
	return m.publishAll(ctx, func(p Publisher) error {
		return p.PublishLeadershipAcquired(ctx)
	})
}

func (m *MultiPublisher) PublishLeadershipLost(ctx context.Context, reason string) error { //nolint:revive
	return m.publishAll(ctx, func(p Publisher) error {
		return p.PublishLeadershipLost(ctx, reason)
	})
}

func (m *MultiPublisher) PublishLeaderStatus(ctx context.Context, leader bool) error { //nolint:revive
	return m.publishAll(ctx, func(p Publisher) error {
		return p.PublishLeaderStatus(ctx, leader)
	})
}

func (m *MultiPublisher) PublishRenewalLatency(ctx context.Context, latency time.Duration) error { //nolint:revive
	return m.publishAll(ctx, func(p Publisher) error {
		return p.PublishRenewalLatency(ctx, latency)
	})
}

func (m *MultiPublisher) PublishRenewalFailure(ctx context.Context, reason string) error { //nolint:revive
	return m.publishAll(ctx, func(p Publisher) error {
		return p.PublishRenewalFailure(ctx, reason)
	})
}

func (m *MultiPublisher) PublishStoreError(ctx context.Context, operation string) error { //nolint:revive
	return m.publishAll(ctx, func(p Publisher) error {
		return p.PublishStoreError(ctx, operation)
	})
}

func (m *MultiPublisher) PublishConflict(ctx context.Context) error { //nolint:revive
	return m.publishAll(ctx, func(p Publisher) error {
		return p.PublishConflict(ctx)
	})
}

func (m *MultiPublisher) PublishCallbackPanic(ctx context.Context, event string) error { //nolint:revive
	return m.publishAll(ctx, func(p Publisher) error {
		return p.PublishCallbackPanic(ctx, event)
	})
}

func (m *MultiPublisher) PublishEvent(ctx context.Context, title, text, alertType string, tags []string) error { //nolint:revive
	return m.publishAll(ctx, func(p Publisher) error {
		return p.PublishEvent(ctx, title, text, alertType, tags)
	})
}
