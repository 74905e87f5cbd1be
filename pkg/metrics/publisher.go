// Package metrics provides metrics publishing abstractions and implementations.
package metrics

import (
	"context"
	"time"
)

// Reasons attached to leadership-lost and renewal-failure metrics.
const (
	ReasonConflict      = "conflict"
	ReasonForeignHolder = "foreign_holder"
	ReasonNotFound      = "not_found"
	ReasonDeadline      = "deadline"
	ReasonUnavailable   = "unavailable"
	ReasonStopped       = "stopped"
)

// Publisher defines the interface for publishing metrics to various backends.
type Publisher interface {
	// Close releases any resources held by the publisher.
	// Implementations that don't need cleanup should return nil.
	Close() error

	// PublishLeadershipAcquired publishes a leadership acquisition event.
	PublishLeadershipAcquired(ctx context.Context) error

	// PublishLeadershipLost publishes a leadership loss event with a reason dimension.
	PublishLeadershipLost(ctx context.Context, reason string) error

	// PublishLeaderStatus publishes 1 while this replica leads and 0 otherwise.
	PublishLeaderStatus(ctx context.Context, leader bool) error

	// PublishRenewalLatency publishes the duration of a successful renewal write.
	PublishRenewalLatency(ctx context.Context, latency time.Duration) error

	// PublishRenewalFailure publishes a failed renewal attempt with a reason dimension.
	PublishRenewalFailure(ctx context.Context, reason string) error

	// PublishStoreError publishes a lease store failure with an operation dimension.
	PublishStoreError(ctx context.Context, operation string) error

	// PublishConflict publishes a lost compare-and-swap race.
	PublishConflict(ctx context.Context) error

	// PublishCallbackPanic publishes a recovered panic from a leadership callback.
	PublishCallbackPanic(ctx context.Context, event string) error

	// PublishEvent publishes a notable event (e.g., leadership change).
	// alertType: "info", "warning", "error", "success"
	PublishEvent(ctx context.Context, title, text, alertType string, tags []string) error
}

// NoopPublisher is a no-op implementation of Publisher for testing or disabled metrics.
// All methods are documented on the Publisher interface.
type NoopPublisher struct{}

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) Close() error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishLeadershipAcquired(context.Context) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishLeadershipLost(context.Context, string) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishLeaderStatus(context.Context, bool) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishRenewalLatency(context.Context, time.Duration) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishRenewalFailure(context.Context, string) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishStoreError(context.Context, string) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishConflict(context.Context) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishCallbackPanic(context.Context, string) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishEvent(context.Context, string, string, string, []string) error {
	return nil
}

// Ensure NoopPublisher implements Publisher.
var _ Publisher = NoopPublisher{}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
