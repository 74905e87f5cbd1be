package metrics

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// trackingPublisher tracks method calls for testing.
type trackingPublisher struct {
	NoopPublisher
	calls       atomic.Int32
	shouldError bool
}

func (t *trackingPublisher) PublishLeadershipAcquired(_ context.Context) error {
	t.calls.Add(1)
	if t.shouldError {
		return errors.New("tracking error")
	}
	return nil
}

func (t *trackingPublisher) PublishConflict(_ context.Context) error {
	t.calls.Add(1)
	if t.shouldError {
		return errors.New("tracking error")
	}
	return nil
}

func (t *trackingPublisher) PublishStoreError(_ context.Context, _ string) error {
	t.calls.Add(1)
	if t.shouldError {
		return errors.New("tracking error")
	}
	return nil
}

func (t *trackingPublisher) Close() error {
	t.calls.Add(1)
	if t.shouldError {
		return errors.New("close error")
	}
	return nil
}

func TestNewMultiPublisher(t *testing.T) {
	pub1 := &trackingPublisher{}
	pub2 := &trackingPublisher{}

	multi := NewMultiPublisher(pub1, pub2)
	if multi == nil {
		t.Fatal("NewMultiPublisher() returned nil")
	}

	if len(multi.publishers) != 2 {
		t.Errorf("publishers = %d, want 2", len(multi.publishers))
	}
	if multi.timeout != publishTimeout {
		t.Errorf("timeout = %v, want %v", multi.timeout, publishTimeout)
	}
}

func TestMultiPublisher_Close(t *testing.T) {
	pub1 := &trackingPublisher{}
	pub2 := &trackingPublisher{}
	multi := NewMultiPublisher(pub1, pub2)

	err := multi.Close()
	if err != nil {
		t.Errorf("Close() error = %v", err)
	}

	if pub1.calls.Load() != 1 {
		t.Errorf("pub1.Close() calls = %d, want 1", pub1.calls.Load())
	}
	if pub2.calls.Load() != 1 {
		t.Errorf("pub2.Close() calls = %d, want 1", pub2.calls.Load())
	}
}

func TestMultiPublisher_CloseWithErrors(t *testing.T) {
	pub1 := &trackingPublisher{shouldError: true}
	pub2 := &trackingPublisher{shouldError: true}
	multi := NewMultiPublisher(pub1, pub2)

	err := multi.Close()
	if err == nil {
		t.Error("Close() should return error when children fail")
	}
}

//nolint:dupl // Test tables are intentionally similar - testing different publishers
func TestMultiPublisher_PublishMethods(t *testing.T) {
	pub1 := &trackingPublisher{}
	pub2 := &trackingPublisher{}
	multi := NewMultiPublisher(pub1, pub2)
	ctx := context.Background()

	tests := []struct {
		name    string
		publish func() error
	}{
		{"PublishLeadershipAcquired", func() error { return multi.PublishLeadershipAcquired(ctx) }},
		{"PublishLeadershipLost", func() error { return multi.PublishLeadershipLost(ctx, ReasonForeignHolder) }},
		{"PublishLeaderStatus", func() error { return multi.PublishLeaderStatus(ctx, true) }},
		{"PublishRenewalLatency", func() error { return multi.PublishRenewalLatency(ctx, 5*time.Millisecond) }},
		{"PublishRenewalFailure", func() error { return multi.PublishRenewalFailure(ctx, ReasonUnavailable) }},
		{"PublishStoreError", func() error { return multi.PublishStoreError(ctx, "get") }},
		{"PublishConflict", func() error { return multi.PublishConflict(ctx) }},
		{"PublishCallbackPanic", func() error { return multi.PublishCallbackPanic(ctx, "observed_leader") }},
		{"PublishEvent", func() error { return multi.PublishEvent(ctx, "t", "x", "info", nil) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.publish()
			if err != nil {
				t.Errorf("%s() error = %v", tt.name, err)
			}
		})
	}
}

func TestMultiPublisher_PublishWithErrors(t *testing.T) {
	pub1 := &trackingPublisher{shouldError: true}
	pub2 := &trackingPublisher{}
	multi := NewMultiPublisher(pub1, pub2)

	// Should return error when any publisher fails
	err := multi.PublishLeadershipAcquired(context.Background())
	if err == nil {
		t.Error("PublishLeadershipAcquired() should return error when a publisher fails")
	}

	// Fan-out must continue to all publishers even when one fails
	if pub2.calls.Load() != 1 {
		t.Errorf("pub2 should still be called when pub1 fails, got %d calls", pub2.calls.Load())
	}
}

func TestMultiPublisher_FanOutsToAll(t *testing.T) {
	pub1 := &trackingPublisher{}
	pub2 := &trackingPublisher{}
	multi := NewMultiPublisher(pub1, pub2)

	_ = multi.PublishConflict(context.Background())

	if pub1.calls.Load() != 1 {
		t.Errorf("pub1 calls = %d, want 1", pub1.calls.Load())
	}
	if pub2.calls.Load() != 1 {
		t.Errorf("pub2 calls = %d, want 1", pub2.calls.Load())
	}
}

// stallingPublisher never answers a callback-panic metric until released.
type stallingPublisher struct {
	NoopPublisher
	release chan struct{}
}

func (s *stallingPublisher) PublishCallbackPanic(_ context.Context, _ string) error {
	<-s.release
	return nil
}

func TestMultiPublisher_StalledBackendTimesOut(t *testing.T) {
	stalled := &stallingPublisher{release: make(chan struct{})}
	defer close(stalled.release)
	healthy := &panicTracker{}

	multi := NewMultiPublisher(stalled, healthy)
	multi.timeout = 50 * time.Millisecond

	start := time.Now()
	err := multi.PublishCallbackPanic(context.Background(), "became_leader")
	elapsed := time.Since(start)

	if err == nil {
		t.Error("PublishCallbackPanic() should report the stalled backend")
	}
	if elapsed > time.Second {
		t.Errorf("PublishCallbackPanic() took %v, want about %v", elapsed, multi.timeout)
	}
	if healthy.calls.Load() != 1 {
		t.Errorf("healthy backend calls = %d, want 1", healthy.calls.Load())
	}
}

func TestMultiPublisher_StalledBackendHonorsContext(t *testing.T) {
	stalled := &stallingPublisher{release: make(chan struct{})}
	defer close(stalled.release)

	multi := NewMultiPublisher(stalled)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := multi.PublishCallbackPanic(ctx, "lost_leadership")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("PublishCallbackPanic() error = %v, want deadline exceeded", err)
	}
}

type panicTracker struct {
	NoopPublisher
	calls atomic.Int32
}

func (p *panicTracker) PublishCallbackPanic(_ context.Context, _ string) error {
	p.calls.Add(1)
	return nil
}

func TestMultiPublisher_ImplementsInterface(_ *testing.T) {
	var _ Publisher = (*MultiPublisher)(nil)
}
