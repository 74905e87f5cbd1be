// Package election implements lease-based leader election over a lease.Store.
//
// An Elector runs a single loop that polls the lease every RetryPeriod,
// claims it when it is absent, released or expired, and renews it while
// leading. Only the store's compare-and-swap decides between concurrent
// candidates. A leader that cannot renew within RenewDeadline of its last
// successful renewal demotes itself without waiting to be told.
package election

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"k8s.io/utils/clock"

	"github.com/Shavakan/lease-leader/pkg/lease"
	"github.com/Shavakan/lease-leader/pkg/logging"
	"github.com/Shavakan/lease-leader/pkg/metrics"
	"github.com/Shavakan/lease-leader/pkg/tracing"
)

var electionLog = logging.WithComponent(logging.LogTypeElection, "elector")

// Option configures an Elector.
type Option func(*Elector)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(e *Elector) {
		e.clock = c
	}
}

// WithCallbacks subscribes callbacks in the given order.
func WithCallbacks(cbs ...Callbacks) Option {
	return func(e *Elector) {
		e.callbacks = append(e.callbacks, cbs...)
	}
}

// WithMetrics sets the metrics publisher.
func WithMetrics(p metrics.Publisher) Option {
	return func(e *Elector) {
		if p != nil {
			e.metrics = p
		}
	}
}

// WithDispatcher uses an existing dispatcher instead of creating one.
func WithDispatcher(d *Dispatcher) Option {
	return func(e *Elector) {
		e.dispatcher = d
	}
}

type result int

const (
	resultLeading result = iota
	resultNotEligible
	resultConflict
	resultNotFound
	resultUnavailable
)

// Elector contends for a single lease on behalf of one identity.
type Elector struct {
	cfg        Config
	store      lease.Store
	clock      clock.Clock
	dispatcher *Dispatcher
	callbacks  []Callbacks
	metrics    metrics.Publisher
	tracer     *tracing.LeaseTracer
	log        *logging.Logger

	mu     sync.RWMutex
	state  State
	leader string
	token  Token

	// Owned by the Run goroutine.
	observed  *lease.Lease
	lastRenew time.Time

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates an elector. It fails with ErrInvalidConfig if cfg does not validate.
func New(cfg Config, store lease.Store, opts ...Option) (*Elector, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}

	e := &Elector{
		cfg:     cfg,
		store:   store,
		clock:   clock.RealClock{},
		metrics: metrics.NoopPublisher{},
		tracer:  tracing.NewLeaseTracer(),
		state:   StateIdle,
		stopCh:  make(chan struct{}),
		log: electionLog.With(
			logging.KeyLease, cfg.Key.String(),
			logging.KeyIdentity, cfg.Identity,
		),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.dispatcher == nil {
		e.dispatcher = NewDispatcher(e.metrics)
	}
	for _, cb := range e.callbacks {
		e.dispatcher.Subscribe(cb)
	}
	return e, nil
}

// Run contends for the lease until ctx is cancelled or Stop is called. If
// leading at that point it delivers lost-leadership and makes one bounded
// attempt to release the lease. Run returns nil once stopped.
func (e *Elector) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	select {
	case <-e.stopCh:
		e.setState(StateStopped)
		return nil
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	e.log.Info("starting leader election",
		logging.KeyNamespace, e.cfg.Key.Namespace,
		"lease_duration", e.cfg.LeaseDuration.String(),
		"renew_deadline", e.cfg.RenewDeadline.String(),
		"retry_period", e.cfg.RetryPeriod.String(),
	)

	for {
		if e.acquire(ctx) {
			e.renew(ctx)
		}
		// A lost tenure waits one retry period before contending again.
		if !e.sleep(ctx, e.cfg.RetryPeriod) {
			break
		}
	}

	e.shutdown()
	return nil
}

// Stop requests the loop to end. It does not wait; safe to call more than
// once and before Run.
func (e *Elector) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
}

// State returns the current election state.
func (e *Elector) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// IsLeader reports whether this elector currently holds the lease.
func (e *Elector) IsLeader() bool {
	return e.State().holdsLease()
}

// Leader returns the last observed holder identity, empty if none.
func (e *Elector) Leader() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.leader
}

// Token returns the fencing token of the current tenure, or the zero Token
// when not leading.
func (e *Elector) Token() Token {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.token
}

// Identity returns the identity this elector writes as holder.
func (e *Elector) Identity() string {
	return e.cfg.Identity
}

// acquire polls until this elector holds the lease. It returns false when ctx ends first.
func (e *Elector) acquire(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		e.setState(StateAcquiring)
		if e.attempt(ctx, e.cfg.CallTimeout) == resultLeading {
			return true
		}
		if !e.sleep(ctx, e.cfg.RetryPeriod) {
			return false
		}
	}
}

// renew keeps the lease until it is lost or ctx ends. Each attempt is bounded
// by the renew deadline, measured from the start of the last successful renewal.
func (e *Elector) renew(ctx context.Context) {
	for {
		deadline := e.lastRenew.Add(e.cfg.RenewDeadline)
		wait := e.cfg.RetryPeriod
		if remaining := deadline.Sub(e.clock.Now()); remaining < wait {
			wait = remaining
		}
		if !e.sleep(ctx, wait) {
			return
		}

		remaining := deadline.Sub(e.clock.Now())
		if remaining <= 0 {
			e.log.Warn("renew deadline passed without a successful renewal",
				logging.KeyDeadline, e.cfg.RenewDeadline.Milliseconds(),
			)
			e.publish(func(ctx context.Context) error {
				return e.metrics.PublishRenewalFailure(ctx, metrics.ReasonDeadline)
			})
			e.lose(metrics.ReasonDeadline)
			return
		}

		timeout := e.cfg.CallTimeout
		if remaining < timeout {
			timeout = remaining
		}

		e.setState(StateRenewing)
		switch e.attempt(ctx, timeout) {
		case resultLeading:
			e.setState(StateLeading)
		case resultUnavailable:
			e.setState(StateLeading)
			e.publish(func(ctx context.Context) error {
				return e.metrics.PublishRenewalFailure(ctx, metrics.ReasonUnavailable)
			})
		default:
			// Conflict, foreign holder and deletion end the tenure inside attempt.
			return
		}
	}
}

// attempt runs one observe/evaluate/write cycle bounded by timeout.
func (e *Elector) attempt(ctx context.Context, timeout time.Duration) result {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	leading := e.IsLeader()
	now := e.clock.Now()

	current, err := e.get(callCtx)
	switch {
	case lease.IsNotFound(err) && leading:
		return e.reset()
	case lease.IsNotFound(err):
		current = nil
	case err != nil:
		if ctx.Err() == nil {
			e.log.Warn("failed to read lease", logging.KeyError, err)
		}
		return resultUnavailable
	}
	e.observe(holderOf(current))

	if !e.eligible(current, now) {
		if leading {
			e.log.Warn("lease taken over by another replica", logging.KeyHolder, current.HolderIdentity)
			e.lose(metrics.ReasonForeignHolder)
			return resultNotEligible
		}
		e.setState(StateIdle)
		return resultNotEligible
	}

	next := e.nextLease(current, now, leading)
	start := e.clock.Now()
	stored, err := e.write(callCtx, current, next)
	switch {
	case err == nil:
		e.observed = stored
		e.lastRenew = now
		if leading {
			e.advanceEpoch(stored.LeaderTransitions)
			latency := e.clock.Since(start)
			e.publish(func(ctx context.Context) error {
				return e.metrics.PublishRenewalLatency(ctx, latency)
			})
		} else {
			e.becomeLeader(stored)
		}
		e.observe(stored.HolderIdentity)
		return resultLeading

	case lease.IsConflict(err):
		e.publish(e.metrics.PublishConflict)
		e.refresh(ctx)
		if leading {
			e.lose(metrics.ReasonConflict)
		}
		return resultConflict

	case lease.IsNotFound(err):
		return e.reset()

	default:
		if ctx.Err() == nil {
			e.log.Warn("failed to write lease", logging.KeyError, err)
		}
		return resultUnavailable
	}
}

// reset handles a lease deleted out from under us: any tenure ends and
// acquisition starts over from an absent record.
func (e *Elector) reset() result {
	e.log.Warn("lease deleted externally, restarting acquisition")
	e.observed = nil
	if e.IsLeader() {
		e.lose(metrics.ReasonNotFound)
	}
	e.setState(StateAcquiring)
	return resultNotFound
}

// eligible reports whether this identity may write the lease.
func (e *Elector) eligible(current *lease.Lease, now time.Time) bool {
	if !current.HasHolder() {
		return true
	}
	if current.HolderIdentity == e.cfg.Identity {
		return true
	}
	return current.Expired(now, e.cfg.LeaseDuration)
}

func (e *Elector) nextLease(current *lease.Lease, now time.Time, leading bool) lease.Lease {
	next := lease.Lease{
		HolderIdentity:    e.cfg.Identity,
		LeaseDuration:     e.cfg.LeaseDuration,
		AcquireTime:       now,
		RenewTime:         now,
		LeaderTransitions: 1,
	}
	if current == nil {
		return next
	}

	next.LeaderTransitions = current.LeaderTransitions
	sameHolder := current.HolderIdentity == e.cfg.Identity
	if sameHolder && !current.AcquireTime.IsZero() {
		next.AcquireTime = current.AcquireTime
	}
	if !sameHolder || !leading {
		next.LeaderTransitions++
	}
	return next
}

// refresh re-reads the lease after a lost race so the visible holder is reported.
func (e *Elector) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	current, err := e.get(ctx)
	switch {
	case err == nil:
		e.observe(current.HolderIdentity)
	case lease.IsNotFound(err):
		e.observe("")
	default:
		e.log.Debug("failed to re-read lease after conflict", logging.KeyError, err)
	}
}

func (e *Elector) becomeLeader(stored *lease.Lease) {
	token := Token{Holder: e.cfg.Identity, Epoch: stored.LeaderTransitions}

	e.mu.Lock()
	e.state = StateLeading
	e.token = token
	e.mu.Unlock()

	e.log.Info("became leader", "epoch", token.Epoch)
	e.dispatcher.BecameLeader()
	e.publish(e.metrics.PublishLeadershipAcquired)
	e.publish(func(ctx context.Context) error {
		return e.metrics.PublishLeaderStatus(ctx, true)
	})
	e.publish(func(ctx context.Context) error {
		return e.metrics.PublishEvent(ctx, "Leadership acquired",
			fmt.Sprintf("%s acquired lease %s at epoch %d", e.cfg.Identity, e.cfg.Key, token.Epoch),
			"success", e.eventTags())
	})
}

// advanceEpoch keeps the tenure's token in step with the stored transition
// count when a renewal reclaimed a lease that was cleared or taken over.
func (e *Elector) advanceEpoch(epoch int64) {
	e.mu.Lock()
	prev := e.token.Epoch
	if epoch != prev {
		e.token.Epoch = epoch
	}
	e.mu.Unlock()

	if epoch != prev {
		e.log.Info("lease epoch advanced during tenure", "epoch", epoch, "previous", prev)
	}
}

// lose ends the current tenure. The flag and callbacks learn of it before
// any further store call.
func (e *Elector) lose(reason string) {
	e.mu.Lock()
	e.state = StateLost
	e.token = Token{}
	e.mu.Unlock()

	e.log.Info("lost leadership", logging.KeyReason, reason)
	e.dispatcher.LostLeadership()
	e.publish(func(ctx context.Context) error {
		return e.metrics.PublishLeadershipLost(ctx, reason)
	})
	e.publish(func(ctx context.Context) error {
		return e.metrics.PublishLeaderStatus(ctx, false)
	})
	alertType := "warning"
	if reason == metrics.ReasonStopped {
		alertType = "info"
	}
	e.publish(func(ctx context.Context) error {
		return e.metrics.PublishEvent(ctx, "Leadership lost",
			fmt.Sprintf("%s lost lease %s: %s", e.cfg.Identity, e.cfg.Key, reason),
			alertType, append(e.eventTags(), "reason:"+reason))
	})
}

func (e *Elector) eventTags() []string {
	return []string{"lease:" + e.cfg.Key.String(), "identity:" + e.cfg.Identity}
}

func (e *Elector) shutdown() {
	if e.IsLeader() {
		e.lose(metrics.ReasonStopped)
		e.release()
	}
	e.setState(StateStopped)
	e.log.Info("leader election stopped")
}

// release makes one attempt to clear the holder so another replica can take
// over without waiting for expiry. Failure is logged only.
func (e *Elector) release() {
	if e.observed == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ReleaseTimeout)
	defer cancel()

	next := *e.observed
	next.HolderIdentity = ""
	next.RenewTime = e.clock.Now()

	ctx, span := e.tracer.StartLeaseSpan(ctx, tracing.SpanLeaseRelease, e.cfg.Key.String(), e.cfg.Identity)
	_, err := e.store.CreateOrUpdate(ctx, e.cfg.Key, e.observed, next)
	tracing.EndSpan(span, err)
	if err != nil {
		e.log.Warn("failed to release lease", logging.KeyError, err)
		e.publish(func(ctx context.Context) error {
			return e.metrics.PublishStoreError(ctx, "release")
		})
		return
	}
	e.observed = nil
	e.log.Info("released lease")
}

func (e *Elector) get(ctx context.Context) (*lease.Lease, error) {
	ctx, span := e.tracer.StartLeaseSpan(ctx, tracing.SpanLeaseGet, e.cfg.Key.String(), e.cfg.Identity)
	current, err := e.store.Get(ctx, e.cfg.Key)
	if err != nil && !lease.IsNotFound(err) {
		tracing.EndSpan(span, err)
		e.publish(func(ctx context.Context) error {
			return e.metrics.PublishStoreError(ctx, "get")
		})
		return nil, err
	}
	tracing.EndSpan(span, nil)
	return current, err
}

func (e *Elector) write(ctx context.Context, observed *lease.Lease, next lease.Lease) (*lease.Lease, error) {
	ctx, span := e.tracer.StartLeaseSpan(ctx, tracing.SpanLeaseWrite, e.cfg.Key.String(), e.cfg.Identity)
	stored, err := e.store.CreateOrUpdate(ctx, e.cfg.Key, observed, next)
	switch {
	case err == nil:
		tracing.SetAttributes(ctx,
			attribute.Int64("lease.epoch", stored.LeaderTransitions),
			attribute.String("lease.version", stored.Version),
		)
	case lease.IsConflict(err):
		tracing.AddEvent(ctx, "conflict")
	case lease.IsNotFound(err):
		tracing.AddEvent(ctx, "not_found")
	default:
		tracing.EndSpan(span, err)
		e.publish(func(ctx context.Context) error {
			return e.metrics.PublishStoreError(ctx, "write")
		})
		return nil, err
	}
	tracing.EndSpan(span, nil)
	return stored, err
}

// observe records the visible holder and forwards it to subscribers.
func (e *Elector) observe(holder string) {
	e.mu.Lock()
	changed := e.leader != holder
	e.leader = holder
	e.mu.Unlock()

	if changed {
		e.log.Debug("observed leader", logging.KeyHolder, holder)
	}
	e.dispatcher.ObservedLeader(holder)
}

func (e *Elector) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()

	if prev != s {
		e.log.Debug("election state changed", logging.KeyState, s.String(), "previous", prev.String())
	}
}

// sleep waits d on the elector's clock. It returns false if ctx ended first.
func (e *Elector) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := e.clock.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C():
		return true
	}
}

func (e *Elector) publish(fn func(ctx context.Context) error) {
	publishAsync(e.log, fn)
}

func holderOf(l *lease.Lease) string {
	if l == nil {
		return ""
	}
	return l.HolderIdentity
}
