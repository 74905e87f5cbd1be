package election

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Shavakan/lease-leader/pkg/logging"
	"github.com/Shavakan/lease-leader/pkg/metrics"
)

// Event names used in logs and callback-panic metrics.
const (
	EventBecameLeader   = "became_leader"
	EventLostLeadership = "lost_leadership"
	EventObservedLeader = "observed_leader"
)

// Callbacks receives leadership notifications. Methods run synchronously on
// the elector goroutine and must return promptly; a slow callback delays
// renewal and can cause the leader to miss its deadline.
type Callbacks interface {
	// OnBecameLeader is called once at the start of each tenure.
	OnBecameLeader()
	// OnLostLeadership is called once at the end of each tenure.
	OnLostLeadership()
	// OnObservedLeader is called when the visible lease holder changes.
	// identity is empty when the lease is unheld.
	OnObservedLeader(identity string)
}

// CallbackFuncs adapts plain functions to Callbacks. Nil fields are skipped.
type CallbackFuncs struct {
	BecameLeader   func()
	LostLeadership func()
	ObservedLeader func(identity string)
}

// OnBecameLeader implements Callbacks.
func (f CallbackFuncs) OnBecameLeader() {
	if f.BecameLeader != nil {
		f.BecameLeader()
	}
}

// OnLostLeadership implements Callbacks.
func (f CallbackFuncs) OnLostLeadership() {
	if f.LostLeadership != nil {
		f.LostLeadership()
	}
}

// OnObservedLeader implements Callbacks.
func (f CallbackFuncs) OnObservedLeader(identity string) {
	if f.ObservedLeader != nil {
		f.ObservedLeader(identity)
	}
}

const metricsTimeout = 5 * time.Second

var dispatchLog = logging.WithComponent(logging.LogTypeElection, "dispatcher")

// publishAsync sends a metric off the calling goroutine, bounded by
// metricsTimeout. Leadership events are delivered on the election loop and
// must never wait on a metrics backend.
func publishAsync(log *logging.Logger, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Debug("failed to publish metric", logging.KeyError, err)
		}
	}()
}

// Dispatcher fans leadership events out to subscribers in a fixed order.
//
// Became-leader is delivered in subscription order and lost-leadership in
// reverse order, so a subscriber registered last sees leadership last and
// gives it up first. A tenure guard drops a became-leader while a tenure is
// open and a lost-leadership when none is. Observed-leader is delivered only
// when the identity differs from the last one delivered.
type Dispatcher struct {
	mu           sync.Mutex
	subscribers  []Callbacks
	inTenure     bool
	observed     string
	haveObserved bool
	metrics      metrics.Publisher
}

// NewDispatcher creates a dispatcher. A nil publisher disables metrics.
func NewDispatcher(publisher metrics.Publisher) *Dispatcher {
	if publisher == nil {
		publisher = metrics.NoopPublisher{}
	}
	return &Dispatcher{metrics: publisher}
}

// Subscribe appends cb to the subscriber list.
func (d *Dispatcher) Subscribe(cb Callbacks) {
	if cb == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, cb)
}

// BecameLeader opens a tenure and notifies subscribers. It returns false,
// without delivering, if a tenure is already open.
func (d *Dispatcher) BecameLeader() bool {
	d.mu.Lock()
	if d.inTenure {
		d.mu.Unlock()
		return false
	}
	d.inTenure = true
	subs := d.snapshot()
	d.mu.Unlock()

	for i, cb := range subs {
		d.deliver(EventBecameLeader, i, cb.OnBecameLeader)
	}
	return true
}

// LostLeadership closes the open tenure and notifies subscribers in reverse
// order. It returns false, without delivering, if no tenure is open.
func (d *Dispatcher) LostLeadership() bool {
	d.mu.Lock()
	if !d.inTenure {
		d.mu.Unlock()
		return false
	}
	d.inTenure = false
	subs := d.snapshot()
	d.mu.Unlock()

	for i := len(subs) - 1; i >= 0; i-- {
		d.deliver(EventLostLeadership, i, subs[i].OnLostLeadership)
	}
	return true
}

// ObservedLeader notifies subscribers if identity differs from the last
// delivered identity. It reports whether a delivery happened.
func (d *Dispatcher) ObservedLeader(identity string) bool {
	d.mu.Lock()
	if d.haveObserved && d.observed == identity {
		d.mu.Unlock()
		return false
	}
	d.observed = identity
	d.haveObserved = true
	subs := d.snapshot()
	d.mu.Unlock()

	for i, cb := range subs {
		d.deliver(EventObservedLeader, i, func() { cb.OnObservedLeader(identity) })
	}
	return true
}

// snapshot must be called with d.mu held.
func (d *Dispatcher) snapshot() []Callbacks {
	subs := make([]Callbacks, len(d.subscribers))
	copy(subs, d.subscribers)
	return subs
}

func (d *Dispatcher) deliver(event string, index int, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			dispatchLog.Warn("leadership callback panicked",
				logging.KeyEvent, event,
				"subscriber", index,
				logging.KeyError, fmt.Sprint(r),
			)
			publishAsync(dispatchLog, func(ctx context.Context) error {
				return d.metrics.PublishCallbackPanic(ctx, event)
			})
		}
	}()
	fn()
}
