package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/Shavakan/lease-leader/pkg/election"
	"github.com/Shavakan/lease-leader/pkg/lease"
	"github.com/Shavakan/lease-leader/pkg/leadership"
	"github.com/Shavakan/lease-leader/pkg/logging"
)

var coordLog = logging.WithComponent(logging.LogTypeCoordinator, "lease")

// LeaseCoordinator runs an elector against a lease store and exposes its
// result through a leadership flag.
type LeaseCoordinator struct {
	elector *election.Elector
	flag    *leadership.Flag
	store   lease.Store

	mu        sync.Mutex
	started   bool
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Ensure LeaseCoordinator implements Coordinator.
var _ Coordinator = (*LeaseCoordinator)(nil)

// NewLeaseCoordinator creates a coordinator. Callbacks passed through opts are
// subscribed before the coordinator's own flag.
func NewLeaseCoordinator(cfg election.Config, store lease.Store, opts ...election.Option) (*LeaseCoordinator, error) {
	flag := leadership.NewFlag()
	opts = append(opts, election.WithCallbacks(flag))

	el, err := election.New(cfg, store, opts...)
	if err != nil {
		return nil, err
	}
	return &LeaseCoordinator{
		elector: el,
		flag:    flag,
		store:   store,
		done:    make(chan struct{}),
	}, nil
}

// Start launches the election loop on its own goroutine.
func (c *LeaseCoordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	coordLog.Info("starting coordinator", logging.KeyIdentity, c.elector.Identity())

	go func() {
		defer close(c.done)
		if err := c.elector.Run(ctx); err != nil {
			coordLog.Error("election loop exited", logging.KeyError, err)
		}
	}()
	return nil
}

// IsLeader reads the leadership flag.
func (c *LeaseCoordinator) IsLeader() bool {
	return c.flag.IsLeader()
}

// State returns the elector's current state.
func (c *LeaseCoordinator) State() election.State {
	return c.elector.State()
}

// Leader returns the last observed lease holder.
func (c *LeaseCoordinator) Leader() string {
	return c.elector.Leader()
}

// Identity returns this instance's holder identity.
func (c *LeaseCoordinator) Identity() string {
	return c.elector.Identity()
}

// Token returns the fencing token of the current tenure.
func (c *LeaseCoordinator) Token() election.Token {
	return c.elector.Token()
}

// Stop ends the election, waits for the loop to release the lease, and closes
// the store. The wait is bounded by ctx. Calling Stop more than once, or
// before Start, returns nil.
func (c *LeaseCoordinator) Stop(ctx context.Context) error {
	c.elector.Stop()

	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	if started {
		select {
		case <-c.done:
		case <-ctx.Done():
			_ = c.closeStore()
			return fmt.Errorf("waiting for election loop: %w", ctx.Err())
		}
	}

	if err := c.closeStore(); err != nil {
		return fmt.Errorf("failed to close lease store: %w", err)
	}
	return nil
}

func (c *LeaseCoordinator) closeStore() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.store.Close()
		coordLog.Info("coordinator stopped")
	})
	return c.closeErr
}
