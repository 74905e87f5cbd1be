package coordinator

import (
	"context"
	"sync"

	"github.com/Shavakan/lease-leader/pkg/election"
	"github.com/Shavakan/lease-leader/pkg/logging"
)

// NoOpCoordinator is a coordinator that always returns true for IsLeader().
// Used for local development where distributed locking is not needed.
type NoOpCoordinator struct {
	identity   string
	dispatcher *election.Dispatcher
	once       sync.Once
}

// Ensure NoOpCoordinator implements Coordinator.
var _ Coordinator = (*NoOpCoordinator)(nil)

// NewNoOpCoordinator creates a new no-op coordinator. The callbacks see one
// tenure spanning Start to Stop.
func NewNoOpCoordinator(identity string, callbacks ...election.Callbacks) *NoOpCoordinator {
	d := election.NewDispatcher(nil)
	for _, cb := range callbacks {
		d.Subscribe(cb)
	}
	return &NoOpCoordinator{identity: identity, dispatcher: d}
}

// Start delivers became-leader once.
func (c *NoOpCoordinator) Start(_ context.Context) error {
	c.once.Do(func() {
		coordLog.Info("using no-op coordinator (always leader)", logging.KeyIdentity, c.identity)
		c.dispatcher.ObservedLeader(c.identity)
		c.dispatcher.BecameLeader()
	})
	return nil
}

// IsLeader always returns true.
func (c *NoOpCoordinator) IsLeader() bool {
	return true
}

// Leader returns this instance's identity.
func (c *NoOpCoordinator) Leader() string {
	return c.identity
}

// Stop delivers lost-leadership if Start ran.
func (c *NoOpCoordinator) Stop(_ context.Context) error {
	c.dispatcher.LostLeadership()
	return nil
}
