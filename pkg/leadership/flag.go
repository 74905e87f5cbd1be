// Package leadership exposes a lock-free view of whether this replica leads.
package leadership

import (
	"sync/atomic"

	"github.com/Shavakan/lease-leader/pkg/election"
)

// Flag is a leadership bit written only by its election callbacks. It must be
// subscribed after every application callback so that it turns true once they
// have run and false before any of them learns of the loss.
type Flag struct {
	leader atomic.Bool
}

// Ensure Flag implements election.Callbacks.
var _ election.Callbacks = (*Flag)(nil)

// NewFlag returns a flag reporting false.
func NewFlag() *Flag {
	return &Flag{}
}

// IsLeader reports the last delivered leadership state.
func (f *Flag) IsLeader() bool {
	return f.leader.Load()
}

// OnBecameLeader implements election.Callbacks.
func (f *Flag) OnBecameLeader() {
	f.leader.Store(true)
}

// OnLostLeadership implements election.Callbacks.
func (f *Flag) OnLostLeadership() {
	f.leader.Store(false)
}

// OnObservedLeader implements election.Callbacks. The flag tracks only its own tenure.
func (f *Flag) OnObservedLeader(string) {}
