// Package coordinator ties an elector, its store and a leadership flag into a
// single start/stop lifecycle for the hosting process.
package coordinator

import (
	"context"
	"errors"
)

// ErrAlreadyStarted is returned by Start on a coordinator that was already started.
var ErrAlreadyStarted = errors.New("coordinator already started")

// Coordinator manages leader election for one instance.
type Coordinator interface {
	// Start begins the leader election process.
	Start(ctx context.Context) error

	// IsLeader returns true if the current instance is the leader.
	IsLeader() bool

	// Stop gracefully shuts down the coordinator.
	Stop(ctx context.Context) error
}
