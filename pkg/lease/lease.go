// Package lease defines the durable lease record and the optimistic-concurrency
// store contract used by the leader elector, plus the backends that implement it.
package lease

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when no lease exists yet, and by
	// CreateOrUpdate when the observed record was deleted externally.
	ErrNotFound = errors.New("lease not found")

	// ErrConflict is returned by CreateOrUpdate when another writer changed the
	// record after it was observed, or created it first.
	ErrConflict = errors.New("lease version conflict")

	// ErrUnavailable wraps transient backend failures (network, throttling, timeouts).
	ErrUnavailable = errors.New("lease store unavailable")
)

// Key identifies a lease record within a store.
type Key struct {
	Namespace string
	Name      string
}

func (k Key) String() string {
	return k.Namespace + "/" + k.Name
}

// Lease is the durable leadership record.
type Lease struct {
	// HolderIdentity is empty when the lease is unheld.
	HolderIdentity string

	// LeaseDuration is the validity window measured from RenewTime.
	LeaseDuration time.Duration

	// AcquireTime is set when the holder changes.
	AcquireTime time.Time

	// RenewTime is updated by the holder on every successful renewal.
	RenewTime time.Time

	// LeaderTransitions counts holder changes and serves as a fencing epoch.
	LeaderTransitions int64

	// Version is the store's opaque concurrency token. It changes on every write.
	Version string
}

// HasHolder reports whether the lease names a holder.
func (l *Lease) HasHolder() bool {
	return l != nil && l.HolderIdentity != ""
}

// Expired reports whether now is past RenewTime plus the lease duration.
// fallback is used when the record carries no duration.
func (l *Lease) Expired(now time.Time, fallback time.Duration) bool {
	d := l.LeaseDuration
	if d <= 0 {
		d = fallback
	}
	return now.Sub(l.RenewTime) > d
}

// Store reads and conditionally writes lease records. Implementations never retry.
type Store interface {
	// Get returns the current record or ErrNotFound.
	Get(ctx context.Context, key Key) (*Lease, error)

	// CreateOrUpdate writes next. A nil observed creates the record and fails with
	// ErrConflict if one exists. Otherwise the write succeeds only while the store
	// still holds observed.Version; a newer version yields ErrConflict and a
	// deleted record yields ErrNotFound. The stored record, with its new Version,
	// is returned.
	CreateOrUpdate(ctx context.Context, key Key, observed *Lease, next Lease) (*Lease, error)

	// Close releases the backend connection.
	Close() error
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is or wraps ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrUnavailable, err)
	}
	return &storeError{op: op, err: err}
}

// storeError wraps a backend failure so callers can match ErrUnavailable while
// still unwrapping the backend's own error.
type storeError struct {
	op  string
	err error
}

func (e *storeError) Error() string {
	return "lease store " + e.op + ": " + e.err.Error()
}

func (e *storeError) Unwrap() []error {
	return []error{ErrUnavailable, e.err}
}
