package election

import (
	"errors"
	"fmt"
	"time"

	"github.com/Shavakan/lease-leader/pkg/lease"
)

// Default timing, matching the usual coordination.k8s.io client defaults.
const (
	DefaultLeaseDuration  = 30 * time.Second
	DefaultRenewDeadline  = 20 * time.Second
	DefaultRetryPeriod    = 5 * time.Second
	DefaultReleaseTimeout = 5 * time.Second
)

var (
	// ErrInvalidConfig is returned when election timing or identity is unusable.
	ErrInvalidConfig = errors.New("invalid election config")

	// ErrAlreadyRunning is returned by Run when the elector loop is already active.
	ErrAlreadyRunning = errors.New("elector already running")
)

// Config holds the parameters of a single election.
type Config struct {
	// Key identifies the lease record contended for.
	Key lease.Key

	// Identity is written as the holder when this replica leads.
	Identity string

	// LeaseDuration is how long observers wait past the last renewal before
	// treating the lease as expired.
	LeaseDuration time.Duration

	// RenewDeadline is how long the leader keeps retrying renewal before it
	// demotes itself. Must be shorter than LeaseDuration.
	RenewDeadline time.Duration

	// RetryPeriod is the interval between acquisition and renewal attempts.
	RetryPeriod time.Duration

	// CallTimeout bounds each store call.
	CallTimeout time.Duration

	// ReleaseTimeout bounds the voluntary release write on stop.
	ReleaseTimeout time.Duration
}

// DefaultConfig returns a Config with default timing.
func DefaultConfig(key lease.Key, identity string) Config {
	return Config{
		Key:            key,
		Identity:       identity,
		LeaseDuration:  DefaultLeaseDuration,
		RenewDeadline:  DefaultRenewDeadline,
		RetryPeriod:    DefaultRetryPeriod,
		CallTimeout:    DefaultRetryPeriod,
		ReleaseTimeout: DefaultReleaseTimeout,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Key.Name == "" {
		return fmt.Errorf("%w: lease name is required", ErrInvalidConfig)
	}
	if c.Identity == "" {
		return fmt.Errorf("%w: identity is required", ErrInvalidConfig)
	}
	if c.LeaseDuration <= 0 || c.RenewDeadline <= 0 || c.RetryPeriod <= 0 {
		return fmt.Errorf("%w: lease duration, renew deadline and retry period must be positive", ErrInvalidConfig)
	}
	if c.RenewDeadline >= c.LeaseDuration {
		return fmt.Errorf("%w: renew deadline (%v) must be less than lease duration (%v)",
			ErrInvalidConfig, c.RenewDeadline, c.LeaseDuration)
	}
	if c.RetryPeriod >= c.RenewDeadline {
		return fmt.Errorf("%w: retry period (%v) must be less than renew deadline (%v)",
			ErrInvalidConfig, c.RetryPeriod, c.RenewDeadline)
	}
	if c.CallTimeout < 0 || c.ReleaseTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	if c.CallTimeout > c.RenewDeadline {
		return fmt.Errorf("%w: call timeout (%v) must not exceed renew deadline (%v)",
			ErrInvalidConfig, c.CallTimeout, c.RenewDeadline)
	}
	return nil
}

// withDefaults fills zero timeouts.
func (c Config) withDefaults() Config {
	if c.CallTimeout == 0 {
		c.CallTimeout = c.RetryPeriod
	}
	if c.ReleaseTimeout == 0 {
		c.ReleaseTimeout = DefaultReleaseTimeout
	}
	return c
}
