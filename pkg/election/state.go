package election

// State is the elector's position in the election state machine.
type State int

const (
	// StateIdle means another replica holds a valid lease and this one is polling.
	StateIdle State = iota
	// StateAcquiring means an acquisition attempt is in progress or about to be.
	StateAcquiring
	// StateLeading means this replica holds the lease.
	StateLeading
	// StateRenewing means a renewal write is in flight while leading.
	StateRenewing
	// StateLost means leadership was just given up or taken away.
	StateLost
	// StateStopped is terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateLeading:
		return "leading"
	case StateRenewing:
		return "renewing"
	case StateLost:
		return "lost"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// holdsLease reports whether the state implies a current tenure.
func (s State) holdsLease() bool {
	return s == StateLeading || s == StateRenewing
}
