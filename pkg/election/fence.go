package election

import (
	"context"
	"errors"
	"strconv"
)

// ErrStaleToken is returned by a Fence when a token belongs to a superseded tenure.
var ErrStaleToken = errors.New("stale fencing token")

// Token identifies one leadership tenure. Epoch is the lease's transition
// count at acquisition and grows with every change of holder.
type Token struct {
	Holder string
	Epoch  int64
}

// IsZero reports whether the token is unset.
func (t Token) IsZero() bool {
	return t.Holder == "" && t.Epoch == 0
}

func (t Token) String() string {
	return t.Holder + "@" + strconv.FormatInt(t.Epoch, 10)
}

// Fence is implemented by resources that must reject writes from a leader whose
// lease has expired but which has not noticed yet. Admit returns ErrStaleToken
// for any token older than the highest one it has seen.
type Fence interface {
	Admit(ctx context.Context, token Token) error
}
