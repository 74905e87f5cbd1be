package leadership

import (
	"reflect"
	"testing"

	"github.com/Shavakan/lease-leader/pkg/election"
)

func TestFlag_Transitions(t *testing.T) {
	f := NewFlag()
	if f.IsLeader() {
		t.Fatal("new flag should report false")
	}

	f.OnBecameLeader()
	if !f.IsLeader() {
		t.Error("IsLeader() should be true after became-leader")
	}

	f.OnObservedLeader("pod-b")
	if !f.IsLeader() {
		t.Error("observed-leader must not change the flag")
	}

	f.OnLostLeadership()
	if f.IsLeader() {
		t.Error("IsLeader() should be false after lost-leadership")
	}
}

func TestFlag_SubscribedLast(t *testing.T) {
	f := NewFlag()
	var seen []bool

	d := election.NewDispatcher(nil)
	d.Subscribe(election.CallbackFuncs{
		BecameLeader:   func() { seen = append(seen, f.IsLeader()) },
		LostLeadership: func() { seen = append(seen, f.IsLeader()) },
	})
	d.Subscribe(f)

	d.BecameLeader()
	if !f.IsLeader() {
		t.Fatal("flag should be true once became-leader is delivered")
	}
	d.LostLeadership()

	// The application's callbacks see the flag false on became and already false on lost.
	want := []bool{false, false}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("flag seen by application callbacks = %v, want %v", seen, want)
	}
}
