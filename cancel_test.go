package mpigo

import (
	"testing"
	"time"
)

func TestCancelFlagRequestedAndC(t *testing.T) {
	c := newCancelFlag()
	if c.Requested() {
		t.Fatal("fresh flag should not be requested")
	}
	select {
	case <-c.C():
		t.Fatal("fresh flag's channel should not be closed")
	default:
	}

	c.Set()
	if !c.Requested() {
		t.Error("flag should be requested after Set")
	}
	select {
	case <-c.C():
	case <-time.After(time.Second):
		t.Fatal("C() should be closed after Set")
	}
}

func TestCancelFlagSetIsIdempotent(t *testing.T) {
	c := newCancelFlag()
	c.Set()
	c.Set() // must not panic by closing an already-closed channel
	if !c.Requested() {
		t.Error("flag should remain requested")
	}
}

func TestCancelFlagReset(t *testing.T) {
	c := newCancelFlag()
	c.Set()
	fresh := c.reset()
	if fresh.Requested() {
		t.Error("a reset flag should start unrequested")
	}
	if !c.Requested() {
		t.Error("the old flag's state should be untouched by reset")
	}
}
