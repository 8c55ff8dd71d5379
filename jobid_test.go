package mpigo

import "testing"

func TestNewJobIDIsUniqueAndNonEmpty(t *testing.T) {
	a := NewJobID()
	b := NewJobID()
	if a == "" || b == "" {
		t.Fatal("expected non-empty job IDs")
	}
	if a == b {
		t.Error("expected two calls to NewJobID to differ")
	}
}

func TestNewAuthNonceIsUniqueAndNonEmpty(t *testing.T) {
	a := newAuthNonce()
	b := newAuthNonce()
	if a == "" || b == "" {
		t.Fatal("expected non-empty auth nonces")
	}
	if a == b {
		t.Error("expected two calls to newAuthNonce to differ")
	}
}
