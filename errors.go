package mpigo

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Kind identifies one of this runtime's error categories. It is used
// the same way github.com/grailbio/base/errors.Kind is used
// elsewhere in this codebase, but names kinds specific to this domain
// (collective_mismatch, cancelled, ...) that grailbio/base/errors
// does not itself define.
type Kind string

const (
	KindInvalidConfig      Kind = "invalid_config"
	KindInvalidShape       Kind = "invalid_shape"
	KindBusy               Kind = "busy"
	KindBootstrapTimeout   Kind = "bootstrap_timeout"
	KindHandshakeFailure   Kind = "handshake_failure"
	KindPeerLost           Kind = "peer_lost"
	KindProtocolViolation  Kind = "protocol_violation"
	KindCollectiveMismatch Kind = "collective_mismatch"
	KindCancelled          Kind = "cancelled"
	KindKernelError        Kind = "kernel_error"
	KindInternal           Kind = "internal"
)

// Error is a typed mpigo error, following the same E(kind, args...)
// construction idiom as github.com/grailbio/base/errors.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Msg != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// E constructs an *Error from a Kind plus a message and/or a wrapped
// cause, mirroring grailbio/base/errors.E's calling convention.
func E(kind Kind, args ...interface{}) *Error {
	e := &Error{Kind: kind}
	for _, arg := range args {
		switch v := arg.(type) {
		case string:
			if e.Msg == "" {
				e.Msg = v
			} else {
				e.Msg += ": " + v
			}
		case error:
			e.Cause = v
		default:
			e.Msg += fmt.Sprint(v)
		}
	}
	return e
}

// Is reports whether err (or a cause in its chain) is an *Error of
// the given kind.
func Is(kind Kind, err error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Cause
			continue
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ErrCancelled is the sentinel error returned by blocking
// communicator operations once cancellation fires. A user-initiated
// cancellation collapses to a clean result at the kernel entry point
// boundary; ErrCancelled remains the internal signal kernels and the
// communicator use to unwind.
var ErrCancelled = E(KindCancelled, "operation cancelled")

// asGrailKind maps a Kind onto the closest github.com/grailbio/base/errors.Kind,
// used by IsTemporary, which treats the Net and Timeout kinds as
// transient.
func asGrailKind(k Kind) errors.Kind {
	switch k {
	case KindPeerLost:
		return errors.Net
	case KindBootstrapTimeout, KindHandshakeFailure:
		return errors.Timeout
	case KindInvalidConfig, KindInvalidShape, KindProtocolViolation:
		return errors.Invalid
	case KindBusy:
		return errors.Precondition
	default:
		return errors.Other
	}
}

// IsTemporary reports whether err is worth retrying: a peer_lost,
// bootstrap_timeout, or handshake_failure *Error maps onto
// grailbio/base/errors's Net or Timeout kinds, and both of those are
// treated as transient. Any other error, including a non-*Error, is
// not temporary.
func IsTemporary(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	switch asGrailKind(e.Kind) {
	case errors.Net, errors.Timeout:
		return true
	}
	return false
}
