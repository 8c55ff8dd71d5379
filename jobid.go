package mpigo

import (
	"crypto/rand"
	"encoding/hex"
)

// newAuthNonce returns a fresh random token a job's workers must echo
// back in HELLO before the master accepts their connection, so a
// stray TCP connection to the rendezvous port cannot join a running
// job.
func newAuthNonce() string {
	return randomHex(16)
}

// NewJobID returns a fresh random job identifier suitable for passing
// to Launcher.Launch. Callers may also supply their own scheme (e.g.
// a timestamp-based ID) since job IDs are opaque strings to this
// package.
func NewJobID() string {
	return randomHex(8)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("mpigo: reading random bytes: " + err.Error())
	}
	return hex.EncodeToString(b)
}
