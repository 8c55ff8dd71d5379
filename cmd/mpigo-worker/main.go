// Command mpigo-worker is the worker-side binary launched by a
// Launcher on every host in a job's group. It never makes launch
// decisions of its own: every parameter it needs arrives via the
// environment variables a RemoteShell sets (MPIGO_MODE,
// MPIGO_MASTER_ADDR, MPIGO_JOB_ID, MPIGO_AUTH_NONCE,
// MPIGO_CLAIMED_RANK), matching bigmachine's own re-exec convention.
package main

import (
	"context"
	"os"

	"github.com/grailbio/base/log"

	"github.com/clusterrun/mpigo"
	_ "github.com/clusterrun/mpigo/kernel"
)

func main() {
	if !mpigo.IsWorkerMode() {
		log.Error.Printf("mpigo-worker: MPIGO_MODE=worker is not set; this binary is meant to be launched by a mpigo Launcher, not run directly")
		os.Exit(exitOther)
	}

	err := mpigo.RunWorker(context.Background(), mpigo.WorkerConfig{})
	os.Exit(exitCodeFor(err))
}

// Exit codes mirror the master's interpretation of why a worker
// exited: 0 normal, 2 cancelled, 10 protocol violation, 20 handshake
// failure, 1 any other fatal error.
const (
	exitOK                = 0
	exitOther             = 1
	exitCancelled         = 2
	exitProtocolViolation = 10
	exitHandshakeFailure  = 20
)

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case mpigo.Is(mpigo.KindCancelled, err):
		return exitCancelled
	case mpigo.Is(mpigo.KindProtocolViolation, err):
		return exitProtocolViolation
	case mpigo.Is(mpigo.KindHandshakeFailure, err):
		return exitHandshakeFailure
	default:
		log.Error.Printf("mpigo-worker: %v", err)
		return exitOther
	}
}
