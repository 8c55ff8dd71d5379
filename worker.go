package mpigo

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/grailbio/base/log"

	"github.com/clusterrun/mpigo/kernel"
	"github.com/clusterrun/mpigo/wire"
)

// IsWorkerMode reports whether the current process was started as a
// worker (MPIGO_MODE=worker in its environment), as opposed to being
// a driver process about to call NewLauncher. cmd/mpigo-worker checks
// this before calling RunWorker; a driver binary built with the same
// main package checks it before calling its own driver logic, the
// same branch bigmachine's b.run() makes on BIGMACHINE_MODE.
func IsWorkerMode() bool {
	return os.Getenv("MPIGO_MODE") == "worker"
}

// WorkerConfig carries the small amount of tuning a worker process
// needs that isn't already implied by its environment variables.
type WorkerConfig struct {
	// LinkQueueDepth is the outbound queue depth for this worker's
	// single link back to rank 0. Zero selects the default.
	LinkQueueDepth int
	// ShutdownGrace bounds how long RunWorker waits for a SHUTDOWN
	// envelope after reporting DONE or FAIL, before exiting anyway.
	ShutdownGrace time.Duration
}

// RunWorker performs the worker side of the job bootstrap: it dials
// the master address found in MPIGO_MASTER_ADDR, completes the
// HELLO/JOB_DESCRIPTOR/READY handshake, waits for GO, runs the
// dispatched kernel against a *Communicator wired to its single link
// back to rank 0, reports DONE or FAIL, and waits for SHUTDOWN before
// returning. It is the direct counterpart of Launcher.Launch, run
// from the other side of the same sockets.
//
// Once the kernel has returned, RunWorker returns when SHUTDOWN
// arrives or when cfg.ShutdownGrace has passed without it. A failed
// kernel is returned as a kernel_error and a cancelled one as
// cancelled; cmd/mpigo-worker's main calls it and then exits with the
// status matching the error it returns.
func RunWorker(ctx context.Context, cfg WorkerConfig) error {
	masterAddr := os.Getenv("MPIGO_MASTER_ADDR")
	jobID := os.Getenv("MPIGO_JOB_ID")
	authNonce := os.Getenv("MPIGO_AUTH_NONCE")
	rank, err := strconv.Atoi(os.Getenv("MPIGO_CLAIMED_RANK"))
	if err != nil {
		return E(KindInvalidConfig, "MPIGO_CLAIMED_RANK is not a valid integer", err)
	}
	if masterAddr == "" || jobID == "" {
		return E(KindInvalidConfig, "MPIGO_MASTER_ADDR and MPIGO_JOB_ID must be set in worker mode")
	}

	conn, err := net.Dial("tcp", masterAddr)
	if err != nil {
		return E(KindHandshakeFailure, fmt.Sprintf("dialing master at %s", masterAddr), err)
	}
	fr := wire.NewFrameReader(conn)
	fw := wire.NewFrameWriter(conn)

	helloBlob, err := gobEncode(wire.Hello{JobID: jobID, AuthNonce: authNonce, ClaimedRank: rank})
	if err != nil {
		conn.Close()
		return E(KindInternal, err)
	}
	if err := fw.WriteEnvelope(&wire.Envelope{
		Kind: wire.KindHello, From: rank, To: 0, Payload: wire.BlobPayload(helloBlob),
	}); err != nil {
		conn.Close()
		return E(KindHandshakeFailure, err)
	}

	env, err := fr.ReadEnvelope()
	if err != nil {
		conn.Close()
		return E(KindHandshakeFailure, err)
	}
	if env.Kind != wire.KindJobDescriptor {
		conn.Close()
		return E(KindHandshakeFailure, fmt.Sprintf("expected JOB_DESCRIPTOR, got %s", env.Kind))
	}
	var desc wire.JobDescriptor
	if err := gobDecode(env.Payload.Blob, &desc); err != nil {
		conn.Close()
		return E(KindHandshakeFailure, err)
	}

	if err := fw.WriteEnvelope(&wire.Envelope{Kind: wire.KindReady, From: desc.Rank, To: 0}); err != nil {
		conn.Close()
		return E(KindHandshakeFailure, err)
	}

	env, err = fr.ReadEnvelope()
	if err != nil {
		conn.Close()
		return E(KindHandshakeFailure, err)
	}
	if env.Kind != wire.KindGo {
		conn.Close()
		return E(KindHandshakeFailure, fmt.Sprintf("expected GO, got %s", env.Kind))
	}

	links := make(map[int]*wire.Link, 1)
	cancel := newCancelFlag()
	comm := newCommunicator(desc.Rank, desc.Size, links, cfg.LinkQueueDepth, cancel)

	shutdown := make(chan struct{})
	comm.OnShutdown = func() {
		select {
		case <-shutdown:
		default:
			close(shutdown)
		}
	}

	link := wire.Wrap(conn, fr, fw, cfg.LinkQueueDepth, comm.handleEnvelope)
	links[0] = link
	comm.WatchLink(0, link)

	resultBlob, kernErr := kernel.Run(ctx, comm, desc.KernelName, desc.KernelArgs)

	if kernErr != nil && !isKernelCancelled(kernErr) {
		log.Error.Printf("mpigo: rank %d: kernel %q failed: %v", desc.Rank, desc.KernelName, kernErr)
		failBlob, encErr := gobEncode(wire.Fail{Reason: kernErr.Error()})
		if encErr == nil {
			_ = link.Send(&wire.Envelope{
				Kind: wire.KindFail, From: desc.Rank, To: 0, Payload: wire.BlobPayload(failBlob),
			})
		}
	} else {
		_ = link.Send(&wire.Envelope{
			Kind: wire.KindDone, From: desc.Rank, To: 0, Payload: wire.BlobPayload(resultBlob),
		})
	}

	grace := cfg.ShutdownGrace
	if grace == 0 {
		grace = defaultDrainTimeout
	}
	select {
	case <-shutdown:
	case <-time.After(grace):
		log.Error.Printf("mpigo: rank %d: no SHUTDOWN received within %s, exiting anyway", desc.Rank, grace)
	}
	closeErr := link.Close()
	switch {
	case kernErr == nil:
		return closeErr
	case isKernelCancelled(kernErr):
		return E(KindCancelled, kernErr)
	default:
		return E(KindKernelError, kernErr)
	}
}

// isKernelCancelled reports whether err is the sentinel a kernel
// returns on observing cancellation mid-computation, whether it
// originated from this package's own ErrCancelled (a blocking
// Communicator call unblocked by RequestCancellation) or from
// kernel.ErrCancelled (a kernel's own cancellation poll). A cancelled
// kernel is not a failure worth reporting FAIL for: the job is ending
// because it was asked to, not because it broke.
func isKernelCancelled(err error) bool {
	if Is(KindCancelled, err) {
		return true
	}
	if ke, ok := err.(*kernel.Error); ok {
		return ke.Kind == kernel.KindCancelled
	}
	return false
}
