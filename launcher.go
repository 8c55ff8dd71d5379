package mpigo

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/log"
	"golang.org/x/sync/errgroup"

	"github.com/clusterrun/mpigo/internal/tee"
	"github.com/clusterrun/mpigo/wire"
)

// RemoteProcess is a single started worker process: its captured
// stderr, and the means to wait for or kill it.
type RemoteProcess interface {
	Stderr() io.Reader
	Wait() error
	Kill() error
}

// RemoteShell starts one worker process on one host. SSHShell dials a
// real remote host; LocalShell forks a subprocess of the current
// binary for development and single-host testing.
type RemoteShell interface {
	Start(ctx context.Context, h Host, env map[string]string) (RemoteProcess, error)
}

// Launcher brings up a job's worker group over a RemoteShell and
// returns a job handle whose Comm method gives the *Communicator bound
// to rank 0 and whose Teardown method the caller must call exactly
// once the kernel has returned.
type Launcher struct {
	cfg   *Config
	shell RemoteShell
	lock  *JobLock

	// current is the in-flight job's handle, if any; StatusHandler
	// reads it to render the debug status page without the launcher
	// and the status surface needing any other channel between them.
	current atomic.Pointer[jobHandle]
}

// NewLauncher builds a Launcher that starts worker processes through
// shell, using cfg's timeouts and host list.
func NewLauncher(cfg *Config, shell RemoteShell) *Launcher {
	return &Launcher{cfg: cfg, shell: shell, lock: theJobLock}
}

// jobHandle is everything the caller needs to run a kernel and then
// tear the job down.
type jobHandle struct {
	jobID    string
	comm     *Communicator
	cancel   *cancelFlag
	procs    []RemoteProcess
	peerConn []net.Conn
	listener net.Listener
	drain    time.Duration
	launcher *Launcher
	stderr   map[int]*tee.Writer
}

// Launch brings up size-1 worker processes (cfg.NumWorkerNodes), waits
// for all of them to complete the HELLO/JOB_DESCRIPTOR/READY
// handshake within cfg.BootstrapTimeout, releases them with GO, and
// returns a rank-0 Communicator. Any single worker failing to dial
// home, handshake, or report ready aborts the whole launch: every
// process already started is killed and every socket already opened
// is closed, and the caller sees one bootstrap_timeout or
// handshake_failure error.
func (l *Launcher) Launch(ctx context.Context, jobID, kernelName string, kernelArgs []byte) (*jobHandle, error) {
	if err := l.lock.Acquire(jobID); err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			l.lock.Release()
		}
	}()

	hosts := HostsFromConfig(l.cfg)
	size := l.cfg.Size()

	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, E(KindInternal, err)
	}
	_, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		ln.Close()
		return nil, E(KindInternal, err)
	}
	masterAddr := net.JoinHostPort(l.cfg.MasterNode, port)

	bootCtx, cancelBoot := context.WithTimeout(ctx, l.cfg.BootstrapTimeout)
	defer cancelBoot()

	authNonce := newAuthNonce()

	procs := make([]RemoteProcess, len(hosts))
	stderr := make(map[int]*tee.Writer, len(hosts))
	var stderrMu sync.Mutex
	var g errgroup.Group
	for i, h := range hosts {
		i, h := i, h
		g.Go(func() error {
			env := map[string]string{
				"MPIGO_MODE":         "worker",
				"MPIGO_MASTER_ADDR":  masterAddr,
				"MPIGO_JOB_ID":       jobID,
				"MPIGO_AUTH_NONCE":   authNonce,
				"MPIGO_CLAIMED_RANK": fmt.Sprintf("%d", i+1),
				"MPIGO_EXECUTABLE":   "./" + l.cfg.WorkerExecutable,
			}
			proc, err := l.shell.Start(bootCtx, h, env)
			if err != nil {
				return E(KindHandshakeFailure, fmt.Sprintf("starting worker on %s", h.Addr), err)
			}
			procs[i] = proc
			rank := i + 1
			tw := tee.NewWriter(logWriter{})
			stderrMu.Lock()
			stderr[rank] = tw
			stderrMu.Unlock()
			prefix := fmt.Sprintf("[rank %d %s] ", rank, h.Addr)
			go io.Copy(tee.PrefixWriter(tw, prefix), proc.Stderr())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		ln.Close()
		killAll(procs)
		return nil, err
	}

	conns, err := acceptHandshakes(bootCtx, ln, size-1, jobID, authNonce)
	if err != nil {
		ln.Close()
		killAll(procs)
		return nil, err
	}

	links := make(map[int]*wire.Link, size-1)
	cancel := newCancelFlag()
	comm := newCommunicator(0, size, links, l.cfg.LinkQueueDepth, cancel)

	if err := sendDescriptorsAndAwaitReady(bootCtx, conns, jobID, kernelName, kernelArgs, size, l.cfg.PerNodeThreadsHint()); err != nil {
		closeAll(conns)
		ln.Close()
		killAll(procs)
		return nil, err
	}

	for rank, hs := range conns {
		if err := hs.fw.WriteEnvelope(&wire.Envelope{Kind: wire.KindGo, From: 0, To: rank}); err != nil {
			closeAll(conns)
			ln.Close()
			killAll(procs)
			return nil, E(KindHandshakeFailure, err)
		}
	}

	peerConns := make([]net.Conn, 0, len(conns))
	for rank, hs := range conns {
		link := wire.Wrap(hs.conn, hs.fr, hs.fw, l.cfg.LinkQueueDepth, comm.routeFromPeer(rank))
		links[rank] = link
		comm.WatchLink(rank, link)
		peerConns = append(peerConns, hs.conn)
	}
	comm.onCancel = func() {
		for rank, link := range links {
			_ = link.Send(&wire.Envelope{Kind: wire.KindCancel, From: 0, To: rank})
		}
	}
	comm.OnWorkerFail = func(rank int, reason string) {
		tail := ""
		if tw, ok := stderr[rank]; ok {
			tail = string(tw.Tail())
		}
		log.Error.Printf("mpigo: rank %d failed: %s\nrecent stderr:\n%s", rank, reason, tail)
	}

	ok = true
	h := &jobHandle{
		jobID:    jobID,
		comm:     comm,
		cancel:   cancel,
		procs:    procs,
		peerConn: peerConns,
		listener: ln,
		drain:    l.cfg.DrainTimeout,
		launcher: l,
		stderr:   stderr,
	}
	l.current.Store(h)
	return h, nil
}

// Comm returns h's rank-0 Communicator. The caller is responsible for
// running the job's kernel against it (as rank 0) concurrently with
// the workers running the same kernel against their own communicators
// — Launch only brings the group up, it does not run anything.
func (h *jobHandle) Comm() *Communicator { return h.comm }

// Teardown sends SHUTDOWN to every worker, waits up to the configured
// drain timeout for them to exit cleanly, and force-closes anything
// still open. It always releases the job lock, even on a teardown
// error, so a stuck worker can never wedge the master into perpetual
// busy.
func (h *jobHandle) Teardown() error {
	defer h.launcher.lock.Release()
	defer h.launcher.current.CompareAndSwap(h, nil)
	for rank, link := range h.comm.links {
		_ = link.Send(&wire.Envelope{Kind: wire.KindShutdown, From: 0, To: rank})
	}

	done := make(chan struct{})
	go func() {
		for _, p := range h.procs {
			_ = p.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(h.drain):
		killAll(h.procs)
	}

	for _, link := range h.comm.links {
		_ = link.Close()
	}
	for _, tw := range h.stderr {
		tw.Close()
	}
	return h.listener.Close()
}

// handshakeState holds the raw synchronous framing used during
// bootstrap, kept alive so the same bufio buffers back the Link this
// connection upgrades into once GO is sent.
type handshakeState struct {
	conn net.Conn
	fr   *wire.FrameReader
	fw   *wire.FrameWriter
}

func acceptHandshakes(ctx context.Context, ln net.Listener, n int, jobID, authNonce string) (map[int]*handshakeState, error) {
	out := make(map[int]*handshakeState, n)
	var mu sync.Mutex
	var g errgroup.Group
	accepted := make(chan net.Conn)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			select {
			case accepted <- conn:
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()

	for i := 0; i < n; i++ {
		g.Go(func() error {
			var conn net.Conn
			select {
			case conn = <-accepted:
			case <-ctx.Done():
				return E(KindBootstrapTimeout, "timed out waiting for workers to dial home")
			}
			fr := wire.NewFrameReader(conn)
			fw := wire.NewFrameWriter(conn)
			env, err := fr.ReadEnvelope()
			if err != nil {
				conn.Close()
				return E(KindHandshakeFailure, err)
			}
			if env.Kind != wire.KindHello {
				conn.Close()
				return E(KindHandshakeFailure, fmt.Sprintf("expected HELLO, got %s", env.Kind))
			}
			var hello wire.Hello
			if err := gobDecode(env.Payload.Blob, &hello); err != nil {
				conn.Close()
				return E(KindHandshakeFailure, err)
			}
			if hello.JobID != jobID || hello.AuthNonce != authNonce {
				conn.Close()
				return E(KindHandshakeFailure, "job_id or auth_nonce mismatch")
			}
			mu.Lock()
			out[hello.ClaimedRank] = &handshakeState{conn: conn, fr: fr, fw: fw}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeAll(out)
		return nil, err
	}
	return out, nil
}

func sendDescriptorsAndAwaitReady(ctx context.Context, conns map[int]*handshakeState, jobID, kernelName string, kernelArgs []byte, size, threadsHint int) error {
	var g errgroup.Group
	for rank, hs := range conns {
		rank, hs := rank, hs
		g.Go(func() error {
			blob, err := gobEncode(wire.JobDescriptor{
				JobID: jobID, KernelName: kernelName, KernelArgs: kernelArgs,
				Size: size, Rank: rank, PerNodeThreadsHint: threadsHint,
			})
			if err != nil {
				return E(KindInternal, err)
			}
			if err := hs.fw.WriteEnvelope(&wire.Envelope{
				Kind: wire.KindJobDescriptor, From: 0, To: rank, Payload: wire.BlobPayload(blob),
			}); err != nil {
				return E(KindHandshakeFailure, err)
			}
			env, err := hs.fr.ReadEnvelope()
			if err != nil {
				return E(KindHandshakeFailure, err)
			}
			if env.Kind != wire.KindReady {
				return E(KindHandshakeFailure, fmt.Sprintf("rank %d: expected READY, got %s", rank, env.Kind))
			}
			return nil
		})
	}
	doneCh := make(chan error, 1)
	go func() { doneCh <- g.Wait() }()
	select {
	case err := <-doneCh:
		return err
	case <-ctx.Done():
		return E(KindBootstrapTimeout, "timed out waiting for worker readiness")
	}
}

func killAll(procs []RemoteProcess) {
	for _, p := range procs {
		if p != nil {
			_ = p.Kill()
		}
	}
}

func closeAll(conns map[int]*handshakeState) {
	for _, hs := range conns {
		hs.conn.Close()
	}
}

// logWriter adapts grailbio/base/log's package-level logger to
// io.Writer so captured worker stderr can be tee'd into it alongside
// the operator's own terminal.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	log.Error.Printf("%s", p)
	return len(p), nil
}
