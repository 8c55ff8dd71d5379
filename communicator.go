package mpigo

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/grailbio/base/log"

	"github.com/clusterrun/mpigo/wire"
)

// Comm is the message-passing surface a kernel is handed; it is an
// alias for wire.Comm so that callers inside this package can keep
// writing the shorter, historical name. Communicator (the
// distributed, socket-backed implementation) and LocalComm (the
// single-process fallback) both satisfy it, so kernel code never
// branches on how the group was launched.
type Comm = wire.Comm

// Communicator is the distributed Comm implementation. Every rank
// holds one: rank 0 (the master) holds one Link per worker and routes
// traffic between them; every other rank holds a single Link back to
// rank 0. Point-to-point sends between two non-zero ranks make two
// hops, both through rank 0's router, since no direct socket exists
// between workers.
type Communicator struct {
	size int
	rank int

	cancel   *cancelFlag
	onCancel func() // rank 0 only: broadcast CANCEL to every worker

	// OnShutdown, OnWorkerDone, and OnWorkerFail let the launcher (rank
	// 0) and the worker bootstrap loop (every other rank) observe
	// control-plane envelopes that arrive interleaved with data on the
	// same links the Communicator already owns. Set before the job
	// starts sending traffic; nil hooks are simply ignored.
	OnShutdown   func()
	OnWorkerDone func(rank int, result wire.Payload)
	OnWorkerFail func(rank int, reason string)

	// links holds this rank's outbound Links. On rank 0, keyed by every
	// other rank 1..size-1. On a worker, links[0] is the sole entry.
	links map[int]*wire.Link

	mu         sync.Mutex
	inbox      map[int]chan wire.Payload // keyed by the logical sender rank
	peerDone   map[int]error             // set once a peer's link breaks
	peerBroken map[int]chan struct{}     // closed once the matching peerDone entry is set

	seqMu sync.Mutex
	seq   map[int]uint64 // per-destination send sequence counters

	queueDepth int
}

// newCommunicator builds a Communicator around already-handshaken
// links. onCancel is invoked (rank 0 only) when RequestCancellation
// is called locally, or when a CANCEL envelope arrives from a worker;
// it is expected to broadcast CANCEL to every other worker.
func newCommunicator(rank, size int, links map[int]*wire.Link, queueDepth int, cancel *cancelFlag) *Communicator {
	if queueDepth <= 0 {
		queueDepth = defaultLinkQueueDepth
	}
	c := &Communicator{
		size:       size,
		rank:       rank,
		cancel:     cancel,
		links:      links,
		inbox:      make(map[int]chan wire.Payload),
		peerDone:   make(map[int]error),
		peerBroken: make(map[int]chan struct{}),
		seq:        make(map[int]uint64),
		queueDepth: queueDepth,
	}
	return c
}

func (c *Communicator) Size() int { return c.size }
func (c *Communicator) Rank() int { return c.rank }

func (c *Communicator) CancellationRequested() bool { return c.cancel.Requested() }

// RequestCancellation marks the job cancelled and, on rank 0,
// broadcasts CANCEL to every worker. A worker calling
// RequestCancellation instead sends a CANCEL request to rank 0, which
// re-broadcasts it; the worker's own flag is not set until that
// broadcast round-trips, so every rank observes cancellation via the
// same broadcast path.
func (c *Communicator) RequestCancellation() {
	if c.rank == 0 {
		c.cancel.Set()
		if c.onCancel != nil {
			c.onCancel()
		}
		return
	}
	link := c.links[0]
	if link == nil {
		return
	}
	_ = link.Send(&wire.Envelope{Kind: wire.KindCancel, From: c.rank, To: 0})
}

// inboxFor returns (creating if necessary) the bounded FIFO channel
// holding payloads received from peer.
func (c *Communicator) inboxFor(peer int) chan wire.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.inbox[peer]
	if !ok {
		ch = make(chan wire.Payload, c.queueDepth)
		c.inbox[peer] = ch
	}
	return ch
}

func (c *Communicator) peerErr(peer int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerDone[peer]
}

// peerBrokenCh returns (creating if necessary) the channel that
// markPeerBroken closes for peer, so Send and Recv can select on a
// peer's death alongside their other wake conditions.
func (c *Communicator) peerBrokenCh(peer int) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.peerBroken[peer]
	if !ok {
		ch = make(chan struct{})
		c.peerBroken[peer] = ch
	}
	return ch
}

// markPeerBroken records err as the reason peer is no longer
// reachable and wakes every Send/Recv blocked on that peer. It is
// idempotent: only the first call for a given peer takes effect.
func (c *Communicator) markPeerBroken(peer int, err error) {
	c.mu.Lock()
	if _, ok := c.peerDone[peer]; ok {
		c.mu.Unlock()
		return
	}
	c.peerDone[peer] = err
	ch, ok := c.peerBroken[peer]
	if !ok {
		ch = make(chan struct{})
		c.peerBroken[peer] = ch
	}
	c.mu.Unlock()
	close(ch)
}

// WatchLink spawns a goroutine that waits for link (the connection to
// peer) to leave the Open state and, if it broke rather than closed
// cleanly, marks peer lost and cancels the job: on rank 0 this
// broadcasts CANCEL to the surviving workers via onCancel, the same
// path an explicit CANCEL or RequestCancellation takes; on a worker,
// losing its only link back to rank 0 leaves no one to broadcast to,
// so the worker simply cancels itself. The caller installs this once
// per link, immediately after the link is created.
func (c *Communicator) WatchLink(peer int, link *wire.Link) {
	go func() {
		<-link.Done()
		if link.State() != wire.Broken {
			return
		}
		err := link.Err()
		if err == nil {
			err = fmt.Errorf("wire: link to rank %d broken", peer)
		}
		c.markPeerBroken(peer, err)
		if c.rank == 0 {
			c.cancel.Set()
			if c.onCancel != nil {
				c.onCancel()
			}
		} else {
			c.cancel.Set()
		}
	}()
}

func (c *Communicator) nextSeq(to int) uint64 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	s := c.seq[to]
	c.seq[to] = s + 1
	return s
}

// handleEnvelope is the Link handler a worker installs on its link to
// rank 0 once handshake completes (rank 0's links use routeFromPeer
// instead). It demultiplexes application data into per-sender inboxes
// and reacts to CANCEL.
func (c *Communicator) handleEnvelope(env *wire.Envelope) {
	switch env.Kind {
	case wire.KindData:
		c.inboxFor(env.From) <- env.Payload
	case wire.KindRouted:
		var inner wire.Envelope
		if err := gobDecode(env.Payload.Blob, &inner); err != nil {
			log.Error.Printf("mpigo: rank %d: undecodable routed envelope: %v", c.rank, err)
			return
		}
		c.inboxFor(inner.From) <- inner.Payload
	case wire.KindCancel:
		c.cancel.Set()
		if c.rank == 0 && c.onCancel != nil {
			c.onCancel()
		}
	case wire.KindShutdown:
		if c.OnShutdown != nil {
			c.OnShutdown()
		}
	default:
		log.Error.Printf("mpigo: rank %d: unexpected envelope kind %s on data link", c.rank, env.Kind)
	}
}

// routeFromPeer is installed as rank 0's Link handler for each worker
// link. It either delivers data addressed to rank 0 directly, or
// re-wraps and forwards data addressed to another worker.
func (c *Communicator) routeFromPeer(from int) wire.Handler {
	return func(env *wire.Envelope) {
		switch env.Kind {
		case wire.KindCancel:
			c.cancel.Set()
			if c.onCancel != nil {
				c.onCancel()
			}
			return
		case wire.KindData:
			if env.To == 0 {
				c.inboxFor(from) <- env.Payload
				return
			}
			dst, ok := c.links[env.To]
			if !ok {
				log.Error.Printf("mpigo: rank 0: routing to unknown rank %d from %d", env.To, from)
				return
			}
			blob, err := gobEncode(env)
			if err != nil {
				log.Error.Printf("mpigo: rank 0: re-encoding routed envelope: %v", err)
				return
			}
			routed := &wire.Envelope{
				Kind: wire.KindRouted, From: 0, To: env.To,
				Payload: wire.BlobPayload(blob),
			}
			if err := dst.Send(routed); err != nil {
				c.markPeerBroken(env.To, err)
			}
		case wire.KindDone:
			if c.OnWorkerDone != nil {
				c.OnWorkerDone(from, env.Payload)
			}
		case wire.KindFail:
			reason := ""
			if f, ok := decodeFail(env.Payload); ok {
				reason = f.Reason
			}
			if c.OnWorkerFail != nil {
				c.OnWorkerFail(from, reason)
			}
		default:
			log.Error.Printf("mpigo: rank 0: unexpected envelope kind %s from %d", env.Kind, from)
		}
	}
}

// decodeFail extracts a Fail body from a KindFail envelope's Payload,
// which carries it as a gob-encoded Blob.
func decodeFail(p wire.Payload) (wire.Fail, bool) {
	var f wire.Fail
	if p.Kind != wire.PayloadBlob {
		return f, false
	}
	if err := gobDecode(p.Blob, &f); err != nil {
		return f, false
	}
	return f, true
}

// Send transmits p to rank to, blocking until it has been handed to
// the outbound queue of the relevant link (backpressure propagates
// from there). Sending to c.rank itself is a programming error.
func (c *Communicator) Send(ctx context.Context, to int, p wire.Payload) error {
	if to == c.rank {
		return E(KindInternal, fmt.Sprintf("rank %d attempted to send to itself", to))
	}
	if to < 0 || to >= c.size {
		return E(KindProtocolViolation, fmt.Sprintf("rank %d out of range [0,%d)", to, c.size))
	}
	env := &wire.Envelope{Kind: wire.KindData, From: c.rank, To: to, Seq: c.nextSeq(to), Payload: p}

	var link *wire.Link
	linkPeer := to
	if c.rank != 0 {
		linkPeer = 0
	}
	if c.rank == 0 {
		link = c.links[to]
	} else {
		link = c.links[0]
	}
	if link == nil {
		return E(KindPeerLost, fmt.Sprintf("no link to rank %d", to))
	}
	if err := c.peerErr(linkPeer); err != nil {
		return E(KindPeerLost, fmt.Sprintf("rank %d", linkPeer), err)
	}
	broken := c.peerBrokenCh(linkPeer)
	done := make(chan error, 1)
	go func() { done <- link.Send(env) }()
	select {
	case err := <-done:
		if err != nil {
			return E(KindPeerLost, err)
		}
		return nil
	case <-broken:
		return E(KindPeerLost, fmt.Sprintf("rank %d", linkPeer), c.peerErr(linkPeer))
	case <-ctx.Done():
		return ctx.Err()
	case <-c.cancel.C():
		return ErrCancelled
	}
}

// Recv blocks until a payload has arrived from rank from, ctx is
// cancelled, cancellation is requested, or the link to from breaks.
func (c *Communicator) Recv(ctx context.Context, from int) (wire.Payload, error) {
	if from < 0 || from >= c.size {
		return wire.Payload{}, E(KindProtocolViolation, fmt.Sprintf("rank %d out of range [0,%d)", from, c.size))
	}
	if err := c.peerErr(from); err != nil {
		return wire.Payload{}, E(KindPeerLost, fmt.Sprintf("rank %d", from), err)
	}
	ch := c.inboxFor(from)
	broken := c.peerBrokenCh(from)
	select {
	case p := <-ch:
		return p, nil
	case <-broken:
		return wire.Payload{}, E(KindPeerLost, fmt.Sprintf("rank %d", from), c.peerErr(from))
	case <-ctx.Done():
		return wire.Payload{}, ctx.Err()
	case <-c.cancel.C():
		return wire.Payload{}, ErrCancelled
	}
}

// gobEncode/gobDecode are small local helpers used to re-serialize an
// already-decoded Envelope for the routed-forward hop; they exist
// here (rather than in package wire) because only the communicator's
// router needs to re-wrap in flight.
func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
