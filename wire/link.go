package wire

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/log"
)

// State enumerates the possible states of a Link. States proceed
// monotonically, mirroring the Machine state machine of the runtime
// this package's design is drawn from: they may only increase.
type State int32

const (
	// Connecting indicates the underlying socket is being established.
	Connecting State = iota
	// Open indicates the link is ready for sends and receives.
	Open
	// Draining indicates the link is being torn down but pending
	// writes are still being flushed.
	Draining
	// Closed indicates a clean, intentional shutdown.
	Closed
	// Broken is terminal: an I/O error occurred and the link cannot
	// be used again. Any pending receive fails with a peer-lost error.
	Broken
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	case Broken:
		return "broken"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Handler is invoked once per envelope received on a Link, in the
// order frames arrive. It must not block for long: the reader
// goroutine calls it synchronously so that receive order down the
// stream is preserved. The communicator's per-peer inboxes do their
// own buffering downstream of this call.
type Handler func(*Envelope)

// Link is a single reliable, ordered, full-duplex byte stream to one
// peer. It owns its socket, a send queue drained by a dedicated
// writer goroutine, and a reader goroutine that dispatches inbound
// envelopes to a Handler. Writes to the same link are serialized by
// construction (one writer goroutine, one queue).
type Link struct {
	conn net.Conn
	fw   *FrameWriter
	fr   *FrameReader

	outbound chan *Envelope
	handler  Handler

	state int32
	err   struct {
		mu  sync.Mutex
		err error
	}
	closeOnce sync.Once
	done      chan struct{}
}

// New wraps conn as an open Link with the given outbound queue depth
// (the per-peer FIFO bound, default >= 64) and envelope handler.
// New starts the link's reader and writer goroutines immediately.
func New(conn net.Conn, queueDepth int, handler Handler) *Link {
	return Wrap(conn, NewFrameReader(conn), NewFrameWriter(conn), queueDepth, handler)
}

// Wrap adopts an already-constructed FrameReader/FrameWriter pair as
// an open Link. Callers that perform a synchronous handshake over a
// connection before handing it off to a Link must reuse the same
// FrameReader they handshook with: a bufio.Reader may already hold
// bytes read ahead of the last frame it decoded, and constructing a
// fresh one over the same net.Conn would silently drop them.
func Wrap(conn net.Conn, fr *FrameReader, fw *FrameWriter, queueDepth int, handler Handler) *Link {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	l := &Link{
		conn:     conn,
		fw:       fw,
		fr:       fr,
		outbound: make(chan *Envelope, queueDepth),
		handler:  handler,
		state:    int32(Open),
		done:     make(chan struct{}),
	}
	go l.writeLoop()
	go l.readLoop()
	return l
}

// State returns the link's current state.
func (l *Link) State() State {
	return State(atomic.LoadInt32(&l.state))
}

// Err returns the error that broke the link, if any.
func (l *Link) Err() error {
	l.err.mu.Lock()
	defer l.err.mu.Unlock()
	return l.err.err
}

// Done returns a channel that is closed once the link reaches the
// Closed or Broken state.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Send enqueues env for delivery. Send blocks if the outbound queue
// is full (backpressure) and returns once the envelope has been
// queued, not once the peer has received it.
// Send fails with the link's error if the link is already draining,
// broken or closed.
func (l *Link) Send(env *Envelope) error {
	if s := l.State(); s == Draining || s == Broken || s == Closed {
		if err := l.Err(); err != nil {
			return err
		}
		return fmt.Errorf("wire: link is %s", s)
	}
	select {
	case l.outbound <- env:
		return nil
	case <-l.done:
		if err := l.Err(); err != nil {
			return err
		}
		return fmt.Errorf("wire: link closed while sending")
	}
}

// Close begins an orderly shutdown: no further sends are accepted,
// but frames already queued are flushed before the socket closes.
func (l *Link) Close() error {
	l.transition(Draining)
	close(l.outbound)
	<-l.done
	return nil
}

func (l *Link) writeLoop() {
	for env := range l.outbound {
		if err := l.fw.WriteEnvelope(env); err != nil {
			l.fail(err)
			// Drain remaining sends so producers blocked on a full
			// channel are not stuck forever.
			for range l.outbound {
			}
			return
		}
	}
	l.transition(Closed)
	l.conn.Close()
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *Link) readLoop() {
	for {
		env, err := l.fr.ReadEnvelope()
		if err != nil {
			l.fail(err)
			return
		}
		if !ValidKind(env.Kind) {
			l.fail(fmt.Errorf("wire: protocol_violation: unknown envelope kind %d", env.Kind))
			return
		}
		l.handler(env)
	}
}

func (l *Link) fail(err error) {
	l.err.mu.Lock()
	if l.err.err == nil {
		l.err.err = err
	}
	l.err.mu.Unlock()
	if l.transition(Broken) {
		log.Error.Printf("link %s: %v", l.conn.RemoteAddr(), err)
		l.conn.Close()
		l.closeOnce.Do(func() { close(l.done) })
	}
}

// transition moves the link to state s if it has not already reached
// a terminal state, returning whether the transition took effect.
func (l *Link) transition(s State) bool {
	for {
		cur := State(atomic.LoadInt32(&l.state))
		if cur == Closed || cur == Broken {
			return false
		}
		if atomic.CompareAndSwapInt32(&l.state, int32(cur), int32(s)) {
			return true
		}
	}
}
