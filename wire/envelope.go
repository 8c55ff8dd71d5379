// Package wire implements the on-the-wire framing and message types
// used between mpigo processes: a length-prefixed TCP frame carrying
// a gob-encoded Envelope (see codec.go), and the reliable, ordered
// Link built on top of it (see link.go).
package wire

import "fmt"

// Kind enumerates the envelope kinds that may appear on the wire.
// The set is closed: an unrecognized Kind on receive is a fatal
// protocol violation, not an extension point.
type Kind uint8

const (
	// KindHello is sent by a worker as the first frame on its link,
	// carrying its claimed rank and the job's auth nonce.
	KindHello Kind = iota + 1
	// KindJobDescriptor is sent by the master to a worker once,
	// immediately after a successful HELLO.
	KindJobDescriptor
	// KindReady is sent by a worker once, after it has processed its
	// job descriptor and is prepared to run the kernel.
	KindReady
	// KindGo is sent by the master once READY has been observed from
	// every worker; it starts kernel execution.
	KindGo
	// KindData carries an application payload between any two ranks,
	// routed through the master (star topology).
	KindData
	// KindCancel is fire-and-forget, master to all workers, and also
	// worker to master as a cancellation request (see Communicator.RequestCancellation).
	KindCancel
	// KindShutdown is sent by the master to all workers at job end.
	KindShutdown
	// KindDone is sent by a worker on kernel return, optionally
	// carrying a result payload.
	KindDone
	// KindFail is sent by a worker on a terminal error.
	KindFail
	// KindRouted wraps an envelope forwarded by the master's router
	// on behalf of a non-root sender or receiver.
	KindRouted
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "HELLO"
	case KindJobDescriptor:
		return "JOB_DESCRIPTOR"
	case KindReady:
		return "READY"
	case KindGo:
		return "GO"
	case KindData:
		return "DATA"
	case KindCancel:
		return "CANCEL"
	case KindShutdown:
		return "SHUTDOWN"
	case KindDone:
		return "DONE"
	case KindFail:
		return "FAIL"
	case KindRouted:
		return "ROUTED"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Envelope is the unit of exchange on an mpigo Link. From and To are
// rank identifiers; From must never equal To. Seq is strictly
// increasing per (From, To) pair, starting at zero; no receiver reads
// it, since delivery order on a Link is already FIFO by construction
// (see link.go).
type Envelope struct {
	Kind    Kind
	From    int
	To      int
	Seq     uint64
	Payload Payload

	// The bodies of KindFail and KindHello envelopes (Fail, Hello)
	// travel gob-encoded in Payload as a Blob, keeping Envelope's shape
	// uniform across kinds.
}

// Hello is the structured body of a KindHello envelope's Payload.Blob
// (gob-encoded).
type Hello struct {
	JobID       string
	AuthNonce   string
	ClaimedRank int
}

// JobDescriptor is sent to every worker immediately after handshake.
// All workers in a job receive identical JobID, Size, and KernelName.
type JobDescriptor struct {
	JobID              string
	KernelName         string
	KernelArgs         []byte
	Size               int
	Rank               int
	CancellationEpoch  int
	PerNodeThreadsHint int // 0 means "no hint" (Config.PerNodeThreads == nil)
}

// Fail is the structured body of a KindFail envelope.
type Fail struct {
	Reason string
}
