package mpigo

import (
	"context"

	"github.com/clusterrun/mpigo/wire"
)

// LocalComm is the single-process fallback Comm: a group of size 1
// with no sockets and no launcher. It lets a kernel written against
// Comm run unmodified on a developer's laptop, or inside a test, with
// no hosts configured at all. Every collective degenerates to the
// identity operation; Send and Recv have no peer to reach and always
// fail.
type LocalComm struct {
	cancel *cancelFlag
}

// NewLocalComm returns a ready LocalComm.
func NewLocalComm() *LocalComm {
	return &LocalComm{cancel: newCancelFlag()}
}

func (l *LocalComm) Size() int { return 1 }
func (l *LocalComm) Rank() int { return 0 }

func (l *LocalComm) CancellationRequested() bool { return l.cancel.Requested() }
func (l *LocalComm) RequestCancellation()        { l.cancel.Set() }

func (l *LocalComm) Send(ctx context.Context, to int, p wire.Payload) error {
	return E(KindProtocolViolation, "no_peer: local fallback has no rank to send to")
}

func (l *LocalComm) Recv(ctx context.Context, from int) (wire.Payload, error) {
	return wire.Payload{}, E(KindProtocolViolation, "no_peer: local fallback has no rank to receive from")
}

func (l *LocalComm) Bcast(ctx context.Context, root int, p wire.Payload) (wire.Payload, error) {
	if root != 0 {
		return wire.Payload{}, E(KindCollectiveMismatch, "local fallback: root must be 0")
	}
	return p, nil
}

func (l *LocalComm) Scatter(ctx context.Context, root int, chunks []wire.Payload) (wire.Payload, error) {
	if root != 0 {
		return wire.Payload{}, E(KindCollectiveMismatch, "local fallback: root must be 0")
	}
	if len(chunks) != 1 {
		return wire.Payload{}, E(KindCollectiveMismatch, "local fallback: scatter needs exactly one chunk")
	}
	return chunks[0], nil
}

func (l *LocalComm) Gather(ctx context.Context, root int, p wire.Payload) ([]wire.Payload, error) {
	if root != 0 {
		return nil, E(KindCollectiveMismatch, "local fallback: root must be 0")
	}
	return []wire.Payload{p}, nil
}

func (l *LocalComm) Reduce(ctx context.Context, root int, p wire.Payload, op ReduceOp) (wire.Payload, error) {
	if root != 0 {
		return wire.Payload{}, E(KindCollectiveMismatch, "local fallback: root must be 0")
	}
	return p, nil
}

func (l *LocalComm) Barrier(ctx context.Context) error {
	return nil
}

var _ Comm = (*LocalComm)(nil)
var _ Comm = (*Communicator)(nil)
