package wire

import "context"

// ReduceOp names one of the fixed set of reductions a Reduce call may
// apply. The set is closed: callers pick one by name rather than
// supplying an arbitrary combining function, so every rank in the
// group applies the identical operation without having to ship code
// across the wire.
type ReduceOp string

const (
	ReduceSum  ReduceOp = "sum"
	ReduceProd ReduceOp = "prod"
	ReduceMax  ReduceOp = "max"
	ReduceMin  ReduceOp = "min"
	ReduceAll  ReduceOp = "all"
	ReduceAny  ReduceOp = "any"
)

// Comm is the message-passing surface handed to algorithm kernels. It
// is defined here, rather than alongside its implementations, so
// that kernel code can depend on the interface without depending on
// the package that dials sockets and runs the launcher.
type Comm interface {
	Size() int
	Rank() int

	Send(ctx context.Context, to int, p Payload) error
	Recv(ctx context.Context, from int) (Payload, error)

	Bcast(ctx context.Context, root int, p Payload) (Payload, error)
	Scatter(ctx context.Context, root int, chunks []Payload) (Payload, error)
	Gather(ctx context.Context, root int, p Payload) ([]Payload, error)
	Reduce(ctx context.Context, root int, p Payload, op ReduceOp) (Payload, error)
	Barrier(ctx context.Context) error

	CancellationRequested() bool
	RequestCancellation()
}
