package mpigo

import (
	"context"
	"fmt"
	"math"

	"github.com/clusterrun/mpigo/wire"
)

// ReduceOp is an alias for wire.ReduceOp; see its doc there.
type ReduceOp = wire.ReduceOp

const (
	ReduceSum  = wire.ReduceSum
	ReduceProd = wire.ReduceProd
	ReduceMax  = wire.ReduceMax
	ReduceMin  = wire.ReduceMin
	ReduceAll  = wire.ReduceAll
	ReduceAny  = wire.ReduceAny
)

// combineScalar applies op to a running accumulator and a newly
// arrived scalar value. Both values must already agree in dynamic
// type (float64, int64, or bool); combineScalar does not coerce.
func combineScalar(op ReduceOp, acc, v interface{}) (interface{}, error) {
	switch a := acc.(type) {
	case float64:
		b, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("mpigo: reduce: mismatched scalar types")
		}
		switch op {
		case ReduceSum:
			return a + b, nil
		case ReduceProd:
			return a * b, nil
		case ReduceMax:
			return math.Max(a, b), nil
		case ReduceMin:
			return math.Min(a, b), nil
		}
	case int64:
		b, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("mpigo: reduce: mismatched scalar types")
		}
		switch op {
		case ReduceSum:
			return a + b, nil
		case ReduceProd:
			return a * b, nil
		case ReduceMax:
			if b > a {
				return b, nil
			}
			return a, nil
		case ReduceMin:
			if b < a {
				return b, nil
			}
			return a, nil
		}
	case bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("mpigo: reduce: mismatched scalar types")
		}
		switch op {
		case ReduceAll:
			return a && b, nil
		case ReduceAny:
			return a || b, nil
		}
	}
	return nil, fmt.Errorf("mpigo: reduce: op %q not defined for %T", op, acc)
}

// collectiveCheck verifies root is in range and that this rank's own
// cancellation flag is not set, returning a wrapped error in either
// case so every collective fails the same way at the call site.
func (c *Communicator) collectiveCheck(root int) error {
	if root < 0 || root >= c.size {
		return E(KindCollectiveMismatch, fmt.Sprintf("root %d out of range [0,%d)", root, c.size))
	}
	if c.cancel.Requested() {
		return ErrCancelled
	}
	return nil
}

// Bcast sends p from root to every other rank and returns p on every
// rank, root included. Every rank must call Bcast with the same root
// in the same collective position; a mismatch manifests as a hang
// rather than a clean error, lasting until ctx is done or the job is
// cancelled. Collectives do not consult Config.CollectiveTimeout, and
// no collective_mismatch error is raised for a mismatched call.
func (c *Communicator) Bcast(ctx context.Context, root int, p wire.Payload) (wire.Payload, error) {
	if err := c.collectiveCheck(root); err != nil {
		return wire.Payload{}, err
	}
	if c.rank == root {
		for r := 0; r < c.size; r++ {
			if r == root {
				continue
			}
			if err := c.Send(ctx, r, p); err != nil {
				return wire.Payload{}, err
			}
		}
		return p, nil
	}
	return c.Recv(ctx, root)
}

// Scatter splits chunks (len(chunks) == Size()) across ranks: rank i
// receives chunks[i], root included. Only root inspects chunks; every
// other rank passes nil.
func (c *Communicator) Scatter(ctx context.Context, root int, chunks []wire.Payload) (wire.Payload, error) {
	if err := c.collectiveCheck(root); err != nil {
		return wire.Payload{}, err
	}
	if c.rank == root {
		if len(chunks) != c.size {
			return wire.Payload{}, E(KindCollectiveMismatch, fmt.Sprintf("scatter: %d chunks for group size %d", len(chunks), c.size))
		}
		for r := 0; r < c.size; r++ {
			if r == root {
				continue
			}
			if err := c.Send(ctx, r, chunks[r]); err != nil {
				return wire.Payload{}, err
			}
		}
		return chunks[root], nil
	}
	return c.Recv(ctx, root)
}

// Gather is Scatter's inverse: every rank sends p to root, which
// returns a slice indexed by rank. Every non-root rank receives a nil
// slice.
func (c *Communicator) Gather(ctx context.Context, root int, p wire.Payload) ([]wire.Payload, error) {
	if err := c.collectiveCheck(root); err != nil {
		return nil, err
	}
	if c.rank != root {
		if err := c.Send(ctx, root, p); err != nil {
			return nil, err
		}
		return nil, nil
	}
	out := make([]wire.Payload, c.size)
	out[root] = p
	for r := 0; r < c.size; r++ {
		if r == root {
			continue
		}
		v, err := c.Recv(ctx, r)
		if err != nil {
			return nil, err
		}
		out[r] = v
	}
	return out, nil
}

// Reduce combines every rank's p with op and returns the result on
// root only; every other rank receives a PayloadNone. Combination
// proceeds in strict ascending rank order on root so that a
// non-associative float accumulation (e.g. sum) is reproducible
// across runs given the same per-rank inputs.
func (c *Communicator) Reduce(ctx context.Context, root int, p wire.Payload, op ReduceOp) (wire.Payload, error) {
	if err := c.collectiveCheck(root); err != nil {
		return wire.Payload{}, err
	}
	if p.Kind != wire.PayloadScalar {
		return wire.Payload{}, E(KindInvalidShape, "reduce: only scalar payloads are supported")
	}
	if c.rank != root {
		if err := c.Send(ctx, root, p); err != nil {
			return wire.Payload{}, err
		}
		return wire.Payload{}, nil
	}
	acc := p.Scalar
	for r := 0; r < c.size; r++ {
		if r == root {
			continue
		}
		v, err := c.Recv(ctx, r)
		if err != nil {
			return wire.Payload{}, err
		}
		if v.Kind != wire.PayloadScalar {
			return wire.Payload{}, E(KindInvalidShape, "reduce: only scalar payloads are supported")
		}
		acc, err = combineScalar(op, acc, v.Scalar)
		if err != nil {
			return wire.Payload{}, E(KindCollectiveMismatch, err)
		}
	}
	return wire.ScalarPayload(acc), nil
}

// Barrier blocks until every rank has called Barrier: every non-root
// rank reports in to rank 0 and waits for a release signal, which
// rank 0 sends once it has heard from all of them.
func (c *Communicator) Barrier(ctx context.Context) error {
	if c.cancel.Requested() {
		return ErrCancelled
	}
	const barrierRoot = 0
	if c.rank != barrierRoot {
		if err := c.Send(ctx, barrierRoot, wire.ScalarPayload(true)); err != nil {
			return err
		}
		_, err := c.Recv(ctx, barrierRoot)
		return err
	}
	for r := 0; r < c.size; r++ {
		if r == barrierRoot {
			continue
		}
		if _, err := c.Recv(ctx, r); err != nil {
			return err
		}
	}
	for r := 0; r < c.size; r++ {
		if r == barrierRoot {
			continue
		}
		if err := c.Send(ctx, r, wire.ScalarPayload(true)); err != nil {
			return err
		}
	}
	return nil
}
