package kernel

import (
	"context"
	"math"
	"testing"

	"github.com/clusterrun/mpigo/wire"
)

// linkedComm is a fakeComm wired to sibling ranks in-process via
// buffered channels, letting MatMul's scatter/gather choreography run
// across more than one rank without real sockets.
type linkedComm struct {
	rank, size int
	cancelled  *bool
	// inboxes[to][from] is the channel carrying messages sent to rank
	// to from rank from, mirroring the per-peer inbox keying a real
	// Communicator uses so concurrent sends from different ranks can
	// never be mislabeled by arrival order.
	inboxes [][]chan wire.Payload
}

func newLinkedGroup(size int) []*linkedComm {
	inboxes := make([][]chan wire.Payload, size)
	for to := range inboxes {
		inboxes[to] = make([]chan wire.Payload, size)
		for from := range inboxes[to] {
			inboxes[to][from] = make(chan wire.Payload, size)
		}
	}
	cancelled := false
	comms := make([]*linkedComm, size)
	for r := 0; r < size; r++ {
		comms[r] = &linkedComm{rank: r, size: size, cancelled: &cancelled, inboxes: inboxes}
	}
	return comms
}

func (c *linkedComm) Size() int { return c.size }
func (c *linkedComm) Rank() int { return c.rank }

func (c *linkedComm) Send(ctx context.Context, to int, p wire.Payload) error {
	c.inboxes[to][c.rank] <- p
	return nil
}
func (c *linkedComm) Recv(ctx context.Context, from int) (wire.Payload, error) {
	return <-c.inboxes[c.rank][from], nil
}
func (c *linkedComm) Bcast(ctx context.Context, root int, p wire.Payload) (wire.Payload, error) {
	if c.rank == root {
		for r := 0; r < c.size; r++ {
			if r != root {
				c.inboxes[r][root] <- p
			}
		}
		return p, nil
	}
	return <-c.inboxes[c.rank][root], nil
}
func (c *linkedComm) Scatter(ctx context.Context, root int, chunks []wire.Payload) (wire.Payload, error) {
	return chunks[c.rank], nil
}
func (c *linkedComm) Gather(ctx context.Context, root int, p wire.Payload) ([]wire.Payload, error) {
	if c.rank != root {
		return nil, c.Send(ctx, root, p)
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
func (c *linkedComm) Reduce(ctx context.Context, root int, p wire.Payload, op wire.ReduceOp) (wire.Payload, error) {
	return p, nil
}
func (c *linkedComm) Barrier(ctx context.Context) error { return nil }

func (c *linkedComm) CancellationRequested() bool { return *c.cancelled }
func (c *linkedComm) RequestCancellation()        { *c.cancelled = true }

var _ wire.Comm = (*linkedComm)(nil)

func TestProcessGridPrefersSquareGrids(t *testing.T) {
	pr, pc := processGrid(100, 100, 4)
	if pr != 2 || pc != 2 {
		t.Errorf("got (%d,%d), want (2,2)", pr, pc)
	}
}

func TestProcessGridHandlesSizeOne(t *testing.T) {
	pr, pc := processGrid(10, 20, 1)
	if pr != 1 || pc != 1 {
		t.Errorf("got (%d,%d), want (1,1)", pr, pc)
	}
}

func TestStripBoundsPartitionsExactly(t *testing.T) {
	const n, parts = 10, 3
	var total int
	for i := 0; i < parts; i++ {
		start, end := stripBounds(n, parts, i)
		total += end - start
	}
	if total != n {
		t.Errorf("got %d total elements across strips, want %d", total, n)
	}
}

func TestMatMulSingleRankIdentity(t *testing.T) {
	// A = identity(3), B = [1..9] row-major: A*B should equal B.
	a := []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	b := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}
	comm := newLinkedGroup(1)[0]
	c, err := MatMul(context.Background(), comm, 3, 3, 3, a, b)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range b {
		if math.Abs(c[i]-want) > 1e-9 {
			t.Errorf("element %d: got %v, want %v", i, c[i], want)
		}
	}
}

func TestMatMulDistributedAcrossRanks(t *testing.T) {
	const m, k, n = 4, 4, 4
	a := make([]float64, m*k)
	for i := range a {
		a[i] = 1 // every row/col is 1s
	}
	b := make([]float64, k*n)
	for i := range b {
		b[i] = 1
	}
	comms := newLinkedGroup(4)

	results := make([][]float64, 4)
	errs := make([]error, 4)
	done := make(chan int, 4)
	for r := 0; r < 4; r++ {
		go func(r int) {
			var aArg, bArg []float64
			if r == 0 {
				aArg, bArg = a, b
			}
			results[r], errs[r] = MatMul(context.Background(), comms[r], m, k, n, aArg, bArg)
			done <- r
		}(r)
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	if errs[0] != nil {
		t.Fatal(errs[0])
	}
	for i, v := range results[0] {
		if math.Abs(v-float64(k)) > 1e-9 {
			t.Errorf("element %d: got %v, want %v", i, v, float64(k))
		}
	}
}

func TestMatMulEmptyDimensionsYieldsEmptyResult(t *testing.T) {
	comm := newLinkedGroup(1)[0]
	c, err := MatMul(context.Background(), comm, 0, 3, 3, nil, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	if err != nil {
		t.Fatal(err)
	}
	if len(c) != 0 {
		t.Errorf("got %v, want an empty result", c)
	}

	c, err = MatMul(context.Background(), comm, 3, 3, 0, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(c) != 0 {
		t.Errorf("got %v, want an empty result", c)
	}
}

func TestMatMulArgsEncodeDecodeRoundTrip(t *testing.T) {
	blob, err := EncodeMatMulArgs(MatMulArgs{M: 2, K: 2, N: 2, A: []float64{1, 2, 3, 4}, B: []float64{5, 6, 7, 8}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeMatMulArgs(blob)
	if err != nil {
		t.Fatal(err)
	}
	if got.M != 2 || got.K != 2 || got.N != 2 || len(got.A) != 4 || len(got.B) != 4 {
		t.Errorf("got %+v", got)
	}
}

func TestMatMulResultEncodeDecodeRoundTrip(t *testing.T) {
	blob, err := encodeArgs(MatMulResult{M: 1, N: 2, C: []float64{1, 2}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeMatMulResult(blob)
	if err != nil {
		t.Fatal(err)
	}
	if got.M != 1 || got.N != 2 || len(got.C) != 2 {
		t.Errorf("got %+v", got)
	}
}

func TestMatMulFuncRejectsShapeMismatch(t *testing.T) {
	args, err := EncodeMatMulArgs(MatMulArgs{M: 2, K: 2, N: 2, A: []float64{1}, B: []float64{1, 2, 3, 4}})
	if err != nil {
		t.Fatal(err)
	}
	comm := newLinkedGroup(1)[0]
	if _, err := Run(context.Background(), comm, "matmul", args); err == nil {
		t.Error("expected a shape mismatch error")
	}
}
