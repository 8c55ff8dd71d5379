package kernel

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/clusterrun/mpigo/wire"
)

// MatMulArgs is the gob-encodable argument blob for MatMul: A (m×k)
// and B (k×n) in row-major order, meaningful only on rank 0. Every
// rank decodes the same blob, but only rank 0 reads A and B; every
// other rank receives its actual operands from rank 0 by Send.
type MatMulArgs struct {
	M, K, N int
	A, B    []float64 // row-major; len(A) == M*K, len(B) == K*N
}

// MatMulResult carries C (m×n) row-major, meaningful only on rank 0.
type MatMulResult struct {
	M, N int
	C    []float64
}

// EncodeMatMulArgs packs a MatMulArgs blob for JobDescriptor.KernelArgs.
func EncodeMatMulArgs(a MatMulArgs) ([]byte, error) { return encodeArgs(a) }

// DecodeMatMulArgs unpacks a MatMulArgs blob.
func DecodeMatMulArgs(b []byte) (MatMulArgs, error) {
	var a MatMulArgs
	err := decodeArgs(b, &a)
	return a, err
}

// DecodeMatMulResult unpacks a MatMulResult blob, as returned by the
// "matmul" kernel's DONE envelope.
func DecodeMatMulResult(b []byte) (MatMulResult, error) {
	var r MatMulResult
	err := decodeArgs(b, &r)
	return r, err
}

func matMulFunc(ctx context.Context, comm wire.Comm, args []byte) ([]byte, error) {
	a, err := DecodeMatMulArgs(args)
	if err != nil {
		return nil, err
	}

	var shapeErr string
	if comm.Rank() == 0 && (len(a.A) != a.M*a.K || len(a.B) != a.K*a.N) {
		shapeErr = fmt.Sprintf("matmul: shape (%d,%d)x(%d,%d) does not match operand lengths %d, %d",
			a.M, a.K, a.K, a.N, len(a.A), len(a.B))
	}
	p, err := comm.Bcast(ctx, 0, wire.ScalarPayload(shapeErr))
	if err != nil {
		return nil, err
	}
	if s, _ := p.Scalar.(string); s != "" {
		return nil, E(KindInvalidShape, s)
	}

	c, err := MatMul(ctx, comm, a.M, a.K, a.N, a.A, a.B)
	if err != nil {
		return nil, err
	}
	if comm.Rank() != 0 {
		return nil, nil
	}
	return encodeArgs(MatMulResult{M: a.M, N: a.N, C: c})
}

// processGrid picks a Pr*Pc grid with Pr*Pc == size that minimizes
// max(ceil(m/Pr), ceil(n/Pc)); ties prefer the smaller |Pr-Pc|.
func processGrid(m, n, size int) (pr, pc int) {
	bestCost, bestSkew := math.MaxInt64, math.MaxInt64
	for candidatePr := 1; candidatePr <= size; candidatePr++ {
		if size%candidatePr != 0 {
			continue
		}
		candidatePc := size / candidatePr
		cost := maxInt(ceilDiv(m, candidatePr), ceilDiv(n, candidatePc))
		skew := absInt(candidatePr - candidatePc)
		if cost < bestCost || (cost == bestCost && skew < bestSkew) {
			bestCost, bestSkew = cost, skew
			pr, pc = candidatePr, candidatePc
		}
	}
	return pr, pc
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func absInt(a int) int {
	if a < 0 {
		return -a
	}
	return a
}

// stripBounds splits n rows/cols into parts contiguous chunks of
// near-equal size (remainder to the low-numbered chunks) and returns
// the [start, end) bounds of chunk idx.
func stripBounds(n, parts, idx int) (start, end int) {
	base := n / parts
	rem := n % parts
	if idx < rem {
		start = idx * (base + 1)
		end = start + base + 1
	} else {
		start = rem*(base+1) + (idx-rem)*base
		end = start + base
	}
	return start, end
}

// MatMul computes C = A·B (m×k times k×n) across the group. A and B
// are meaningful only on rank 0; every other rank may pass nil
// slices. Rank 0 picks a process grid (Pr, Pc) with Pr·Pc == size,
// partitions A row-wise into Pr strips and B column-wise into Pc
// strips, and scatters strip pr and strip pc to every rank that needs
// them. Rank r = pr*Pc+pc computes its block with the host linear
// algebra library; blocks are gathered back to rank 0, which
// assembles the full output. A cancelled kernel returns (nil,
// cancelled); it polls right before the block multiplication.
func MatMul(ctx context.Context, comm wire.Comm, m, k, n int, aFlat, bFlat []float64) ([]float64, error) {
	size := comm.Size()
	rank := comm.Rank()

	if m == 0 || n == 0 {
		if rank != 0 {
			return nil, nil
		}
		return []float64{}, nil
	}

	var pr, pc int
	if rank == 0 {
		pr, pc = processGrid(m, n, size)
	}
	grid, err := comm.Bcast(ctx, 0, wire.ScalarPayload(int64(pr)*1_000_000+int64(pc)))
	if err != nil {
		return nil, err
	}
	packed, _ := grid.Scalar.(int64)
	pr, pc = int(packed/1_000_000), int(packed%1_000_000)
	myPr, myPc := rank/pc, rank%pc

	aStrip, err := scatterRowStrips(ctx, comm, m, k, aFlat, pr, pc, myPr)
	if err != nil {
		return nil, err
	}
	bStrip, err := scatterColStrips(ctx, comm, k, n, bFlat, pc, myPc)
	if err != nil {
		return nil, err
	}

	if comm.CancellationRequested() {
		return nil, ErrCancelled
	}

	rowStart, rowEnd := stripBounds(m, pr, myPr)
	colStart, colEnd := stripBounds(n, pc, myPc)
	blockM, blockN := rowEnd-rowStart, colEnd-colStart

	aMat := mat.NewDense(blockM, k, aStrip)
	bMat := mat.NewDense(k, blockN, bStrip)
	var cBlock mat.Dense
	cBlock.Mul(aMat, bMat)

	cFlat := make([]float64, blockM*blockN)
	for i := 0; i < blockM; i++ {
		for j := 0; j < blockN; j++ {
			cFlat[i*blockN+j] = cBlock.At(i, j)
		}
	}

	return gatherBlocks(ctx, comm, m, n, pr, pc, cFlat)
}

// scatterRowStrips hands each rank in grid row myPr the A rows it
// owns. Rank 0 slices aFlat directly; every other rank receives its
// strip from rank 0.
func scatterRowStrips(ctx context.Context, comm wire.Comm, m, k int, aFlat []float64, pr, pc, myPr int) ([]float64, error) {
	if comm.Rank() != 0 {
		p, err := comm.Recv(ctx, 0)
		if err != nil {
			return nil, err
		}
		return p.Array.Float64s()
	}
	for target := 1; target < comm.Size(); target++ {
		tPr := target / pc
		start, end := stripBounds(m, pr, tPr)
		strip := aFlat[start*k : end*k]
		if err := comm.Send(ctx, target, wire.ArrayPayload(wire.NewFloat64Array([]int{end - start, k}, strip))); err != nil {
			return nil, err
		}
	}
	start, end := stripBounds(m, pr, myPr)
	return aFlat[start*k : end*k], nil
}

// scatterColStrips hands each rank in grid column myPc the B columns
// it owns. B's columns are not contiguous in row-major storage, so
// rank 0 must pack each strip row by row before sending.
func scatterColStrips(ctx context.Context, comm wire.Comm, k, n int, bFlat []float64, pc, myPc int) ([]float64, error) {
	if comm.Rank() != 0 {
		p, err := comm.Recv(ctx, 0)
		if err != nil {
			return nil, err
		}
		return p.Array.Float64s()
	}
	packStrip := func(start, end int) []float64 {
		width := end - start
		strip := make([]float64, k*width)
		for row := 0; row < k; row++ {
			copy(strip[row*width:(row+1)*width], bFlat[row*n+start:row*n+end])
		}
		return strip
	}
	for target := 1; target < comm.Size(); target++ {
		tPc := target % pc
		start, end := stripBounds(n, pc, tPc)
		strip := packStrip(start, end)
		if err := comm.Send(ctx, target, wire.ArrayPayload(wire.NewFloat64Array([]int{k, end - start}, strip))); err != nil {
			return nil, err
		}
	}
	start, end := stripBounds(n, pc, myPc)
	return packStrip(start, end), nil
}

// gatherBlocks collects every rank's C block back to rank 0 and
// assembles the full m×n output.
func gatherBlocks(ctx context.Context, comm wire.Comm, m, n, pr, pc int, myBlock []float64) ([]float64, error) {
	if comm.Rank() != 0 {
		if err := comm.Send(ctx, 0, wire.ArrayPayload(wire.NewFloat64Array([]int{len(myBlock)}, myBlock))); err != nil {
			return nil, err
		}
		return nil, nil
	}
	out := make([]float64, m*n)
	placeBlock := func(rank int, block []float64) {
		tPr, tPc := rank/pc, rank%pc
		rowStart, rowEnd := stripBounds(m, pr, tPr)
		colStart, colEnd := stripBounds(n, pc, tPc)
		width := colEnd - colStart
		for i := rowStart; i < rowEnd; i++ {
			copy(out[i*n+colStart:i*n+colEnd], block[(i-rowStart)*width:(i-rowStart+1)*width])
		}
	}
	placeBlock(0, myBlock)
	for src := 1; src < comm.Size(); src++ {
		p, err := comm.Recv(ctx, src)
		if err != nil {
			return nil, err
		}
		block, err := p.Array.Float64s()
		if err != nil {
			return nil, err
		}
		placeBlock(src, block)
	}
	return out, nil
}
