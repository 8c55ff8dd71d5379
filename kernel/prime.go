// Package kernel implements the algorithm kernels that run on top of
// a wire.Comm: primality testing, dense matrix multiply, and a
// generic Monte Carlo estimator. Each kernel is a plain function of
// (context, communicator, arguments) so it runs identically whether
// the communicator is a distributed Communicator or the single-rank
// LocalComm fallback.
package kernel

import (
	"context"
	"math"

	"github.com/clusterrun/mpigo/wire"
)

// PrimeArgs is the gob-encodable argument blob for IsPrime.
type PrimeArgs struct {
	N int64
}

// PrimeResult is IsPrime's gob-encodable result blob. Only rank 0's
// result is meaningful; every other rank's return value is discarded
// by the dispatch loop.
type PrimeResult struct {
	IsPrime bool
}

// EncodePrimeArgs packs a PrimeArgs blob for JobDescriptor.KernelArgs.
func EncodePrimeArgs(a PrimeArgs) ([]byte, error) { return encodeArgs(a) }

// DecodePrimeArgs unpacks a PrimeArgs blob.
func DecodePrimeArgs(b []byte) (PrimeArgs, error) {
	var a PrimeArgs
	err := decodeArgs(b, &a)
	return a, err
}

// DecodePrimeResult unpacks a PrimeResult blob, as returned by the
// "prime" kernel's DONE envelope.
func DecodePrimeResult(b []byte) (PrimeResult, error) {
	var r PrimeResult
	err := decodeArgs(b, &r)
	return r, err
}

// IsPrime reports whether n is prime, splitting the odd-divisor
// search in [3, floor(sqrt(n))] into size contiguous sub-ranges (one
// per rank, remainders going to the lowest ranks). Each rank streams
// its sub-range, polling cancellation every 1024 trial divisions, and
// requests cancellation itself the moment it finds a divisor so
// peers can stop early. Only rank 0's return value is meaningful.
func IsPrime(ctx context.Context, comm wire.Comm, n int64) (bool, error) {
	if n <= 3 {
		trivial := n == 2 || n == 3
		return bcastBool(ctx, comm, trivial)
	}
	if n%2 == 0 {
		return bcastBool(ctx, comm, false)
	}

	limit := int64(math.Sqrt(float64(n)))
	lo, hi := partitionOddRange(3, limit, comm.Rank(), comm.Size())

	foundDivisor := false
	checked := 0
	for d := lo; d <= hi; d += 2 {
		if n%d == 0 {
			foundDivisor = true
			comm.RequestCancellation()
			break
		}
		checked++
		if checked%1024 == 0 && comm.CancellationRequested() {
			break
		}
	}

	result, err := comm.Reduce(ctx, 0, wire.ScalarPayload(foundDivisor), wire.ReduceAny)
	if err != nil {
		return false, err
	}
	if comm.Rank() != 0 {
		return false, nil
	}
	anyFound, _ := result.Scalar.(bool)
	return !anyFound, nil
}

// bcastBool broadcasts a trivially-decided result from rank 0 and
// returns it on every rank.
func bcastBool(ctx context.Context, comm wire.Comm, v bool) (bool, error) {
	p, err := comm.Bcast(ctx, 0, wire.ScalarPayload(v))
	if err != nil {
		return false, err
	}
	b, _ := p.Scalar.(bool)
	return b, nil
}

// partitionOddRange splits the odd integers in [lo, hi] into size
// contiguous sub-ranges of near-equal length, remainders distributed
// to the lowest-numbered ranks, and returns rank's sub-range as an
// inclusive [start, end] pair of odd bounds. If rank's share is
// empty, start > end and the caller's loop does nothing.
func partitionOddRange(lo, hi int64, rank, size int) (start, end int64) {
	if hi < lo {
		return lo, lo - 2
	}
	total := (hi-lo)/2 + 1
	base := total / int64(size)
	rem := total % int64(size)

	var before int64
	if int64(rank) < rem {
		before = int64(rank) * (base + 1)
	} else {
		before = rem*(base+1) + (int64(rank)-rem)*base
	}
	count := base
	if int64(rank) < rem {
		count++
	}
	if count == 0 {
		return lo, lo - 2
	}
	start = lo + before*2
	end = start + (count-1)*2
	return start, end
}
