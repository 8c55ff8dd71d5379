package kernel

import (
	"context"
	"encoding/gob"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/clusterrun/mpigo/wire"
)

func init() {
	gob.Register(numericAcc{})
}

// accBox exists only so an Accumulator crosses gob as a genuinely
// interface-typed field: gob only emits the concrete-type tag a
// registered interface value needs when the field it is decoding
// into is statically declared as an interface, not when the
// top-level argument to Encode merely happens to be one. Callers
// supplying a custom Accumulator type must gob.Register it
// themselves, the same way a caller of encoding/gob always must.
type accBox struct{ V Accumulator }

// Accumulator is the running state a Monte Carlo rank folds its
// samples into. The default accumulator is the numeric
// (count, sum, sumSq) triple; callers with richer per-sample state
// supply their own InitFn/ReduceFn/CombineFn/FinalizeFn operating on
// whatever concrete type they choose, boxed behind this interface.
type Accumulator interface{}

// numericAcc is the default Accumulator: count, sum, and sum of
// squares, enough to derive a mean, variance, and standard error.
type numericAcc struct {
	Count  int64
	Sum    float64
	SumSq  float64
}

// MonteCarloResult is the default FinalizeFn's output.
type MonteCarloResult struct {
	Mean    float64
	Variance float64
	Stderr  float64
	Samples int64
}

// MonteCarloConfig configures one distributed Monte Carlo run. Only
// NumSamples and Seed (and, rarely, CancelCheckEvery) are expected to
// cross the wire inside a job's KernelArgs; SampleFn, EvalFn, and the
// optional hooks are Go closures that must be identical on every
// rank, which in practice means they are hardcoded inside a single
// Func registered once under a fixed kernel name (see estimatePiFunc
// below for a worked example) rather than threaded through
// JobDescriptor.KernelArgs.
type MonteCarloConfig struct {
	NumSamples       int64
	Seed             *int64
	CancelCheckEvery int64

	SampleFn func(rng *rand.Rand) interface{}
	EvalFn   func(sample interface{}) float64

	InitFn     func() Accumulator
	ReduceFn   func(acc Accumulator, v float64) Accumulator
	CombineFn  func(a, b Accumulator) Accumulator
	FinalizeFn func(acc Accumulator, samples int64) interface{}
}

func (cfg MonteCarloConfig) cancelCheckEvery() int64 {
	if cfg.CancelCheckEvery > 0 {
		return cfg.CancelCheckEvery
	}
	return 1024
}

func defaultInit() Accumulator { return numericAcc{} }

func defaultReduce(acc Accumulator, v float64) Accumulator {
	a := acc.(numericAcc)
	a.Count++
	a.Sum += v
	a.SumSq += v * v
	return a
}

func defaultCombine(a, b Accumulator) Accumulator {
	x, y := a.(numericAcc), b.(numericAcc)
	return numericAcc{Count: x.Count + y.Count, Sum: x.Sum + y.Sum, SumSq: x.SumSq + y.SumSq}
}

func defaultFinalize(acc Accumulator, _ int64) interface{} {
	a := acc.(numericAcc)
	if a.Count == 0 {
		return MonteCarloResult{Mean: math.NaN(), Variance: math.NaN(), Stderr: math.NaN(), Samples: 0}
	}
	mean := a.Sum / float64(a.Count)
	variance := math.Max(0, a.SumSq/float64(a.Count)-mean*mean)
	return MonteCarloResult{
		Mean:     mean,
		Variance: variance,
		Stderr:   math.Sqrt(variance / float64(a.Count)),
		Samples:  a.Count,
	}
}

// rankSeed derives rank r's RNG seed deterministically by hashing
// (seed, r) together, so every rank's stream is reproducible from a
// single top-level seed, or draws an unpredictable seed from the OS
// clock if seed is nil.
func rankSeed(seed *int64, r int) int64 {
	if seed == nil {
		return time.Now().UnixNano() ^ int64(r)<<32
	}
	h := fnv.New64a()
	var buf [16]byte
	putInt64(buf[:8], *seed)
	putInt64(buf[8:], int64(r))
	h.Write(buf[:])
	return int64(h.Sum64())
}

func putInt64(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}

// RunMonteCarlo runs cfg across the group and returns rank 0's
// finalized result; every other rank returns a zero value (the
// FinalizeFn is invoked only on rank 0). Each rank draws
// NumSamples/size samples (remainder to the low ranks) from its own
// deterministically-seeded *rand.Rand, folds them into an
// accumulator, and the accumulators are gathered to rank 0 and
// combined left-to-right by ascending rank.
func RunMonteCarlo(ctx context.Context, comm wire.Comm, cfg MonteCarloConfig) (interface{}, error) {
	initFn, reduceFn, combineFn, finalizeFn := cfg.InitFn, cfg.ReduceFn, cfg.CombineFn, cfg.FinalizeFn
	if initFn == nil {
		initFn = defaultInit
	}
	if reduceFn == nil {
		reduceFn = defaultReduce
	}
	if combineFn == nil {
		combineFn = defaultCombine
	}
	if finalizeFn == nil {
		finalizeFn = defaultFinalize
	}

	size, rank := comm.Size(), comm.Rank()
	start, end := stripBounds1D(cfg.NumSamples, size, rank)
	mySamples := end - start

	rng := rand.New(rand.NewSource(rankSeed(cfg.Seed, rank)))
	acc := initFn()
	every := cfg.cancelCheckEvery()
	for i := int64(0); i < mySamples; i++ {
		v := cfg.EvalFn(cfg.SampleFn(rng))
		acc = reduceFn(acc, v)
		if (i+1)%every == 0 && comm.CancellationRequested() {
			return nil, ErrCancelled
		}
	}

	gobBlob, err := encodeArgs(accBox{V: acc})
	if err != nil {
		return nil, err
	}
	gathered, err := comm.Gather(ctx, 0, wire.BlobPayload(gobBlob))
	if err != nil {
		return nil, err
	}
	if rank != 0 {
		return nil, nil
	}

	var combined Accumulator
	first := true
	for r := 0; r < size; r++ {
		var box accBox
		if err := decodeArgs(gathered[r].Blob, &box); err != nil {
			return nil, err
		}
		if first {
			combined, first = box.V, false
			continue
		}
		combined = combineFn(combined, box.V)
	}
	return finalizeFn(combined, cfg.NumSamples), nil
}

// stripBounds1D splits n items into parts contiguous chunks of
// near-equal size, remainder to the low-numbered chunks, and returns
// the [start, end) bounds of chunk idx.
func stripBounds1D(n int64, parts, idx int) (start, end int64) {
	base := n / int64(parts)
	rem := n % int64(parts)
	if int64(idx) < rem {
		start = int64(idx) * (base + 1)
		end = start + base + 1
	} else {
		start = rem*(base+1) + (int64(idx)-rem)*base
		end = start + base
	}
	return start, end
}

// EstimatePiArgs is the gob-encodable argument blob for the
// "estimate_pi" kernel.
type EstimatePiArgs struct {
	NumSamples       int64
	Seed             *int64
	CancelCheckEvery int64
}

// EncodeEstimatePiArgs packs an EstimatePiArgs blob for
// JobDescriptor.KernelArgs.
func EncodeEstimatePiArgs(a EstimatePiArgs) ([]byte, error) { return encodeArgs(a) }

// DecodeMonteCarloResult unpacks a MonteCarloResult blob, as returned
// by the "estimate_pi" kernel's DONE envelope.
func DecodeMonteCarloResult(b []byte) (MonteCarloResult, error) {
	var r MonteCarloResult
	err := decodeArgs(b, &r)
	return r, err
}

// estimatePiFunc estimates pi by the ratio of points landing inside
// the unit circle to points sampled from the unit square, the same
// Monte Carlo shape as a circle-sampling pi estimator, wired through
// the generic RunMonteCarlo estimator rather than its own hand-rolled
// reduction loop.
func estimatePiFunc(ctx context.Context, comm wire.Comm, args []byte) ([]byte, error) {
	var a EstimatePiArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	cfg := MonteCarloConfig{
		NumSamples:       a.NumSamples,
		Seed:             a.Seed,
		CancelCheckEvery: a.CancelCheckEvery,
		SampleFn: func(rng *rand.Rand) interface{} {
			return [2]float64{rng.Float64()*2 - 1, rng.Float64()*2 - 1}
		},
		EvalFn: func(sample interface{}) float64 {
			p := sample.([2]float64)
			if p[0]*p[0]+p[1]*p[1] <= 1 {
				return 4
			}
			return 0
		},
	}
	result, err := RunMonteCarlo(ctx, comm, cfg)
	if err != nil {
		return nil, err
	}
	if comm.Rank() != 0 {
		return nil, nil
	}
	return encodeArgs(result.(MonteCarloResult))
}
