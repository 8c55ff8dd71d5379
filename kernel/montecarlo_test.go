package kernel

import (
	"context"
	"math"
	"math/rand"
	"testing"
)

func TestRunMonteCarloDefaultEstimatesMean(t *testing.T) {
	seed := int64(42)
	cfg := MonteCarloConfig{
		NumSamples: 100000,
		Seed:       &seed,
		SampleFn:   func(rng *rand.Rand) interface{} { return rng.Float64() },
		EvalFn:     func(sample interface{}) float64 { return sample.(float64) },
	}
	comm := &fakeComm{rank: 0, size: 1}
	result, err := RunMonteCarlo(context.Background(), comm, cfg)
	if err != nil {
		t.Fatal(err)
	}
	r := result.(MonteCarloResult)
	if math.Abs(r.Mean-0.5) > 0.01 {
		t.Errorf("got mean %v, want close to 0.5", r.Mean)
	}
	if r.Samples != cfg.NumSamples {
		t.Errorf("got %d samples, want %d", r.Samples, cfg.NumSamples)
	}
}

func TestRunMonteCarloDistributedCombinesAcrossRanks(t *testing.T) {
	const size = 4
	seed := int64(7)
	comms := newLinkedGroup(size)

	results := make([]interface{}, size)
	errs := make([]error, size)
	done := make(chan int, size)
	for r := 0; r < size; r++ {
		go func(r int) {
			cfg := MonteCarloConfig{
				NumSamples: 40000,
				Seed:       &seed,
				SampleFn:   func(rng *rand.Rand) interface{} { return rng.Float64() },
				EvalFn:     func(sample interface{}) float64 { return sample.(float64) },
			}
			results[r], errs[r] = RunMonteCarlo(context.Background(), comms[r], cfg)
			done <- r
		}(r)
	}
	for i := 0; i < size; i++ {
		<-done
	}
	if errs[0] != nil {
		t.Fatal(errs[0])
	}
	r := results[0].(MonteCarloResult)
	if r.Samples != 40000 {
		t.Errorf("got %d combined samples, want 40000", r.Samples)
	}
	if math.Abs(r.Mean-0.5) > 0.02 {
		t.Errorf("got combined mean %v, want close to 0.5", r.Mean)
	}
	for r := 1; r < size; r++ {
		if errs[r] != nil {
			t.Fatalf("rank %d: %v", r, errs[r])
		}
		if results[r] != nil {
			t.Errorf("rank %d: expected a nil result, got %v", r, results[r])
		}
	}
}

func TestRunMonteCarloZeroSamplesYieldsNaN(t *testing.T) {
	seed := int64(3)
	cfg := MonteCarloConfig{
		NumSamples: 0,
		Seed:       &seed,
		SampleFn:   func(rng *rand.Rand) interface{} { return rng.Float64() },
		EvalFn:     func(sample interface{}) float64 { return sample.(float64) },
	}
	comm := &fakeComm{rank: 0, size: 1}
	result, err := RunMonteCarlo(context.Background(), comm, cfg)
	if err != nil {
		t.Fatal(err)
	}
	r := result.(MonteCarloResult)
	if r.Samples != 0 {
		t.Errorf("got %d samples, want 0", r.Samples)
	}
	if !math.IsNaN(r.Mean) || !math.IsNaN(r.Variance) || !math.IsNaN(r.Stderr) {
		t.Errorf("got %+v, want Mean/Variance/Stderr all NaN", r)
	}
}

func TestRankSeedDeterministicGivenSeed(t *testing.T) {
	seed := int64(99)
	a := rankSeed(&seed, 3)
	b := rankSeed(&seed, 3)
	if a != b {
		t.Error("rankSeed should be deterministic for the same (seed, rank)")
	}
	c := rankSeed(&seed, 4)
	if a == c {
		t.Error("rankSeed should differ across ranks")
	}
}

func TestRankSeedRandomWithoutSeed(t *testing.T) {
	a := rankSeed(nil, 0)
	b := rankSeed(nil, 0)
	if a == b {
		t.Error("expected two nil-seed calls to differ (time-derived)")
	}
}

func TestStripBounds1DPartitionsExactly(t *testing.T) {
	const n, parts = 17, 5
	var total int64
	for i := 0; i < parts; i++ {
		start, end := stripBounds1D(n, parts, i)
		total += end - start
	}
	if total != n {
		t.Errorf("got %d total samples across strips, want %d", total, n)
	}
}

func TestEstimatePiFuncViaRegistry(t *testing.T) {
	seed := int64(1)
	args, err := EncodeEstimatePiArgs(EstimatePiArgs{NumSamples: 200000, Seed: &seed})
	if err != nil {
		t.Fatal(err)
	}
	blob, err := Run(context.Background(), &fakeComm{rank: 0, size: 1}, "estimate_pi", args)
	if err != nil {
		t.Fatal(err)
	}
	result, err := DecodeMonteCarloResult(blob)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(result.Mean-math.Pi) > 0.05 {
		t.Errorf("got pi estimate %v, want close to %v", result.Mean, math.Pi)
	}
}

func TestMonteCarloCancellation(t *testing.T) {
	comm := &fakeComm{rank: 0, size: 1}
	comm.RequestCancellation()
	cfg := MonteCarloConfig{
		NumSamples:       10_000_000,
		CancelCheckEvery: 1,
		SampleFn:         func(rng *rand.Rand) interface{} { return rng.Float64() },
		EvalFn:           func(sample interface{}) float64 { return sample.(float64) },
	}
	_, err := RunMonteCarlo(context.Background(), comm, cfg)
	if err != ErrCancelled {
		t.Errorf("got %v, want ErrCancelled", err)
	}
}
