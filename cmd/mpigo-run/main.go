/*
Command mpigo-run is an example driver exercising the three
algorithm kernels this module ships: a primality check, a dense
matrix multiply, and a Monte Carlo pi estimate.

	% mpigo-run -ssh-user=$USER -kernel=prime -n=1000000007
	is_prime(1000000007) = true

	% mpigo-run -ssh-user=$USER -kernel=estimate_pi -samples=10000000
	pi ~= 3.14160 (stderr 0.00052, 10000000 samples)

With no -hosts, mpigo-run runs the kernel against the single-process
local fallback; with -hosts set, it launches real workers (-transport
ssh or -transport local) and runs the kernel distributed across them.
*/
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/grailbio/base/log"

	"github.com/clusterrun/mpigo"
	"github.com/clusterrun/mpigo/driver"
	"github.com/clusterrun/mpigo/kernel"
)

var (
	kernelFlag  = flag.String("kernel", "prime", "kernel to run: prime, matmul, or estimate_pi")
	nFlag       = flag.Int64("n", 1000000007, "prime: the number to test")
	sizeFlag    = flag.Int("size", 64, "matmul: the size of the square matrices to multiply")
	samplesFlag = flag.Int64("samples", 10_000_000, "estimate_pi: number of Monte Carlo samples")
	timeJobFlag = flag.Bool("time-job", false, "log elapsed wall-clock time for the job")
)

func main() {
	flag.Parse()
	cfg, launcher, err := driver.Configure()
	if err != nil {
		log.Fatal(err)
	}

	args, err := encodeArgsFor(*kernelFlag)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	run := func() error { return runKernel(ctx, cfg, launcher, *kernelFlag, args) }
	if *timeJobFlag {
		err = driver.TimeJob(*kernelFlag, run)
	} else {
		err = run()
	}
	if err != nil {
		log.Fatal(err)
	}
}

func encodeArgsFor(name string) ([]byte, error) {
	switch name {
	case "prime":
		return kernel.EncodePrimeArgs(kernel.PrimeArgs{N: *nFlag})
	case "matmul":
		n := *sizeFlag
		a := make([]float64, n*n)
		b := make([]float64, n*n)
		for i := range a {
			a[i], b[i] = 1, 1
		}
		return kernel.EncodeMatMulArgs(kernel.MatMulArgs{M: n, K: n, N: n, A: a, B: b})
	case "estimate_pi":
		return kernel.EncodeEstimatePiArgs(kernel.EstimatePiArgs{NumSamples: *samplesFlag})
	default:
		return nil, fmt.Errorf("mpigo-run: unknown kernel %q", name)
	}
}

func runKernel(ctx context.Context, cfg *mpigo.Config, launcher *mpigo.Launcher, name string, args []byte) error {
	if cfg.NumWorkerNodes == 0 {
		return runLocal(ctx, name, args)
	}
	h, err := launcher.Launch(ctx, mpigo.NewJobID(), name, args)
	if err != nil {
		return err
	}
	defer h.Teardown()

	result, err := kernel.Run(ctx, h.Comm(), name, args)
	if err != nil {
		return err
	}
	printResult(name, result)
	return nil
}

// runLocal runs the kernel against the single-process fallback when
// no -hosts were configured, printing the same result a distributed
// run's rank 0 would have returned.
func runLocal(ctx context.Context, name string, args []byte) error {
	comm := mpigo.NewLocalComm()
	result, err := kernel.Run(ctx, comm, name, args)
	if err != nil {
		return err
	}
	printResult(name, result)
	return nil
}

func printResult(name string, blob []byte) {
	switch name {
	case "prime":
		r, err := kernel.DecodePrimeResult(blob)
		if err != nil {
			log.Error.Printf("mpigo-run: decoding prime result: %v", err)
			return
		}
		fmt.Printf("is_prime(%d) = %v\n", *nFlag, r.IsPrime)
	case "matmul":
		r, err := kernel.DecodeMatMulResult(blob)
		if err != nil {
			log.Error.Printf("mpigo-run: decoding matmul result: %v", err)
			return
		}
		fmt.Printf("matmul: %dx%d result, c[0][0]=%v\n", r.M, r.N, r.C[0])
	case "estimate_pi":
		r, err := kernel.DecodeMonteCarloResult(blob)
		if err != nil {
			log.Error.Printf("mpigo-run: decoding estimate_pi result: %v", err)
			return
		}
		fmt.Printf("pi ~= %.5f (stderr %.5f, %d samples)\n", r.Mean, r.Stderr, r.Samples)
	}
}
