package kernel

import (
	"context"
	"fmt"
	"sync"

	"github.com/clusterrun/mpigo/wire"
)

// Func is the shape every dispatchable kernel takes: it receives the
// job's raw KernelArgs blob and returns a raw result blob, so the
// worker bootstrap loop and the distributed Communicator never need
// to know a kernel's argument or result types. A Func decodes its own
// arguments with whatever codec it was built against (normally
// encodeArgs/decodeArgs in this package).
type Func func(ctx context.Context, comm wire.Comm, args []byte) ([]byte, error)

var registry = struct {
	mu sync.RWMutex
	m  map[string]Func
}{m: make(map[string]Func)}

// Register adds a named kernel to the process-wide dispatch table.
// Both the worker binary and the driver process must link in the
// same Register calls (normally via blank-imported packages or a
// shared init() in the binary's main package) so that a job's
// kernel_name resolves identically everywhere. Register panics on a
// duplicate name, since two kernels silently sharing a name is
// always a build-time mistake, never a runtime condition to recover
// from.
func Register(name string, fn Func) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, exists := registry.m[name]; exists {
		panic(fmt.Sprintf("kernel: %q already registered", name))
	}
	registry.m[name] = fn
}

// Lookup returns the Func registered under name, if any.
func Lookup(name string) (Func, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	fn, ok := registry.m[name]
	return fn, ok
}

// Run looks up name and invokes it with args, failing with
// kernel_error-shaped context if the name is unknown. Callers outside
// this package normally go through the worker bootstrap loop instead
// of calling Run directly.
func Run(ctx context.Context, comm wire.Comm, name string, args []byte) ([]byte, error) {
	fn, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("kernel: no kernel registered under name %q", name)
	}
	return fn(ctx, comm, args)
}

func init() {
	Register("prime", primeFunc)
	Register("matmul", matMulFunc)
	Register("estimate_pi", estimatePiFunc)
}

func primeFunc(ctx context.Context, comm wire.Comm, args []byte) ([]byte, error) {
	a, err := DecodePrimeArgs(args)
	if err != nil {
		return nil, err
	}
	ok, err := IsPrime(ctx, comm, a.N)
	if err != nil {
		return nil, err
	}
	return encodeArgs(PrimeResult{IsPrime: ok})
}
