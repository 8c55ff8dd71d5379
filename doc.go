/*
Package mpigo implements a minimal MPI-style distributed runtime for
cluster computing over commodity Ethernet. It bootstraps a group of
worker processes across remote hosts, assigns each a rank, and
exposes a small message-passing surface — point-to-point and a fixed
set of collectives — on which distributed algorithms are built.

Computing model

A driver program calls mpigo.Configure to validate a Config, builds a
RemoteShell for the configured transport, and hands both to
NewLauncher; the returned Launcher's Launch method brings up the job:
the master opens a rendezvous listener, spawns one worker process per
configured host over the shell, waits for every worker to dial home
and complete a handshake, and returns a *jobHandle whose Comm method
gives a *Communicator bound to rank 0. Worker processes run the binary
named by Config.WorkerExecutable (cmd/mpigo-worker by default),
started in worker mode by an environment variable, and call
mpigo.RunWorker. The driver package wraps this in a flag-based Configure of its
own, the way this package's Configure and Launcher compose in
practice.

	func main() {
		flag.Parse()
		cfg, err := mpigo.Configure(mpigo.Config{ ... })
		if err != nil {
			log.Fatal(err)
		}
		launcher := mpigo.NewLauncher(cfg, &mpigo.SSHShell{})
		args, _ := kernel.EncodePrimeArgs(kernel.PrimeArgs{N: 999983})
		h, err := launcher.Launch(context.Background(), mpigo.NewJobID(), "prime", args)
		if err != nil {
			log.Fatal(err)
		}
		defer h.Teardown()

		result, err := kernel.Run(context.Background(), h.Comm(), "prime", args)
		...
	}

All inter-rank traffic is routed through rank 0 (star topology): a
non-root rank's send to another non-root rank is forwarded by rank 0's
router. This halves the connection count and simplifies delivery
ordering at the cost of doubled bandwidth on worker-to-worker traffic
— an explicitly accepted tradeoff (see DESIGN.md).

Local mode

mpigo.NewLocalComm returns a size-1 *LocalComm that runs entirely
in-process, without a Launcher, any hosts, or a RemoteShell: the same
kernel code that runs distributed also runs — and is tested — without
any sockets or subprocesses.

Cancellation

Rank 0 may cancel a running job at any time. Cancellation is
cooperative: it sets a process-wide flag, observed by kernels via
Communicator.CancellationRequested, and propagated to every worker by
a CANCEL broadcast. Blocked communicator calls wake and fail with
ErrCancelled once the flag is set.
*/
package mpigo
