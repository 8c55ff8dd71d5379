package mpigo

import "time"

// Config is the one-shot setup accepted by Configure. It carries the
// job's topology and host list plus a small set of additive, defaulted
// fields needed to make the runtime concretely operable: transport
// selection and the timeouts governing bootstrap, collectives, and
// shutdown drain.
type Config struct {
	// MasterNode is the master's hostname. Workers dial it, at the
	// port the launcher's listener bound, to reach rank 0.
	MasterNode string
	// PerNodeCores is the number of CPU cores available per node.
	PerNodeCores int
	// PerNodeThreads is an advisory intra-node threading hint passed
	// down to kernels; nil disables it entirely.
	PerNodeThreads *int
	// NumWorkerNodes is the number of worker hosts.
	NumWorkerNodes int
	// Hosts lists the worker host addresses; len(Hosts) must equal
	// NumWorkerNodes.
	Hosts []string
	// SSHUser is the remote shell login used to reach every host,
	// unless a Host-specific override is supplied to the launcher.
	SSHUser string
	// WorkerExecutable names the worker binary to invoke on each
	// host. This is the direct successor of the source system's
	// "python_executable" field: this runtime ships one Go binary
	// rather than invoking a separate interpreter, but the field
	// occupies the same configuration slot.
	WorkerExecutable string
	// WorkingDir is the shared project path present on every node.
	WorkingDir string
	// TimeJob is validated and stored, but neither this package nor
	// the driver package reads it; job timing is done by calling
	// driver.TimeJob directly.
	TimeJob bool
	// ProgressToTerminal, if true, lets driver.Configure serve the
	// debug status HTTP surface when its -status-addr flag is also
	// set. No progress lines are printed.
	ProgressToTerminal bool

	// Transport selects the launch strategy: "ssh" (default) dials
	// real remote hosts; "local" spawns worker subprocesses on the
	// current host, for development and the local fallback's own
	// multi-process tests.
	Transport string
	// BootstrapTimeout bounds how long the launcher waits for all
	// workers to dial home and complete HELLO/READY.
	BootstrapTimeout time.Duration
	// CollectiveTimeout is validated and stored, but the collectives
	// do not read it: a collective waiting on a straggling rank blocks
	// until its context is done or the job is cancelled, and no
	// collective_mismatch error is raised.
	CollectiveTimeout time.Duration
	// DrainTimeout bounds how long a cancelled job waits for worker
	// FAIL/DONE before forcing socket closure.
	DrainTimeout time.Duration
	// LinkQueueDepth is the per-link outbound queue depth, i.e. the
	// per-peer FIFO bound. Must be >= 64 if set; zero selects
	// the default.
	LinkQueueDepth int
}

const (
	defaultBootstrapTimeout = 60 * time.Second
	defaultDrainTimeout     = 15 * time.Second
	defaultLinkQueueDepth   = 64
	defaultWorkerExecutable = "mpigo-worker"
	minLinkQueueDepth       = 64
)

// Configure validates cfg against its rejection rules and
// returns a copy with defaults applied. It never mutates cfg.
func Configure(cfg Config) (*Config, error) {
	out := cfg

	if out.MasterNode == "" {
		return nil, E(KindInvalidConfig, "master_node is required")
	}
	if out.PerNodeCores <= 0 {
		return nil, E(KindInvalidConfig, "per_node_cores must be positive")
	}
	if out.NumWorkerNodes < 0 {
		return nil, E(KindInvalidConfig, "num_worker_nodes must be non-negative")
	}
	if len(out.Hosts) != out.NumWorkerNodes {
		return nil, E(KindInvalidConfig, "len(hosts) must equal num_worker_nodes")
	}
	if out.SSHUser == "" {
		return nil, E(KindInvalidConfig, "ssh_user is required")
	}
	if out.WorkerExecutable == "" {
		return nil, E(KindInvalidConfig, "python_executable (worker executable) is required")
	}
	if out.WorkingDir == "" {
		return nil, E(KindInvalidConfig, "working_dir is required")
	}

	if out.Transport == "" {
		out.Transport = "ssh"
	}
	if out.Transport != "ssh" && out.Transport != "local" {
		return nil, E(KindInvalidConfig, "transport must be \"ssh\" or \"local\"")
	}
	if out.BootstrapTimeout == 0 {
		out.BootstrapTimeout = defaultBootstrapTimeout
	}
	if out.DrainTimeout == 0 {
		out.DrainTimeout = defaultDrainTimeout
	}
	if out.LinkQueueDepth == 0 {
		out.LinkQueueDepth = defaultLinkQueueDepth
	} else if out.LinkQueueDepth < minLinkQueueDepth {
		return nil, E(KindInvalidConfig, "link_queue_depth must be at least 64")
	}
	out.Hosts = append([]string(nil), out.Hosts...)
	return &out, nil
}

// Size returns the group size implied by cfg: the master plus every
// configured worker node.
func (c *Config) Size() int { return 1 + c.NumWorkerNodes }

// PerNodeThreadsHint returns the advisory thread-count hint, or 0 if
// none was configured.
func (c *Config) PerNodeThreadsHint() int {
	if c.PerNodeThreads == nil {
		return 0
	}
	return *c.PerNodeThreads
}
