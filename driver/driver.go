// Package driver provides a convenient flag-based entry point for
// mpigo programs, the way grailbio/bigmachine's driver package spares
// a caller from wiring System selection by hand. Programs using it
// should have the form:
//
//	func main() {
//		flag.Parse()
//		cfg, launcher, err := driver.Configure()
//		if err != nil {
//			log.Fatal(err)
//		}
//		h, err := launcher.Launch(ctx, mpigo.NewJobID(), "matmul", args)
//		...
//		defer h.Teardown()
//	}
package driver

import (
	"flag"
	"net/http"
	"strings"
	"time"

	"github.com/grailbio/base/log"

	"github.com/clusterrun/mpigo"
)

var (
	hostsFlag            = flag.String("hosts", "", "comma-separated worker host addresses")
	transportFlag        = flag.String("transport", "local", `launch strategy: "ssh" or "local"`)
	sshUserFlag          = flag.String("ssh-user", "", "remote login used to reach every host")
	workingDirFlag       = flag.String("working-dir", ".", "shared project path present on every node")
	workerExecutableFlag = flag.String("worker-executable", "mpigo-worker", "worker binary name")
	masterNodeFlag       = flag.String("master-node", "localhost", "master hostname that workers dial back to")
	perNodeCoresFlag     = flag.Int("per-node-cores", 1, "CPU cores available per node")
	perNodeThreadsFlag   = flag.Int("per-node-threads", 0, "advisory intra-node threading hint, 0 disables it")
	bootstrapTimeoutFlag = flag.Duration("bootstrap-timeout", 0, "worker dial-home and handshake timeout")
	progressFlag         = flag.Bool("progress", false, "enable progress output and the debug status HTTP surface")
	statusAddrFlag       = flag.String("status-addr", "", "address to serve /debug/mpigo/status on, if -progress is set")
)

// Configure builds a *mpigo.Config and a *mpigo.Launcher from the
// flags this package registers, picking mpigo.LocalShell or mpigo.SSHShell
// according to -transport the same way driver.Run picked a System
// according to -bigsystem.
func Configure() (*mpigo.Config, *mpigo.Launcher, error) {
	hosts := splitNonEmpty(*hostsFlag)
	var threadsHint *int
	if *perNodeThreadsFlag > 0 {
		t := *perNodeThreadsFlag
		threadsHint = &t
	}
	cfg, err := mpigo.Configure(mpigo.Config{
		MasterNode:         *masterNodeFlag,
		PerNodeCores:       *perNodeCoresFlag,
		PerNodeThreads:     threadsHint,
		NumWorkerNodes:     len(hosts),
		Hosts:              hosts,
		SSHUser:            *sshUserFlag,
		WorkerExecutable:   *workerExecutableFlag,
		WorkingDir:         *workingDirFlag,
		ProgressToTerminal: *progressFlag,
		Transport:          *transportFlag,
		BootstrapTimeout:   *bootstrapTimeoutFlag,
	})
	if err != nil {
		return nil, nil, err
	}

	var shell mpigo.RemoteShell
	switch cfg.Transport {
	case "ssh":
		shell = &mpigo.SSHShell{}
	case "local":
		shell = &mpigo.LocalShell{Executable: cfg.WorkerExecutable}
	}
	launcher := mpigo.NewLauncher(cfg, shell)

	if cfg.ProgressToTerminal && *statusAddrFlag != "" {
		serveStatus(launcher, *statusAddrFlag)
	}
	return cfg, launcher, nil
}

func serveStatus(l *mpigo.Launcher, addr string) {
	mux := http.NewServeMux()
	mpigo.NewStatusHandler(l).Handle(mux)
	go func() {
		log.Error.Printf("mpigo: status server on %s exited: %v", addr, http.ListenAndServe(addr, mux))
	}()
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// TimeJob runs fn and, if -time-job-like behavior is desired by the
// caller, logs its elapsed time; mirrors Config.TimeJob's role as a
// driver-side convenience rather than a runtime-enforced behavior.
func TimeJob(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	log.Error.Printf("mpigo: %s took %s", name, time.Since(start).Round(time.Millisecond))
	return err
}
