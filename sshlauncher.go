package mpigo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bramvdbogaerde/go-scp"
	"github.com/grailbio/base/retry"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// dialRetryPolicy backs off ssh.Dial attempts against a host that is
// still booting or momentarily unreachable, the same shape machine.go
// uses for its RPC retry loop.
var dialRetryPolicy = retry.Backoff(time.Second, 5*time.Second, 1.5)

// SSHShell starts worker processes on remote hosts over SSH,
// authenticating with a private key and verifying host identity
// against a known_hosts file, then staging the worker binary with
// scp when LocalBinary is set. The copy is made on every Start; no
// check is made for a copy already present on the host.
type SSHShell struct {
	// KeyPath is the private key file used to authenticate. Defaults
	// to ~/.ssh/id_rsa.
	KeyPath string
	// KnownHostsPath is consulted to verify each host's key. Defaults
	// to ~/.ssh/known_hosts.
	KnownHostsPath string
	// Port is the SSH port. Defaults to 22.
	Port int
	// LocalBinary, if set, is scp'd to each host's working directory
	// on every Start, under its own base name; the command run is still
	// ./<Config.WorkerExecutable>. Leave empty if the binary is already
	// deployed out of band.
	LocalBinary string
}

func (s *SSHShell) keyPath() string {
	if s.KeyPath != "" {
		return s.KeyPath
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ssh", "id_rsa")
}

func (s *SSHShell) knownHostsPath() string {
	if s.KnownHostsPath != "" {
		return s.KnownHostsPath
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ssh", "known_hosts")
}

func (s *SSHShell) port() int {
	if s.Port != 0 {
		return s.Port
	}
	return 22
}

func (s *SSHShell) clientConfig(user string) (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(s.keyPath())
	if err != nil {
		return nil, E(KindHandshakeFailure, fmt.Sprintf("reading ssh key %s", s.keyPath()), err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, E(KindHandshakeFailure, fmt.Sprintf("parsing ssh key %s", s.keyPath()), err)
	}
	hostKeyCallback, err := knownhosts.New(s.knownHostsPath())
	if err != nil {
		return nil, E(KindHandshakeFailure, fmt.Sprintf("loading known_hosts %s", s.knownHostsPath()), err)
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
	}, nil
}

// Start dials h over SSH, stages LocalBinary if configured, and runs
// the worker with env baked into the remote command line (sshd does
// not forward an arbitrary environment by default, so exporting
// variables ahead of the command is the portable approach).
func (s *SSHShell) Start(ctx context.Context, h Host, env map[string]string) (RemoteProcess, error) {
	user := h.sshUser("")
	cfg, err := s.clientConfig(user)
	if err != nil {
		return nil, err
	}
	client, err := s.dial(ctx, fmt.Sprintf("%s:%d", h.Addr, s.port()), cfg)
	if err != nil {
		return nil, err
	}

	if s.LocalBinary != "" {
		if err := s.stageBinary(ctx, client, h); err != nil {
			client.Close()
			return nil, err
		}
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, E(KindHandshakeFailure, err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, E(KindHandshakeFailure, err)
	}

	cmd := buildRemoteCommand(h.workingDir(""), env)
	if err := session.Start(cmd); err != nil {
		session.Close()
		client.Close()
		return nil, E(KindHandshakeFailure, err)
	}
	return &sshProcess{client: client, session: session, stderr: stderr}, nil
}

// dial retries a network-level ssh.Dial failure (host not yet
// listening, connection refused during boot) with backoff, giving up
// as soon as the context is done. Any other failure, such as a
// rejected key or a host key mismatch, is returned at once.
func (s *SSHShell) dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	for retries := 0; ; retries++ {
		client, err := ssh.Dial("tcp", addr, cfg)
		if err == nil {
			return client, nil
		}
		wrapped := E(KindHandshakeFailure, fmt.Sprintf("dialing %s", addr), err)
		var netErr net.Error
		if !errors.As(err, &netErr) || !IsTemporary(wrapped) {
			return nil, wrapped
		}
		if waitErr := retry.Wait(ctx, dialRetryPolicy, retries); waitErr != nil {
			return nil, wrapped
		}
	}
}

func (s *SSHShell) stageBinary(ctx context.Context, client *ssh.Client, h Host) error {
	scpClient, err := scp.NewClientBySSH(client)
	if err != nil {
		return E(KindHandshakeFailure, err)
	}
	defer scpClient.Close()
	f, err := os.Open(s.LocalBinary)
	if err != nil {
		return E(KindHandshakeFailure, err)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return E(KindHandshakeFailure, err)
	}
	dst := filepath.Join(h.workingDir(""), filepath.Base(s.LocalBinary))
	if err := scpClient.CopyPassThru(ctx, f, dst, "0755", stat.Size(), nil); err != nil {
		return E(KindHandshakeFailure, fmt.Sprintf("staging binary to %s", h.Addr), err)
	}
	return nil
}

// buildRemoteCommand renders "cd <dir> && K=V K2=V2 ./<exe>", with
// environment keys sorted for reproducible logging. The directory is
// always single-quoted; a value is single-quoted only when it is empty
// or contains a character the shell would interpret.
func buildRemoteCommand(dir string, env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var assigns []string
	for _, k := range keys {
		v := env[k]
		if v == "" || strings.ContainsAny(v, " \t\n'\"`$\\;&|<>()*?[]{}!#~") {
			v = shellQuote(v)
		}
		assigns = append(assigns, fmt.Sprintf("%s=%s", k, v))
	}
	exe := env["MPIGO_EXECUTABLE"]
	if exe == "" {
		exe = "./" + defaultWorkerExecutable
	}
	cmd := strings.Join(assigns, " ") + " " + exe
	if dir != "" {
		return fmt.Sprintf("cd %s && %s", shellQuote(dir), cmd)
	}
	return cmd
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

type sshProcess struct {
	client  *ssh.Client
	session *ssh.Session
	stderr  io.Reader
}

func (p *sshProcess) Stderr() io.Reader { return p.stderr }

func (p *sshProcess) Wait() error {
	err := p.session.Wait()
	p.client.Close()
	return err
}

func (p *sshProcess) Kill() error {
	return p.session.Signal(ssh.SIGKILL)
}

var _ RemoteShell = (*SSHShell)(nil)
