package mpigo

import (
	"context"
	"os/exec"
	"testing"
)

func TestLocalProcessKillBeforeStartIsNoop(t *testing.T) {
	p := &localProcess{cmd: exec.Command("true")}
	if err := p.Kill(); err != nil {
		t.Errorf("got %v, want nil", err)
	}
}

func TestLocalShellStartUsesExecutableOverride(t *testing.T) {
	s := &LocalShell{Executable: "true"}
	proc, err := s.Start(context.Background(), Host{}, map[string]string{"MPIGO_MODE": "worker"})
	if err != nil {
		t.Fatal(err)
	}
	if proc.Stderr() == nil {
		t.Error("expected a non-nil stderr reader")
	}
	if err := proc.Wait(); err != nil {
		t.Errorf("got %v, want nil", err)
	}
}

func TestLocalShellKillTerminatesRunningProcess(t *testing.T) {
	s := &LocalShell{Executable: "yes"}
	proc, err := s.Start(context.Background(), Host{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := proc.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if err := proc.Wait(); err == nil {
		t.Error("expected Wait to report the killed process's exit status")
	}
}
