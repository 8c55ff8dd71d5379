package mpigo

import (
	"net"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clusterrun/mpigo/wire"
)

func TestStatusHandlerNoJobRunning(t *testing.T) {
	l := &Launcher{}
	h := NewStatusHandler(l)

	req := httptest.NewRequest("GET", "/debug/mpigo/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Body.String(); strings.TrimSpace(got) != "no job running" {
		t.Errorf("got %q, want %q", got, "no job running")
	}
}

func TestStatusHandlerReportsRunningJob(t *testing.T) {
	l := &Launcher{}
	links := map[int]*wire.Link{}
	comm := newCommunicator(0, 2, links, 0, newCancelFlag())

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	links[1] = wire.New(a, 0, func(*wire.Envelope) {})
	defer links[1].Close()

	l.current.Store(&jobHandle{jobID: "job-xyz", comm: comm, launcher: l})

	h := NewStatusHandler(l)
	req := httptest.NewRequest("GET", "/debug/mpigo/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "job-xyz") {
		t.Errorf("got %q, want it to contain the job id", body)
	}
	if !strings.Contains(body, "rank 1") {
		t.Errorf("got %q, want it to mention rank 1", body)
	}
}
