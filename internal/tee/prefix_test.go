package tee

import (
	"io"
	"sync"
	"testing"
	"time"
)

func write(t *testing.T, w io.Writer, p string) {
	t.Helper()
	if _, err := io.WriteString(w, p); err != nil {
		t.Fatal(err)
	}
}

type writeRecorder struct {
	mu   sync.Mutex
	data []byte
}

func (r *writeRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, p...)
	return len(p), nil
}

func (r *writeRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.data)
}

func TestPrefixWriter(t *testing.T) {
	var buf writeRecorder
	pw := PrefixWriter(&buf, "w1: ")
	write(t, pw, "line one\nline two\n")
	write(t, pw, "line three")
	want := "w1: line one\nw1: line two\nw1: line three"
	if got := buf.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestWriterForwardsToLive(t *testing.T) {
	var live writeRecorder
	w := NewWriter(&live)
	defer w.Close()

	write(t, w, "hello, world")
	write(t, w, "hi there")

	deadline := time.After(time.Second)
	for live.String() != "hello, worldhi there" {
		select {
		case <-deadline:
			t.Fatalf("got %q, want %q", live.String(), "hello, worldhi there")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestWriterTailRetainsRecentBytes(t *testing.T) {
	var live writeRecorder
	w := NewWriter(&live)
	defer w.Close()

	write(t, w, "first line\n")
	write(t, w, "panic: kaboom\n")

	if got := string(w.Tail()); got != "first line\npanic: kaboom\n" {
		t.Errorf("got %q", got)
	}
}

func TestWriterTailDiscardsOldestBeyondBufferSize(t *testing.T) {
	var live writeRecorder
	w := NewWriter(&live)
	defer w.Close()

	filler := make([]byte, bufferSize)
	for i := range filler {
		filler[i] = 'a'
	}
	write(t, w, string(filler))
	write(t, w, "tail marker")

	tail := w.Tail()
	if len(tail) != bufferSize {
		t.Fatalf("got tail length %d, want %d", len(tail), bufferSize)
	}
	if got := string(tail[len(tail)-len("tail marker"):]); got != "tail marker" {
		t.Errorf("got %q at the end of the tail, want %q", got, "tail marker")
	}
}

func TestWriterCloseStopsForwarding(t *testing.T) {
	var live writeRecorder
	w := NewWriter(&live)
	w.Close()

	write(t, w, "after close")

	// Tail still tracks writes after Close; only the live forwarding
	// goroutine has stopped.
	if got := string(w.Tail()); got != "after close" {
		t.Errorf("got %q, want %q", got, "after close")
	}
}
