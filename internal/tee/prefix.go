// Package tee implements I/O multiplexing utilities used to attribute
// launcher output: the master captures each worker's stderr stream,
// prefixes it by rank, and fans it out to the operator's own log
// while retaining a bounded tail for diagnostic attribution if the
// worker later reports FAIL.
package tee

import (
	"bytes"
	"io"
	"sync"
)

const bufferSize = 512 << 10

var newline = []byte{'\n'}

// prefixWriter is an io.Writer that emits a prefix at the start of
// each line it forwards.
type prefixWriter struct {
	w          io.Writer
	prefix     string
	needPrefix bool
}

// PrefixWriter returns a new io.Writer that copies its writes to w,
// prefixing every line with prefix. The launcher uses this to
// attribute captured remote-shell stderr to the host it came from
// when fanning diagnostic output out to the operator.
func PrefixWriter(w io.Writer, prefix string) io.Writer {
	return &prefixWriter{w: w, prefix: prefix, needPrefix: true}
}

func (w *prefixWriter) Write(p []byte) (n int, err error) {
	if w.needPrefix {
		if _, err := io.WriteString(w.w, w.prefix); err != nil {
			return 0, err
		}
		w.needPrefix = false
	}
	for {
		i := bytes.Index(p, newline)
		switch i {
		case len(p) - 1:
			w.needPrefix = true
			fallthrough
		case -1:
			m, err := w.w.Write(p)
			return n + m, err
		default:
			m, err := w.w.Write(p[:i+1])
			n += m
			if err != nil {
				return n, err
			}
			if _, err := io.WriteString(w.w, w.prefix); err != nil {
				return n, err
			}
			p = p[i+1:]
		}
	}
}

// Writer fans a worker's captured stderr out to exactly the two
// sinks the launcher needs per worker: live, written asynchronously
// so a stalled operator terminal never blocks the goroutine copying
// the worker's pipe, and a bounded in-memory tail retained so a
// FAIL report can be attributed to whatever the worker last printed.
// A general n-way multiplexer would be the wrong shape here — the
// launcher only ever has these two sinks, one per worker, for the
// life of a job.
type Writer struct {
	live io.Writer
	c    chan *bytes.Buffer
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	tail bytes.Buffer
}

// NewWriter returns a Writer that forwards writes to live in the
// background and retains the most recent bufferSize bytes for Tail.
// The caller must call Close once live is no longer needed.
func NewWriter(live io.Writer) *Writer {
	w := &Writer{live: live, c: make(chan *bytes.Buffer, 1), done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-w.done:
				return
			case buf := <-w.c:
				if _, err := io.Copy(w.live, buf); err != nil {
					w.Close()
					return
				}
			}
		}
	}()
	return w
}

// Close stops forwarding writes to live. Write keeps updating Tail
// after Close; this only matters for the in-flight write, if any.
func (w *Writer) Close() {
	w.once.Do(func() { close(w.done) })
}

// Write appends p to the tail buffer, discarding the oldest bytes
// once it exceeds bufferSize, and queues p for the live sink. Write
// is asynchronous toward live and always returns len(p), nil.
func (w *Writer) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	if extra := w.tail.Len() + len(p) - bufferSize; extra > 0 {
		w.tail.Next(extra)
	}
	w.tail.Write(p)
	w.mu.Unlock()

	var buf *bytes.Buffer
	select {
	case buf = <-w.c:
	default:
		buf = new(bytes.Buffer)
	}
	if extra := buf.Len() + len(p) - bufferSize; extra > 0 {
		buf.Next(extra)
	}
	buf.Write(p)
	select {
	case w.c <- buf:
	case <-w.done:
	}
	return len(p), nil
}

// Tail returns a copy of the most recent bufferSize bytes written,
// for attributing a worker's FAIL to what it printed just before it
// failed.
func (w *Writer) Tail() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.tail.Bytes()...)
}
