package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// MaxFrameSize is the largest permissible frame payload, 2^31-1
// bytes (the four-byte prefix itself could express up to 2^32-1);
// oversize frames cause a fatal link error.
const MaxFrameSize = 1<<31 - 1

func init() {
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(string(""))
	gob.Register(false)
	gob.Register(Hello{})
	gob.Register(JobDescriptor{})
	gob.Register(Fail{})
}

// FrameWriter writes length-prefixed frames to an underlying stream.
// It is not safe for concurrent use; Link serializes writes onto it
// from a single dedicated goroutine so a frame is always either fully
// written or not written at all.
type FrameWriter struct {
	w   *bufio.Writer
	buf [4]byte
}

// NewFrameWriter wraps w for framed output.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: bufio.NewWriter(w)}
}

// WriteFrame writes one length-prefixed frame containing p.
func (fw *FrameWriter) WriteFrame(p []byte) error {
	if len(p) > MaxFrameSize {
		return fmt.Errorf("wire: frame of %d bytes exceeds maximum %d", len(p), MaxFrameSize)
	}
	binary.BigEndian.PutUint32(fw.buf[:], uint32(len(p)))
	if _, err := fw.w.Write(fw.buf[:]); err != nil {
		return err
	}
	if _, err := fw.w.Write(p); err != nil {
		return err
	}
	return fw.w.Flush()
}

// WriteEnvelope gob-encodes env and writes it as one frame.
func (fw *FrameWriter) WriteEnvelope(env *Envelope) error {
	var buf ownedBuffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return fmt.Errorf("wire: encode envelope: %w", err)
	}
	return fw.WriteFrame(buf.b)
}

// FrameReader reads length-prefixed frames from an underlying stream.
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps r for framed input.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// ReadFrame reads and returns the next frame's payload bytes.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(fr.r, lenbuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenbuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds maximum %d", n, MaxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadEnvelope reads one frame and gob-decodes it as an Envelope. It
// reports only framing and decode errors: an unrecognized Kind is not
// one, since Kind is a plain uint8 and gob decodes any value into it,
// so rejecting it as protocol_violation is the caller's job (see
// ValidKind).
func (fr *FrameReader) ReadEnvelope() (*Envelope, error) {
	buf, err := fr.ReadFrame()
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&env); err != nil {
		return nil, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return &env, nil
}

// ValidKind reports whether k is one of the enumerated envelope
// kinds. Any other value read off the wire is a protocol violation.
func ValidKind(k Kind) bool {
	return k >= KindHello && k <= KindRouted
}

// ownedBuffer is a tiny io.Writer that avoids pulling in bytes.Buffer
// just to grow a byte slice.
type ownedBuffer struct{ b []byte }

func (o *ownedBuffer) Write(p []byte) (int, error) {
	o.b = append(o.b, p...)
	return len(p), nil
}
