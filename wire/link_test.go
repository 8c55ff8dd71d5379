package wire

import (
	"net"
	"testing"
	"time"
)

func TestLinkSendReceive(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	received := make(chan *Envelope, 4)
	bLink := New(b, 0, func(env *Envelope) { received <- env })
	defer bLink.Close()

	aLink := New(a, 0, func(*Envelope) {})
	defer aLink.Close()

	want := &Envelope{Kind: KindData, From: 0, To: 1, Seq: 0, Payload: ScalarPayload(int64(7))}
	if err := aLink.Send(want); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-received:
		if got.Kind != want.Kind || got.From != want.From || got.To != want.To {
			t.Errorf("got %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestLinkStateAfterClose(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	link := New(a, 0, func(*Envelope) {})
	if got, want := link.State(), Open; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if err := link.Close(); err != nil {
		t.Fatal(err)
	}
	if got, want := link.State(), Closed; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := link.Send(&Envelope{Kind: KindData}); err == nil {
		t.Error("expected Send on a closed link to fail")
	}
}

func TestLinkBreaksOnPeerClose(t *testing.T) {
	a, b := net.Pipe()
	link := New(a, 0, func(*Envelope) {})
	defer link.Close()

	b.Close()
	select {
	case <-link.Done():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the link to observe the broken peer")
	}
	if got, want := link.State(), Broken; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if link.Err() == nil {
		t.Error("expected a non-nil error after the peer closed")
	}
}

func TestLinkRejectsUnknownKind(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()

	link := New(b, 0, func(*Envelope) {})
	defer link.Close()

	fw := NewFrameWriter(a)
	if err := fw.WriteEnvelope(&Envelope{Kind: Kind(99), From: 1, To: 0}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-link.Done():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the link to reject the unknown kind")
	}
	if got, want := link.State(), Broken; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestWrapContinuesAfterSynchronousHandshake(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	fr := NewFrameReader(b)
	fw := NewFrameWriter(b)
	afw := NewFrameWriter(a)

	go afw.WriteEnvelope(&Envelope{Kind: KindHello, From: 1, To: 0})
	first, err := fr.ReadEnvelope()
	if err != nil {
		t.Fatal(err)
	}
	if first.Kind != KindHello {
		t.Fatalf("got %v, want HELLO", first.Kind)
	}

	received := make(chan *Envelope, 1)
	link := Wrap(b, fr, fw, 0, func(env *Envelope) { received <- env })
	defer link.Close()

	go afw.WriteEnvelope(&Envelope{Kind: KindData, From: 1, To: 0, Payload: ScalarPayload(int64(1))})

	select {
	case got := <-received:
		if got.Kind != KindData {
			t.Errorf("got %v, want DATA", got.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the post-handshake frame to arrive through the same reader")
	}
}
