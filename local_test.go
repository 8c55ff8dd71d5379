package mpigo

import (
	"context"
	"testing"

	"github.com/clusterrun/mpigo/wire"
)

func TestLocalCommSizeAndRank(t *testing.T) {
	c := NewLocalComm()
	if c.Size() != 1 {
		t.Errorf("got size %d, want 1", c.Size())
	}
	if c.Rank() != 0 {
		t.Errorf("got rank %d, want 0", c.Rank())
	}
}

func TestLocalCommSendRecvFail(t *testing.T) {
	c := NewLocalComm()
	ctx := context.Background()
	if err := c.Send(ctx, 0, wire.ScalarPayload(int64(1))); err == nil {
		t.Error("expected Send to fail on the local fallback")
	}
	if _, err := c.Recv(ctx, 0); err == nil {
		t.Error("expected Recv to fail on the local fallback")
	}
}

func TestLocalCommCollectivesAreIdentity(t *testing.T) {
	c := NewLocalComm()
	ctx := context.Background()

	p, err := c.Bcast(ctx, 0, wire.ScalarPayload(int64(5)))
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := p.Scalar.(int64); v != 5 {
		t.Errorf("got %v, want scalar 5", p)
	}

	scattered, err := c.Scatter(ctx, 0, []wire.Payload{wire.ScalarPayload(int64(9))})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := scattered.Scalar.(int64); v != 9 {
		t.Errorf("got %v, want scalar 9", scattered)
	}

	gathered, err := c.Gather(ctx, 0, wire.ScalarPayload(int64(3)))
	if err != nil {
		t.Fatal(err)
	}
	if len(gathered) != 1 {
		t.Fatalf("got %d results, want 1", len(gathered))
	}

	reduced, err := c.Reduce(ctx, 0, wire.ScalarPayload(int64(4)), ReduceSum)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := reduced.Scalar.(int64); v != 4 {
		t.Errorf("got %v, want scalar 4", reduced)
	}

	if err := c.Barrier(ctx); err != nil {
		t.Errorf("got %v, want no error", err)
	}
}

func TestLocalCommRejectsNonZeroRoot(t *testing.T) {
	c := NewLocalComm()
	ctx := context.Background()
	if _, err := c.Bcast(ctx, 1, wire.Payload{}); !Is(KindCollectiveMismatch, err) {
		t.Errorf("got %v, want collective_mismatch", err)
	}
}

func TestLocalCommCancellation(t *testing.T) {
	c := NewLocalComm()
	if c.CancellationRequested() {
		t.Fatal("fresh LocalComm should not be cancelled")
	}
	c.RequestCancellation()
	if !c.CancellationRequested() {
		t.Error("RequestCancellation should set the flag")
	}
}
