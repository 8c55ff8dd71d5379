package kernel

import "testing"

type fixture struct {
	A int
	B string
}

func TestEncodeDecodeArgsRoundTrip(t *testing.T) {
	blob, err := encodeArgs(fixture{A: 1, B: "x"})
	if err != nil {
		t.Fatal(err)
	}
	var got fixture
	if err := decodeArgs(blob, &got); err != nil {
		t.Fatal(err)
	}
	if got.A != 1 || got.B != "x" {
		t.Errorf("got %+v", got)
	}
}

func TestDecodeArgsRejectsGarbage(t *testing.T) {
	var got fixture
	if err := decodeArgs([]byte("not a gob stream"), &got); err == nil {
		t.Error("expected decodeArgs to reject a non-gob blob")
	}
}

func TestDispatchRejectsUnknownKernel(t *testing.T) {
	if _, ok := Lookup("no-such-kernel"); ok {
		t.Error("expected Lookup to report no such kernel registered")
	}
}

func TestRegisterPanicsOnDuplicateName(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected Register to panic on a duplicate name")
		}
	}()
	Register("prime", primeFunc)
}
