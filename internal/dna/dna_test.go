package dna

import (
	"bytes"
	"testing"
)

func TestEncodeKnownValue(t *testing.T) {
	got := Encode([]byte("ACGTACGT"))
	want := []byte{0x1B, 0x1B}
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode(ACGTACGT) = %x, want %x", got, want)
	}
}

func TestDecodeLowercases(t *testing.T) {
	packed := Encode([]byte("ACGTACGT"))
	got := Decode(packed, 8)
	want := []byte("acgtacgt")
	if !bytes.Equal(got, want) {
		t.Fatalf("Decode = %q, want %q", got, want)
	}
}

func TestRoundTripAndNonACGTMapsToA(t *testing.T) {
	in := []byte("acgtACGTnNxX")
	packed := Encode(in)
	out := Decode(packed, len(in))
	want := []byte("acgtacgtaaaa")
	if !bytes.Equal(out, want) {
		t.Fatalf("round trip = %q, want %q", out, want)
	}
}

func TestOddLength(t *testing.T) {
	in := []byte("ACG")
	packed := Encode(in)
	if len(packed) != 1 {
		t.Fatalf("expected 1 packed byte for 3 bases, got %d", len(packed))
	}
	out := Decode(packed, 3)
	if !bytes.Equal(out, []byte("acg")) {
		t.Fatalf("got %q", out)
	}
}
