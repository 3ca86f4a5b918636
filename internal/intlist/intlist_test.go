package intlist

import (
	"math"
	"reflect"
	"testing"
)

func TestPackUnpackDiffExample(t *testing.T) {
	// S4: [100, 200, 300] with isDiff=true becomes [100, 100, 100], all fit
	// in 1 byte, z=7, packed payload is 3 bytes.
	in := []int64{100, 200, 300}
	packed, z := Pack(in, true, true)
	if z != 7 {
		t.Fatalf("z = %d, want 7", z)
	}
	if len(packed) != 3 {
		t.Fatalf("packed len = %d, want 3", len(packed))
	}
	out := Unpack(packed, len(in), z, true, true)
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("Unpack = %v, want %v", out, in)
	}
}

func TestRoundTripNoDiff(t *testing.T) {
	in := []int64{-5, 0, 5, 1000000, -1000000, 127, -128}
	for _, big := range []bool{true, false} {
		packed, z := Pack(in, false, big)
		out := Unpack(packed, len(in), z, false, big)
		if !reflect.DeepEqual(out, in) {
			t.Fatalf("big=%v: Unpack = %v, want %v", big, out, in)
		}
	}
}

func TestRoundTripWithDiffNegatives(t *testing.T) {
	in := []int64{10, 3, -7, -7, 1000, -1000, 0}
	for _, big := range []bool{true, false} {
		packed, z := Pack(in, true, big)
		out := Unpack(packed, len(in), z, true, big)
		if !reflect.DeepEqual(out, in) {
			t.Fatalf("big=%v: Unpack = %v, want %v", big, out, in)
		}
	}
}

func TestFullWidthWhenUnpackable(t *testing.T) {
	in := []int64{math.MaxInt64, math.MinInt64, 0}
	packed, z := Pack(in, false, true)
	if z != 0 {
		t.Fatalf("z = %d, want 0 for a list needing the full width", z)
	}
	if len(packed) != 8*len(in) {
		t.Fatalf("packed len = %d, want %d", len(packed), 8*len(in))
	}
	out := Unpack(packed, len(in), z, false, true)
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("Unpack = %v, want %v", out, in)
	}
}

func TestAllZero(t *testing.T) {
	in := []int64{0, 0, 0, 0}
	packed, z := Pack(in, false, false)
	if z != 7 {
		t.Fatalf("z = %d, want 7", z)
	}
	out := Unpack(packed, len(in), z, false, false)
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("Unpack = %v, want %v", out, in)
	}
}
