package blockcache

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"testing"
)

func TestBlockCache(t *testing.T) {
	type span struct{ offset, len int }
	spans := []span{
		{0, 1},
		{0, 3},
		{50, 10},
		{50, 30},
		{200, 55},
		{200, 56},
	}

	const expectlen = 255

	store, err := NewStore(16)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	for n, span := range spans {
		t.Run(fmt.Sprintf("span%d_%v", n, span), func(t *testing.T) {
			r := New(startIrreg(), expectlen, fmt.Sprintf("irregular-%d", n), store)
			bin := make([]byte, span.len)
			got, err := r.ReadAt(bin, int64(span.offset))

			expectn := min(span.len, expectlen-span.offset)
			if expectn != got {
				t.Errorf("expected to read %d bytes at offset %d, got %d", expectn, span.offset, got)
			}

			var expecterr error
			if span.offset+span.len >= expectlen {
				expecterr = io.EOF
			}
			if expecterr != err {
				t.Errorf("expected err %v at offset %d, got %v", expecterr, span.offset, err)
			}

			expectbin := make([]byte, got)
			for i := range expectbin {
				expectbin[i] = byte(span.offset + i)
			}
			if !bytes.Equal(expectbin, bin[:got]) {
				t.Errorf("expected %s at offset %d, got %s",
					hex.EncodeToString(expectbin), span.offset, hex.EncodeToString(bin[:got]))
			}
		})
	}
}

func TestBlockCacheReusesDecodedBlocks(t *testing.T) {
	store, err := NewStore(16)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	r := New(startIrreg(), expectLenConst, "reuse", store)

	first := make([]byte, 10)
	if _, err := r.ReadAt(first, 0); err != nil && err != io.EOF {
		t.Fatalf("first ReadAt: %v", err)
	}
	second := make([]byte, 10)
	if _, err := r.ReadAt(second, 0); err != nil && err != io.EOF {
		t.Fatalf("second ReadAt: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("expected repeated reads of the same region to agree: %x vs %x", first, second)
	}
}

const expectLenConst = 255

// startIrreg steps through bytes 0..254, breaking blocks at primes, the same
// irregular chunking shape used to exercise multi-checkpoint boundaries.
func startIrreg() Stepper {
	return func() (Stepper, []byte, error) { return stepIrreg(0) }
}

func stepIrreg(s int) (Stepper, []byte, error) {
	var ret []byte
	for {
		ret = append(ret, byte(s))

		isPrime := true
		for fac := 2; ; fac++ {
			if s%fac == 0 {
				isPrime = false
				break
			} else if fac*fac > s {
				break
			}
		}
		s++

		stepper := func() (Stepper, []byte, error) { return stepIrreg(s) }
		if s == 255 {
			return stepper, ret, io.EOF
		} else if isPrime {
			return stepper, ret, nil
		}
	}
}
