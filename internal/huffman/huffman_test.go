package huffman

import (
	"bytes"
	"math/rand"
	"testing"
)

func trainedCodec(t *testing.T, sample []byte, partial bool) *Codec {
	t.Helper()
	c := New()
	if err := c.AddSamples(sample); err != nil {
		t.Fatalf("AddSamples: %v", err)
	}
	if err := c.BuildCode(partial); err != nil {
		t.Fatalf("BuildCode: %v", err)
	}
	return c
}

func TestRoundTrip(t *testing.T) {
	sample := []byte("the quick brown fox jumps over the lazy dog the quick brown fox")
	c := trainedCodec(t, sample, false)

	payload, nbits, err := c.EncodeBuffer(sample)
	if err != nil {
		t.Fatalf("EncodeBuffer: %v", err)
	}
	out, err := c.DecodeBuffer(payload, nbits, len(sample))
	if err != nil {
		t.Fatalf("DecodeBuffer: %v", err)
	}
	if !bytes.Equal(out, sample) {
		t.Fatalf("round trip mismatch: got %q want %q", out, sample)
	}
}

func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	hist := make([]byte, 0, 5000)
	for i := 0; i < 5000; i++ {
		// skewed distribution so the Huffman code is non-trivial
		v := rng.Intn(100)
		switch {
		case v < 50:
			hist = append(hist, 'a')
		case v < 75:
			hist = append(hist, 'b')
		case v < 90:
			hist = append(hist, byte(rng.Intn(26)+'c'))
		default:
			hist = append(hist, byte(rng.Intn(256)))
		}
	}
	c := trainedCodec(t, hist, true)

	msg := hist[:200]
	payload, nbits, err := c.EncodeBuffer(msg)
	if err != nil {
		t.Fatalf("EncodeBuffer: %v", err)
	}
	out, err := c.DecodeBuffer(payload, nbits, len(msg))
	if err != nil {
		t.Fatalf("DecodeBuffer: %v", err)
	}
	if !bytes.Equal(out, msg) {
		t.Fatalf("round trip mismatch")
	}
}

func TestEscapeForUntrainedByte(t *testing.T) {
	c := trainedCodec(t, []byte("aaaaaaaaaabbbbbbbbbbcccccccccc"), true)
	msg := []byte{'a', 'b', 'c', 0xEE, 'a'}
	payload, nbits, err := c.EncodeBuffer(msg)
	if err != nil {
		t.Fatalf("EncodeBuffer: %v", err)
	}
	out, err := c.DecodeBuffer(payload, nbits, len(msg))
	if err != nil {
		t.Fatalf("DecodeBuffer: %v", err)
	}
	if !bytes.Equal(out, msg) {
		t.Fatalf("round trip with escape mismatch: got %v want %v", out, msg)
	}
}

func TestAbortToVerbatimOnIncompressibleInput(t *testing.T) {
	// Train on a single repeated byte so any other byte falls back to the
	// escape path, inflating the projected size past the raw size.
	c := trainedCodec(t, bytes.Repeat([]byte{'z'}, 1000), true)
	msg := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	payload, nbits, err := c.EncodeBuffer(msg)
	if err != nil {
		t.Fatalf("EncodeBuffer: %v", err)
	}
	if payload[0] != 0xFF {
		t.Fatalf("expected verbatim marker, got payload[0]=%#x", payload[0])
	}
	out, err := c.DecodeBuffer(payload, nbits, len(msg))
	if err != nil {
		t.Fatalf("DecodeBuffer: %v", err)
	}
	if !bytes.Equal(out, msg) {
		t.Fatalf("verbatim round trip mismatch")
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	sample := bytes.Repeat([]byte("mississippi river"), 20)
	c := trainedCodec(t, sample, true)

	blob, err := c.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if len(blob) > SerializedSize {
		t.Fatalf("serialized size %d exceeds bound %d", len(blob), SerializedSize)
	}

	c2, err := Deserialize(blob)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if c2.State() != CodedRead {
		t.Fatalf("expected CODED_READ, got %v", c2.State())
	}

	payload, nbits, err := c.EncodeBuffer(sample)
	if err != nil {
		t.Fatalf("EncodeBuffer: %v", err)
	}
	out, err := c2.DecodeBuffer(payload, nbits, len(sample))
	if err != nil {
		t.Fatalf("DecodeBuffer after deserialize: %v", err)
	}
	if !bytes.Equal(out, sample) {
		t.Fatalf("deserialized codec round trip mismatch")
	}
}

func TestSerializeDeserializeAcrossEndian(t *testing.T) {
	sample := bytes.Repeat([]byte("ACGTACGTNNNN"), 30)
	c := trainedCodec(t, sample, false)

	blob, err := c.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	// Flip the recorded machine-endian marker to simulate reading a blob
	// produced on a different-endian machine, and byte-swap the 16-bit
	// code words to match what such a machine would have written.
	flipped := append([]byte(nil), blob...)
	flipped[0] ^= 1
	pos := 3
	for sym := 0; sym < 256; sym++ {
		length := flipped[pos]
		pos++
		if length > 0 || (c.hasEscape && byte(sym) == c.escSym) {
			flipped[pos], flipped[pos+1] = flipped[pos+1], flipped[pos]
			pos += 2
		}
	}

	c2, err := Deserialize(flipped)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	payload, nbits, err := c.EncodeBuffer(sample)
	if err != nil {
		t.Fatalf("EncodeBuffer: %v", err)
	}
	out, err := c2.DecodeBuffer(payload, nbits, len(sample))
	if err != nil {
		t.Fatalf("DecodeBuffer across endian: %v", err)
	}
	if !bytes.Equal(out, sample) {
		t.Fatalf("endian-crossing round trip mismatch")
	}
}

func TestMaxCodeLenRespected(t *testing.T) {
	// A Zipf-like histogram with a very long tail tends to produce deep
	// trees in an unconstrained Huffman build; confirm the limiter holds.
	hist := make([]byte, 0, 100000)
	for b := 0; b < 256; b++ {
		n := 100000 / (b + 1)
		for i := 0; i < n && len(hist) < 100000; i++ {
			hist = append(hist, byte(b))
		}
	}
	c := trainedCodec(t, hist, false)
	for sym, l := range c.lengths {
		if l > MaxCodeLen {
			t.Fatalf("symbol %d has length %d, exceeds MaxCodeLen %d", sym, l, MaxCodeLen)
		}
	}
}

func TestMergeHistogram(t *testing.T) {
	a := New()
	a.AddSamples([]byte("aaaa"))
	b := New()
	b.AddSamples([]byte("bbbb"))
	if err := a.MergeHistogram(b); err != nil {
		t.Fatalf("MergeHistogram: %v", err)
	}
	if a.hist['a'] != 4 || a.hist['b'] != 4 {
		t.Fatalf("unexpected merged histogram: a=%d b=%d", a.hist['a'], a.hist['b'])
	}
}
