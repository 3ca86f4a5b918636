// Package huffman implements the length-limited (<=12 bit) canonical
// Huffman codec used to compress per-line-type field tuples and list
// payloads in the ONE-code binary format.
package huffman

import (
	"encoding/binary"
	"math/bits"

	"github.com/vgp-tools/onecode/internal/bitio"
	"github.com/vgp-tools/onecode/internal/oerr"
)

// MaxCodeLen is the hard bound on code length the package-merge builder
// respects (spec: "maximum code length <= 12 bits").
const MaxCodeLen = 12

// State is the codec training lifecycle: EMPTY -> FILLED -> CODED_WITH
// (trained in this process) or directly CODED_READ (rebuilt from a
// deserialized footer blob).
type State int

const (
	Empty State = iota
	Filled
	CodedWith
	CodedRead
)

func (s State) String() string {
	switch s {
	case Empty:
		return "EMPTY"
	case Filled:
		return "FILLED"
	case CodedWith:
		return "CODED_WITH"
	case CodedRead:
		return "CODED_READ"
	default:
		return "?"
	}
}

type tableEntry struct {
	length uint8
	sym    byte
	isEsc  bool
}

// Codec is a single length-limited Huffman code over the 256-byte alphabet,
// with an optional escape code for bytes absent from training.
type Codec struct {
	state State
	hist  [256]uint64

	hasEscape bool
	escSym    byte
	escLen    uint8
	escCode   uint16

	lengths [256]uint8
	codes   [256]uint16
	table   []tableEntry // built lazily, size 1<<MaxCodeLen
}

// hostBig reports whether this process is running on a big-endian machine.
var hostBig = func() bool {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], 1)
	return b[0] == 0
}()

// New returns an untrained codec in state EMPTY.
func New() *Codec {
	return &Codec{state: Empty}
}

// AddSamples folds bytes into the training histogram. Illegal once the
// codec has a built or deserialized code.
func (c *Codec) AddSamples(b []byte) error {
	if c.state == CodedWith || c.state == CodedRead {
		return oerr.New(oerr.StateError, "huffman: AddSamples after code built")
	}
	for _, x := range b {
		c.hist[x]++
	}
	if c.state == Empty {
		c.state = Filled
	}
	return nil
}

// MergeHistogram adds another codec's training histogram into this one,
// used to combine per-shard histograms before a parallel-write commit.
func (c *Codec) MergeHistogram(other *Codec) error {
	if c.state == CodedWith || c.state == CodedRead {
		return oerr.New(oerr.StateError, "huffman: MergeHistogram after code built")
	}
	nonzero := false
	for i := range c.hist {
		c.hist[i] += other.hist[i]
		if c.hist[i] > 0 {
			nonzero = true
		}
	}
	if nonzero && c.state == Empty {
		c.state = Filled
	}
	return nil
}

// TrainedBytes reports the total sample count folded into the histogram so
// far, used by callers to decide when a training threshold is crossed.
func (c *Codec) TrainedBytes() uint64 {
	var total uint64
	for _, n := range c.hist {
		total += n
	}
	return total
}

// BuildCode constructs the canonical code from the accumulated histogram.
// If partial is set, a byte with zero trained frequency (or, failing that,
// the least-frequent trained byte) is reserved as an escape code that
// prefixes an uncompressed 8-bit literal for any untrained symbol.
func (c *Codec) BuildCode(partial bool) error {
	if c.state == CodedRead {
		return oerr.New(oerr.StateError, "huffman: BuildCode on a CODED_READ codec")
	}

	trained := make([]int, 0, 256)
	for b := 0; b < 256; b++ {
		if c.hist[b] > 0 {
			trained = append(trained, b)
		}
	}
	if len(trained) == 0 {
		return oerr.New(oerr.CodecError, "huffman: BuildCode with an empty histogram")
	}

	hasEscape := false
	var escSym byte
	var escFreq uint64
	if partial {
		hasEscape = true
		free := -1
		for b := 0; b < 256; b++ {
			if c.hist[b] == 0 {
				free = b
				break
			}
		}
		if free >= 0 {
			escSym = byte(free)
			escFreq = minFreq(c.hist[:])
			if escFreq == 0 {
				escFreq = 1
			}
		} else {
			// Every byte is trained: sacrifice the least-frequent one to
			// carry the escape code instead of its own.
			lo := trained[0]
			for _, b := range trained {
				if c.hist[b] < c.hist[lo] {
					lo = b
				}
			}
			escSym = byte(lo)
			escFreq = c.hist[lo]
			trained = remove(trained, lo)
		}
	}

	n := len(trained)
	if hasEscape {
		n++
	}
	weights := make([]uint64, n)
	for i, b := range trained {
		weights[i] = c.hist[b]
	}
	escIdx := -1
	if hasEscape {
		escIdx = len(trained)
		weights[escIdx] = escFreq
	}

	lens := packageMergeLengths(weights, MaxCodeLen)

	var lengths [256]uint8
	for i, b := range trained {
		lengths[b] = uint8(lens[i])
	}
	if hasEscape {
		lengths[escSym] = uint8(lens[escIdx])
	}

	codes := canonicalCodes(lengths[:])

	c.lengths = lengths
	c.codes = [256]uint16{}
	copy(c.codes[:], codes)
	c.hasEscape = hasEscape
	c.escSym = escSym
	c.escLen, c.escCode = 0, 0
	if hasEscape {
		c.escLen = lengths[escSym]
		c.escCode = c.codes[escSym]
	}
	c.state = CodedWith
	c.buildTable()
	return nil
}

func minFreq(hist []uint64) uint64 {
	var m uint64 = ^uint64(0)
	for _, h := range hist {
		if h > 0 && h < m {
			m = h
		}
	}
	if m == ^uint64(0) {
		return 0
	}
	return m
}

func remove(s []int, v int) []int {
	out := s[:0:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func (c *Codec) buildTable() {
	c.table = make([]tableEntry, 1<<MaxCodeLen)
	for sym := 0; sym < 256; sym++ {
		l := c.lengths[sym]
		if l == 0 {
			continue
		}
		c.fillTable(c.codes[sym], l, byte(sym), c.hasEscape && byte(sym) == c.escSym)
	}
}

func (c *Codec) fillTable(code uint16, length uint8, sym byte, isEsc bool) {
	shift := MaxCodeLen - int(length)
	start := int(code) << uint(shift)
	count := 1 << uint(shift)
	for i := 0; i < count; i++ {
		c.table[start+i] = tableEntry{length: length, sym: sym, isEsc: isEsc}
	}
}

// State reports the codec's lifecycle state.
func (c *Codec) State() State { return c.state }

// Serialize writes machine-endian byte, escape symbol, escape length, then
// for each of the 256 symbols its code length and (if nonzero, or if it is
// the escape symbol) its 16-bit code word.
func (c *Codec) Serialize() ([]byte, error) {
	if c.state != CodedWith && c.state != CodedRead {
		return nil, oerr.New(oerr.StateError, "huffman: Serialize before a code exists")
	}
	buf := make([]byte, 0, 257+2+2+256*2)
	if hostBig {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, c.escSym, c.escLen)
	for sym := 0; sym < 256; sym++ {
		buf = append(buf, c.lengths[sym])
		if c.lengths[sym] > 0 || (c.hasEscape && byte(sym) == c.escSym) {
			var cw [2]byte
			binary.NativeEndian.PutUint16(cw[:], c.codes[sym])
			buf = append(buf, cw[:]...)
		}
	}
	return buf, nil
}

// Deserialize rebuilds a codec directly into state CODED_READ from a blob
// produced by Serialize, byte-flipping code words if the recorded producer
// endianness differs from this machine's.
func Deserialize(buf []byte) (*Codec, error) {
	if len(buf) < 3 {
		return nil, oerr.New(oerr.CodecError, "huffman: truncated serialized codec")
	}
	serializedBig := buf[0] == 1
	c := &Codec{state: CodedRead}
	c.escSym = buf[1]
	c.escLen = buf[2]
	c.hasEscape = c.escLen > 0
	pos := 3
	for sym := 0; sym < 256; sym++ {
		if pos >= len(buf) {
			return nil, oerr.New(oerr.CodecError, "huffman: truncated serialized codec")
		}
		length := buf[pos]
		pos++
		c.lengths[sym] = length
		if length > 0 || (c.hasEscape && byte(sym) == c.escSym) {
			if pos+2 > len(buf) {
				return nil, oerr.New(oerr.CodecError, "huffman: truncated serialized codec")
			}
			cw := binary.NativeEndian.Uint16(buf[pos : pos+2])
			if serializedBig != hostBig {
				cw = bits.ReverseBytes16(cw)
			}
			c.codes[sym] = cw
			pos += 2
		}
	}
	if c.hasEscape {
		c.escCode = c.codes[c.escSym]
	}
	c.buildTable()
	return c, nil
}

// SerializedSize is the maximum byte size of a Serialize blob: machine byte,
// escape symbol, escape length, plus up to 256 (length, codeword) entries.
const SerializedSize = 1 + 2 + 256*(1+2)

// EncodeBuffer compresses in. If the projected compressed length would not
// be shorter than the uncompressed input, it aborts and returns the
// original bytes prefixed with the 0xFF verbatim marker instead.
func (c *Codec) EncodeBuffer(in []byte) (payload []byte, nBits int, err error) {
	if c.table == nil {
		return nil, 0, oerr.New(oerr.StateError, "huffman: Encode before BuildCode/Deserialize")
	}

	projected := 0
	for _, b := range in {
		if c.lengths[b] > 0 {
			projected += int(c.lengths[b])
		} else if c.hasEscape {
			projected += int(c.escLen) + 8
		} else {
			return nil, 0, oerr.New(oerr.CodecError, "huffman: no code and no escape for a trained-absent byte")
		}
	}

	if projected >= len(in)*8 {
		out := make([]byte, 0, 1+len(in))
		out = append(out, 0xFF)
		out = append(out, in...)
		return out, 8 + 8*len(in), nil
	}

	w := bitio.NewWriter()
	for _, b := range in {
		if c.lengths[b] > 0 {
			w.WriteBits(uint32(c.codes[b]), int(c.lengths[b]))
		} else {
			w.WriteBits(uint32(c.escCode), int(c.escLen))
			w.WriteBits(uint32(b), 8)
		}
	}
	buf, n := w.Bytes()
	return buf, n, nil
}

// DecodeBuffer decodes exactly outLen bytes from payload/nBits, recognising
// the 0xFF verbatim-abort marker written by EncodeBuffer.
func (c *Codec) DecodeBuffer(payload []byte, nBits int, outLen int) ([]byte, error) {
	if c.table == nil {
		return nil, oerr.New(oerr.StateError, "huffman: Decode before BuildCode/Deserialize")
	}
	if nBits == 8+8*outLen && len(payload) >= 1 && payload[0] == 0xFF {
		if len(payload) < 1+outLen {
			return nil, oerr.New(oerr.BinaryError, "huffman: truncated verbatim payload")
		}
		out := make([]byte, outLen)
		copy(out, payload[1:1+outLen])
		return out, nil
	}

	r := bitio.NewReader(payload, nBits)
	out := make([]byte, 0, outLen)
	for len(out) < outLen {
		sym, isEsc, ok := c.decodeOne(r)
		if !ok {
			return nil, oerr.New(oerr.BinaryError, "huffman: bitstream exhausted before outLen bytes decoded")
		}
		if isEsc {
			lit, ok2 := r.ReadBits(8)
			if !ok2 {
				return nil, oerr.New(oerr.BinaryError, "huffman: truncated escape literal")
			}
			out = append(out, byte(lit))
		} else {
			out = append(out, sym)
		}
	}
	return out, nil
}

func (c *Codec) decodeOne(r *bitio.Reader) (sym byte, isEsc bool, ok bool) {
	if r.Remaining() == 0 {
		return 0, false, false
	}
	idx := r.Peek16() >> (16 - MaxCodeLen)
	e := c.table[idx]
	if e.length == 0 {
		return 0, false, false
	}
	r.Skip(int(e.length))
	return e.sym, e.isEsc, true
}
