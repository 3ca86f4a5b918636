// Package record implements the RecordCodec: parsing and writing one ASCII
// line, and reading and writing one binary line, against a schema.FileType.
// It owns no file-level state (counters, indices, footers) -- that lives one
// layer up, in the onecode package -- but it does own the per-LineType
// Huffman codecs and list buffers that the binary path trains and uses.
package record

import (
	"github.com/vgp-tools/onecode/internal/huffman"
	"github.com/vgp-tools/onecode/internal/schema"
)

// Field holds one scalar value. Which union member is meaningful is
// determined by the owning LineSpec's FieldKind at the same position:
// Int for INT/CHAR(as a byte)/the length of a list-bearing field, Real for
// REAL. CHAR fields store the character in the low byte of Int.
type Field struct {
	Int  int64
	Real float64
}

// Line is one decoded record, ready for either ASCII or binary re-encoding.
type Line struct {
	Code     byte
	Fields   []Field
	Str      []byte
	IntList  []int64
	RealList []float64
	StrList  [][]byte
	Comment  string // a comment line's text; File.ReadLine also sets it on a record followed by comment lines
}

// Buffer is a resizable byte buffer backing one LineType's list payload.
// LibraryOwned buffers reallocate on growth; CallerOwned buffers panic if
// asked to grow past their caller-supplied capacity, trading a crash for the
// caller's certainty about its own memory budget.
type Buffer interface {
	Bytes() []byte
	SetLen(n int)
}

type ownedBuffer struct{ data []byte }

func (b *ownedBuffer) Bytes() []byte { return b.data }
func (b *ownedBuffer) SetLen(n int) {
	if cap(b.data) < n {
		b.data = make([]byte, n)
		return
	}
	b.data = b.data[:n]
}

type callerBuffer struct{ data []byte }

func (b *callerBuffer) Bytes() []byte { return b.data }
func (b *callerBuffer) SetLen(n int) {
	if n > cap(b.data) {
		panic("onecode: caller-supplied buffer too small for this record's list payload")
	}
	b.data = b.data[:n]
}

// NewOwnedBuffer returns a Buffer that reallocates as needed.
func NewOwnedBuffer() Buffer { return &ownedBuffer{} }

// NewCallerBuffer wraps a caller-supplied slice as a fixed-capacity Buffer.
func NewCallerBuffer(backing []byte) Buffer { return &callerBuffer{data: backing[:0]} }

// LineInfo is the per-LineType runtime state the codec threads through
// repeated calls: the trained (or deserialized) field and list codecs, and
// a list buffer that SetBuffer can replace. The encode and decode paths in
// this package allocate their own slices and do not use that buffer.
type LineInfo struct {
	Spec *schema.LineSpec

	FieldCodec *huffman.Codec
	ListCodec  *huffman.Codec

	UseFieldCodec bool
	UseListCodec  bool

	buf Buffer
}

func newLineInfo(spec *schema.LineSpec) *LineInfo {
	return &LineInfo{Spec: spec, buf: NewOwnedBuffer()}
}

// SetBuffer installs a caller-owned list buffer for this LineType, in place
// of the library-owned default.
func (li *LineInfo) SetBuffer(buf Buffer) { li.buf = buf }

// Codec is the stateful ASCII/binary record engine for one FileType.
type Codec struct {
	FT     *schema.FileType
	Binary bool
	Big    bool

	infos map[byte]*LineInfo
}

// NewCodec builds a Codec with one LineInfo per registered LineType.
func NewCodec(ft *schema.FileType, binary, big bool) *Codec {
	c := &Codec{FT: ft, Binary: binary, Big: big, infos: make(map[byte]*LineInfo)}
	for _, code := range ft.Codes() {
		spec, _ := ft.Lookup(code)
		c.infos[code] = newLineInfo(spec)
	}
	return c
}

// Info returns the per-LineType runtime state, or nil if code is not
// registered in this Codec's schema.
func (c *Codec) Info(code byte) *LineInfo { return c.infos[code] }
