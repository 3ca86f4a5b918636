package record

import (
	"bufio"
	"bytes"
	"reflect"
	"testing"

	"github.com/vgp-tools/onecode/internal/huffman"
	"github.com/vgp-tools/onecode/internal/intlist"
	"github.com/vgp-tools/onecode/internal/schema"
)

func testSchema(t *testing.T) *schema.FileType {
	t.Helper()
	ft := schema.New("seq", 1, 0)
	if err := ft.Define('S', []schema.FieldKind{schema.String}, 0, 1, false); err != nil {
		t.Fatal(err)
	}
	if err := ft.Define('I', []schema.FieldKind{schema.Int, schema.Real}, -1, 0, false); err != nil {
		t.Fatal(err)
	}
	if err := ft.Define('L', []schema.FieldKind{schema.Char, schema.IntList}, 1, 8, true); err != nil {
		t.Fatal(err)
	}
	if err := ft.Define('N', []schema.FieldKind{schema.StringList}, 0, 0, false); err != nil {
		t.Fatal(err)
	}
	ft.SetObject('S')
	return ft
}

func TestASCIIRoundTrip(t *testing.T) {
	ft := testSchema(t)
	c := NewCodec(ft, false, false)

	lines := []*Line{
		{Code: 'S', Str: []byte("ACGTACGT"), Fields: []Field{{Int: 8}}},
		{Code: 'I', Fields: []Field{{Int: 42}, {Real: 3.5}}},
		{Code: 'L', Fields: []Field{{Int: int64('x')}, {Int: 3}}, IntList: []int64{100, 200, 300}},
		{Code: 'N', Fields: []Field{{Int: 2}}, StrList: [][]byte{[]byte("abc"), []byte("de")}},
	}

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	for _, l := range lines {
		if err := c.WriteASCII(w, l); err != nil {
			t.Fatalf("WriteASCII: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	r := bufio.NewReader(&buf)
	for i, want := range lines {
		code, err := r.ReadByte()
		if err != nil {
			t.Fatalf("record %d: read code: %v", i, err)
		}
		got, err := c.ReadASCII(r, code)
		if err != nil {
			t.Fatalf("record %d: ReadASCII: %v", i, err)
		}
		if got.Code != want.Code {
			t.Fatalf("record %d: code = %c, want %c", i, got.Code, want.Code)
		}
		if !reflect.DeepEqual(got.Str, want.Str) {
			t.Fatalf("record %d: Str = %q, want %q", i, got.Str, want.Str)
		}
		if !reflect.DeepEqual(got.IntList, want.IntList) {
			t.Fatalf("record %d: IntList = %v, want %v", i, got.IntList, want.IntList)
		}
		if len(want.StrList) > 0 && !reflect.DeepEqual(got.StrList, want.StrList) {
			t.Fatalf("record %d: StrList = %v, want %v", i, got.StrList, want.StrList)
		}
	}
}

func TestBinaryRoundTripUncompressed(t *testing.T) {
	ft := testSchema(t)
	c := NewCodec(ft, true, false)

	lines := []*Line{
		{Code: 'S', Str: []byte("ACGTACGT")},
		{Code: 'I', Fields: []Field{{Int: -7}, {Real: 2.25}}},
		{Code: 'L', Fields: []Field{{Int: int64('y')}}, IntList: []int64{10, 20, 15, 15}},
		{Code: 'N', StrList: [][]byte{[]byte("hello"), []byte("x")}},
	}

	var buf bytes.Buffer
	for _, l := range lines {
		if err := c.WriteBinary(&buf, l); err != nil {
			t.Fatalf("WriteBinary: %v", err)
		}
	}

	r := bytes.NewReader(buf.Bytes())
	for i, want := range lines {
		var tagBuf [1]byte
		if _, err := r.Read(tagBuf[:]); err != nil {
			t.Fatalf("record %d: read tag: %v", i, err)
		}
		got, err := c.ReadBinary(r, tagBuf[0])
		if err != nil {
			t.Fatalf("record %d: ReadBinary: %v", i, err)
		}
		if got.Code != want.Code {
			t.Fatalf("record %d: code = %c, want %c", i, got.Code, want.Code)
		}
		if !reflect.DeepEqual(got.Str, want.Str) {
			t.Fatalf("record %d: Str = %q, want %q", i, got.Str, want.Str)
		}
		if !reflect.DeepEqual(got.IntList, want.IntList) {
			t.Fatalf("record %d: IntList = %v, want %v", i, got.IntList, want.IntList)
		}
		if len(want.StrList) > 0 && !reflect.DeepEqual(got.StrList, want.StrList) {
			t.Fatalf("record %d: StrList = %v, want %v", i, got.StrList, want.StrList)
		}
	}
}

func TestBinaryRoundTripDNA(t *testing.T) {
	ft := schema.New("seq", 1, 0)
	if err := ft.Define('S', []schema.FieldKind{schema.String}, 0, 1, false); err != nil {
		t.Fatal(err)
	}
	if err := ft.SetDNAList('S'); err != nil {
		t.Fatal(err)
	}
	ft.SetObject('S')

	c := NewCodec(ft, true, false)

	lines := []*Line{
		{Code: 'S', Str: []byte("ACGTACGT")},
		{Code: 'S', Str: []byte("acgtn")},
	}
	want := [][]byte{[]byte("acgtacgt"), []byte("acgta")}

	var buf bytes.Buffer
	for _, l := range lines {
		if err := c.WriteBinary(&buf, l); err != nil {
			t.Fatalf("WriteBinary: %v", err)
		}
	}

	// "ACGTACGT" packs to two bytes, each base pair 00 01 10 11 -> 0x1B.
	// Layout: tag byte, then the 8-byte list-length tuple, then the packed bases.
	raw := buf.Bytes()
	if raw[0]&0x02 == 0 {
		t.Fatalf("tag byte %#x: expected list-compressed bit set for DNA list", raw[0])
	}
	if raw[9] != 0x1B || raw[10] != 0x1B {
		t.Fatalf("packed ACGTACGT = %#x %#x, want 0x1B 0x1B", raw[9], raw[10])
	}

	r := bytes.NewReader(buf.Bytes())
	for i, w := range want {
		var tagBuf [1]byte
		if _, err := r.Read(tagBuf[:]); err != nil {
			t.Fatalf("record %d: read tag: %v", i, err)
		}
		got, err := c.ReadBinary(r, tagBuf[0])
		if err != nil {
			t.Fatalf("record %d: ReadBinary: %v", i, err)
		}
		if !reflect.DeepEqual(got.Str, w) {
			t.Fatalf("record %d: Str = %q, want %q", i, got.Str, w)
		}
	}
}

func TestBinaryRoundTripCompressed(t *testing.T) {
	ft := testSchema(t)
	c := NewCodec(ft, true, true)

	sample := &Line{Code: 'L', Fields: []Field{{Int: int64('z')}}, IntList: []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}}

	li := c.Info('L')
	li.FieldCodec = huffman.New()
	li.ListCodec = huffman.New()

	// Train directly on the bytes this record would produce, then build.
	tuple := make([]byte, 0, 9)
	tuple = append(tuple, byte('z'))
	// The list-length field carries the pack-zero count z of the packed list.
	_, z := intlist.Pack(sample.IntList, true, true)
	var lenB [8]byte
	c.byteOrder().PutUint64(lenB[:], uint64(packListLenField(10, z)))
	tuple = append(tuple, lenB[:]...)
	if err := li.FieldCodec.AddSamples(tuple); err != nil {
		t.Fatal(err)
	}
	if err := li.FieldCodec.BuildCode(false); err != nil {
		t.Fatal(err)
	}
	packed, _ := intlist.Pack(sample.IntList, true, true)
	if err := li.ListCodec.AddSamples(packed); err != nil {
		t.Fatal(err)
	}
	if err := li.ListCodec.BuildCode(false); err != nil {
		t.Fatal(err)
	}
	li.UseFieldCodec = true
	li.UseListCodec = true

	var buf bytes.Buffer
	if err := c.WriteBinary(&buf, sample); err != nil {
		t.Fatalf("WriteBinary compressed: %v", err)
	}

	r := bytes.NewReader(buf.Bytes())
	var tagBuf [1]byte
	if _, err := r.Read(tagBuf[:]); err != nil {
		t.Fatal(err)
	}
	got, err := c.ReadBinary(r, tagBuf[0])
	if err != nil {
		t.Fatalf("ReadBinary compressed: %v", err)
	}
	if !reflect.DeepEqual(got.IntList, sample.IntList) {
		t.Fatalf("IntList = %v, want %v", got.IntList, sample.IntList)
	}
}
