package record

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/vgp-tools/onecode/internal/dna"
	"github.com/vgp-tools/onecode/internal/huffman"
	"github.com/vgp-tools/onecode/internal/intlist"
	"github.com/vgp-tools/onecode/internal/oerr"
	"github.com/vgp-tools/onecode/internal/schema"
)

// codecReady reports whether a codec has a built or deserialized code table
// and can be used for EncodeBuffer/DecodeBuffer.
func codecReady(c *huffman.Codec) bool {
	return c != nil && (c.State() == huffman.CodedWith || c.State() == huffman.CodedRead)
}

// listLenZShift/listLenCountMask pack the INT_LIST pack-zero count into the
// top byte of the on-disk list-length field, leaving 56 bits for the count
// itself -- ample for any real object or group size.
const (
	listLenZShift    = 56
	listLenCountMask = (int64(1) << listLenZShift) - 1
)

func packListLenField(count int64, z int) int64 {
	return (count & listLenCountMask) | (int64(z) << listLenZShift)
}

func unpackListLenField(v int64) (count int64, z int) {
	return v & listLenCountMask, int(uint64(v) >> listLenZShift)
}

func (c *Codec) byteOrder() binary.ByteOrder {
	if c.Big {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// tupleSize is the fixed on-disk byte size of a LineType's non-list fields
// plus, if present, its list-length field (always stored as an 8-byte int).
func tupleSize(spec *schema.LineSpec) int {
	n := 0
	for i, k := range spec.Fields {
		if i == spec.ListField {
			n += 8
			continue
		}
		switch k {
		case schema.Char:
			n++
		default:
			n += 8
		}
	}
	return n
}

// WriteBinary writes one binary record: tag byte, field tuple (raw or
// Huffman-compressed), then list payload (raw or Huffman-compressed).
func (c *Codec) WriteBinary(w io.Writer, line *Line) error {
	li := c.infos[line.Code]
	if li == nil {
		return oerr.New(oerr.SchemaViolation, "record: unregistered LineType for binary write: "+string(line.Code))
	}
	order := c.byteOrder()
	spec := li.Spec

	listPayload, listCount, z := c.packListPayload(spec, line)

	tuple := make([]byte, 0, tupleSize(spec))
	for i, k := range spec.Fields {
		if i == spec.ListField {
			var b [8]byte
			order.PutUint64(b[:], uint64(packListLenField(listCount, z)))
			tuple = append(tuple, b[:]...)
			continue
		}
		switch k {
		case schema.Int:
			var b [8]byte
			order.PutUint64(b[:], uint64(line.Fields[i].Int))
			tuple = append(tuple, b[:]...)
		case schema.Real:
			var b [8]byte
			order.PutUint64(b[:], math.Float64bits(line.Fields[i].Real))
			tuple = append(tuple, b[:]...)
		case schema.Char:
			tuple = append(tuple, byte(line.Fields[i].Int))
		}
	}

	fieldsCompressed := li.UseFieldCodec && codecReady(li.FieldCodec)
	// A DNA-flagged list field always uses the fixed 2-bit codec (spec §4.2):
	// never trained, never raw, so the list-compressed flag is unconditional.
	listCompressed := spec.DNAList || (li.UseListCodec && len(listPayload) > 0 && codecReady(li.ListCodec))

	tag := schema.WithFlags(spec.BaseTag, fieldsCompressed, listCompressed)
	if _, err := w.Write([]byte{tag}); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "record: write tag byte")
	}

	if err := writeChunk(w, li.FieldCodec, fieldsCompressed, tuple); err != nil {
		return err
	}
	if spec.ListField >= 0 {
		if spec.DNAList {
			if _, err := w.Write(dna.Encode(listPayload)); err != nil {
				return oerr.Wrapf(oerr.IoError, err, "record: write DNA-packed list payload")
			}
			return nil
		}
		// STRING_LIST's self-delimiting (length,bytes) pairs have no fixed
		// per-element size, so the decoder cannot derive the payload's raw
		// byte length from the element count alone; record it explicitly.
		if spec.Fields[spec.ListField] == schema.StringList {
			var lb [8]byte
			binary.LittleEndian.PutUint64(lb[:], uint64(len(listPayload)))
			if _, err := w.Write(lb[:]); err != nil {
				return oerr.Wrapf(oerr.IoError, err, "record: write STRING_LIST payload length")
			}
		}
		if err := writeChunk(w, li.ListCodec, listCompressed, listPayload); err != nil {
			return err
		}
	}
	return nil
}

func writeChunk(w io.Writer, codec interface {
	EncodeBuffer([]byte) ([]byte, int, error)
}, compressed bool, raw []byte) error {
	if !compressed {
		if _, err := w.Write(raw); err != nil {
			return oerr.Wrapf(oerr.IoError, err, "record: write raw chunk")
		}
		return nil
	}
	payload, nBits, err := codec.EncodeBuffer(raw)
	if err != nil {
		return oerr.Wrapf(oerr.CodecError, err, "record: Huffman-encode chunk")
	}
	var lb [8]byte
	binary.LittleEndian.PutUint64(lb[:], uint64(nBits))
	if _, err := w.Write(lb[:]); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "record: write chunk bit count")
	}
	if _, err := w.Write(payload); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "record: write compressed chunk")
	}
	return nil
}

// TupleBytes returns the raw (pre-Huffman) field tuple bytes line would
// produce for its LineType, for feeding a shard's codec training tally
// alongside a live WriteBinary call.
func (c *Codec) TupleBytes(line *Line) []byte {
	li := c.infos[line.Code]
	if li == nil {
		return nil
	}
	spec := li.Spec
	order := c.byteOrder()
	listPayload, listCount, z := c.packListPayload(spec, line)
	_ = listPayload
	tuple := make([]byte, 0, tupleSize(spec))
	for i, k := range spec.Fields {
		if i == spec.ListField {
			var b [8]byte
			order.PutUint64(b[:], uint64(packListLenField(listCount, z)))
			tuple = append(tuple, b[:]...)
			continue
		}
		switch k {
		case schema.Int:
			var b [8]byte
			order.PutUint64(b[:], uint64(line.Fields[i].Int))
			tuple = append(tuple, b[:]...)
		case schema.Real:
			var b [8]byte
			order.PutUint64(b[:], math.Float64bits(line.Fields[i].Real))
			tuple = append(tuple, b[:]...)
		case schema.Char:
			tuple = append(tuple, byte(line.Fields[i].Int))
		}
	}
	return tuple
}

// ListPayloadBytes returns the raw (pre-Huffman) list payload bytes line
// would produce, or nil for a LineType with no list field or a DNA-flagged
// one (DNA lists are never Huffman-trained).
func (c *Codec) ListPayloadBytes(line *Line) []byte {
	li := c.infos[line.Code]
	if li == nil {
		return nil
	}
	spec := li.Spec
	if spec.ListField < 0 || spec.DNAList {
		return nil
	}
	payload, _, _ := c.packListPayload(spec, line)
	return payload
}

// ReadBinary reads one binary record given its already-consumed tag byte.
func (c *Codec) ReadBinary(r io.Reader, tag byte) (*Line, error) {
	spec, ok := c.FT.LookupTag(tag)
	if !ok {
		return nil, oerr.New(oerr.BinaryError, "record: unknown binary tag byte")
	}
	li := c.infos[spec.Code]
	order := c.byteOrder()

	tuple, err := readChunk(r, li.FieldCodec, schema.FieldsCompressed(tag), tupleSize(spec))
	if err != nil {
		return nil, err
	}

	line := &Line{Code: spec.Code, Fields: make([]Field, len(spec.Fields))}
	pos := 0
	var listCount int64
	var z int
	for i, k := range spec.Fields {
		if i == spec.ListField {
			v := int64(order.Uint64(tuple[pos : pos+8]))
			pos += 8
			listCount, z = unpackListLenField(v)
			line.Fields[i].Int = listCount
			continue
		}
		switch k {
		case schema.Int:
			line.Fields[i].Int = int64(order.Uint64(tuple[pos : pos+8]))
			pos += 8
		case schema.Real:
			line.Fields[i].Real = math.Float64frombits(order.Uint64(tuple[pos : pos+8]))
			pos += 8
		case schema.Char:
			line.Fields[i].Int = int64(tuple[pos])
			pos++
		}
	}

	if spec.ListField >= 0 {
		if spec.DNAList {
			packed := make([]byte, (int(listCount)+3)/4)
			if _, err := io.ReadFull(r, packed); err != nil {
				return nil, oerr.Wrapf(oerr.IoError, err, "record: read DNA-packed list payload")
			}
			line.Str = dna.Decode(packed, int(listCount))
			return line, nil
		}
		packedLen := packedListByteLen(spec, listCount, z)
		if packedLen < 0 {
			var lb [8]byte
			if _, err := io.ReadFull(r, lb[:]); err != nil {
				return nil, oerr.Wrapf(oerr.IoError, err, "record: read STRING_LIST payload length")
			}
			packedLen = int(binary.LittleEndian.Uint64(lb[:]))
		}
		payload, err := readChunk(r, li.ListCodec, schema.ListCompressed(tag), packedLen)
		if err != nil {
			return nil, err
		}
		if err := c.unpackListPayload(spec, line, payload, int(listCount), z); err != nil {
			return nil, err
		}
	}
	return line, nil
}

func readChunk(r io.Reader, codec interface {
	DecodeBuffer([]byte, int, int) ([]byte, error)
}, compressed bool, outLen int) ([]byte, error) {
	if outLen == 0 && !compressed {
		return nil, nil
	}
	if !compressed {
		buf := make([]byte, outLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, oerr.Wrapf(oerr.IoError, err, "record: read raw chunk")
		}
		return buf, nil
	}
	var lb [8]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, oerr.Wrapf(oerr.IoError, err, "record: read chunk bit count")
	}
	nBits := int(binary.LittleEndian.Uint64(lb[:]))
	payloadLen := (nBits + 7) / 8
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, oerr.Wrapf(oerr.IoError, err, "record: read compressed chunk")
	}
	out, err := codec.DecodeBuffer(payload, nBits, outLen)
	if err != nil {
		return nil, oerr.Wrapf(oerr.CodecError, err, "record: Huffman-decode chunk")
	}
	return out, nil
}

// packListPayload builds a LineType's raw (pre-Huffman) list payload bytes
// and, for INT_LIST, the pack-zero count z to record alongside the length.
func (c *Codec) packListPayload(spec *schema.LineSpec, line *Line) (payload []byte, count int64, z int) {
	if spec.ListField < 0 {
		return nil, 0, 0
	}
	order := c.byteOrder()
	switch spec.Fields[spec.ListField] {
	case schema.IntList:
		packed, zz := intlist.Pack(line.IntList, spec.DiffCode, c.Big)
		return packed, int64(len(line.IntList)), zz
	case schema.RealList:
		buf := make([]byte, 8*len(line.RealList))
		for i, v := range line.RealList {
			order.PutUint64(buf[i*8:], math.Float64bits(v))
		}
		return buf, int64(len(line.RealList)), 0
	case schema.String:
		return line.Str, int64(len(line.Str)), 0
	case schema.StringList:
		var buf []byte
		var lb [4]byte
		for _, s := range line.StrList {
			binary.BigEndian.PutUint32(lb[:], uint32(len(s)))
			buf = append(buf, lb[:]...)
			buf = append(buf, s...)
		}
		return buf, int64(len(line.StrList)), 0
	}
	return nil, 0, 0
}

// packedListByteLen computes the on-disk byte length of a list field's raw
// payload before Huffman compression, given its element count and (for
// INT_LIST) pack-zero count. STRING_LIST's self-delimiting encoding has no
// fixed per-element size, so its byte length cannot be derived this way; the
// writer stores it as an explicit raw 8-byte length before the chunk.
func packedListByteLen(spec *schema.LineSpec, count int64, z int) int {
	switch spec.Fields[spec.ListField] {
	case schema.IntList:
		return int(count) * (8 - z)
	case schema.RealList:
		return int(count) * 8
	case schema.String:
		return int(count)
	case schema.StringList:
		return -1 // the caller reads the explicit 8-byte payload length instead
	}
	return 0
}

func (c *Codec) unpackListPayload(spec *schema.LineSpec, line *Line, payload []byte, count int, z int) error {
	order := c.byteOrder()
	switch spec.Fields[spec.ListField] {
	case schema.IntList:
		line.IntList = intlist.Unpack(payload, count, z, spec.DiffCode, c.Big)
	case schema.RealList:
		vals := make([]float64, count)
		for i := range vals {
			vals[i] = math.Float64frombits(order.Uint64(payload[i*8:]))
		}
		line.RealList = vals
	case schema.String:
		line.Str = payload
	case schema.StringList:
		vals := make([][]byte, 0, count)
		pos := 0
		for i := 0; i < count; i++ {
			if pos+4 > len(payload) {
				return oerr.New(oerr.BinaryError, "record: truncated STRING_LIST payload")
			}
			n := int(binary.BigEndian.Uint32(payload[pos:]))
			pos += 4
			if pos+n > len(payload) {
				return oerr.New(oerr.BinaryError, "record: truncated STRING_LIST element")
			}
			vals = append(vals, payload[pos:pos+n])
			pos += n
		}
		line.StrList = vals
	}
	return nil
}
