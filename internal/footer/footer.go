// Package footer implements the ASCII header, the binary mode sentinel, and
// the binary footer: per-LineType stats, serialized codecs, and the object
// and group indices, closed by a trailing 8-byte offset word.
package footer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vgp-tools/onecode/internal/accum"
	"github.com/vgp-tools/onecode/internal/huffman"
	"github.com/vgp-tools/onecode/internal/intlist"
	"github.com/vgp-tools/onecode/internal/oerr"
	"github.com/vgp-tools/onecode/internal/schema"
)

// Provenance is one "!" line: program, version, command line, timestamp.
type Provenance struct {
	Program, Version, Command, Timestamp string
}

// Reference is an input-file "<" line.
type Reference struct {
	Filename string
	Count    int64
}

// Header is the set of lines emitted before the record stream begins.
type Header struct {
	Type           string
	Major, Minor   int
	Subtype        string
	References     []Reference
	Deferreds      []string
	Provenance     []Provenance
}

func writeLenStr(w *bufio.Writer, s string) error {
	if _, err := io.WriteString(w, strconv.Itoa(len(s))); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "footer: write length")
	}
	if err := w.WriteByte(' '); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "footer: write separator")
	}
	if _, err := io.WriteString(w, s); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "footer: write string body")
	}
	return nil
}

// WriteASCIIHeader emits the "1"/"2"/"<"/">"/"!" lines, in the fixed order
// spec §4.7 requires.
func WriteASCIIHeader(w *bufio.Writer, h Header) error {
	if _, err := io.WriteString(w, "1 "); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "footer: write header")
	}
	if err := writeLenStr(w, h.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, " %d %d\n", h.Major, h.Minor); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "footer: write header versions")
	}
	if h.Subtype != "" {
		if _, err := io.WriteString(w, "2 "); err != nil {
			return oerr.Wrapf(oerr.IoError, err, "footer: write subtype")
		}
		if err := writeLenStr(w, h.Subtype); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return oerr.Wrapf(oerr.IoError, err, "footer: write subtype")
		}
	}
	for _, r := range h.References {
		if _, err := io.WriteString(w, "< "); err != nil {
			return oerr.Wrapf(oerr.IoError, err, "footer: write reference")
		}
		if err := writeLenStr(w, r.Filename); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, " %d\n", r.Count); err != nil {
			return oerr.Wrapf(oerr.IoError, err, "footer: write reference count")
		}
	}
	for _, d := range h.Deferreds {
		if _, err := io.WriteString(w, "> "); err != nil {
			return oerr.Wrapf(oerr.IoError, err, "footer: write deferred")
		}
		if err := writeLenStr(w, d); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return oerr.Wrapf(oerr.IoError, err, "footer: write deferred")
		}
	}
	for _, p := range h.Provenance {
		if _, err := io.WriteString(w, "! "); err != nil {
			return oerr.Wrapf(oerr.IoError, err, "footer: write provenance")
		}
		for i, s := range []string{p.Program, p.Version, p.Command, p.Timestamp} {
			if i > 0 {
				if err := w.WriteByte(' '); err != nil {
					return oerr.Wrapf(oerr.IoError, err, "footer: write provenance")
				}
			}
			if err := writeLenStr(w, s); err != nil {
				return err
			}
		}
		if err := w.WriteByte('\n'); err != nil {
			return oerr.Wrapf(oerr.IoError, err, "footer: write provenance")
		}
	}
	return nil
}

// WriteBinarySentinel emits the "$ isBig" line that replaces full ASCII
// stats when the file is binary; stats are deferred to the footer.
func WriteBinarySentinel(w *bufio.Writer, big bool) error {
	bit := 0
	if big {
		bit = 1
	}
	if _, err := fmt.Fprintf(w, "$ %d\n", bit); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "footer: write binary sentinel")
	}
	return nil
}

// WriteASCIIStats emits the "#"/"@"/"+"/"%" stats lines for ASCII-mode
// files, for every upper-case LineType with at least one record seen.
func WriteASCIIStats(w *bufio.Writer, ft *schema.FileType, a *accum.Accumulator) error {
	for _, code := range ft.UpperCaseLineTypes() {
		s := a.Stats(code)
		if s.Count == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "# %c %d\n", code, s.Count); err != nil {
			return oerr.Wrapf(oerr.IoError, err, "footer: write count line")
		}
		spec, _ := ft.Lookup(code)
		if spec != nil && spec.ListField >= 0 {
			if _, err := fmt.Fprintf(w, "@ %c %d\n", code, s.Max); err != nil {
				return oerr.Wrapf(oerr.IoError, err, "footer: write max line")
			}
			if _, err := fmt.Fprintf(w, "+ %c %d\n", code, s.Total); err != nil {
				return oerr.Wrapf(oerr.IoError, err, "footer: write total line")
			}
		}
		if ft.Group != 0 {
			g := a.GroupStats(code)
			if _, err := fmt.Fprintf(w, "%% %c # %c %d\n", ft.Group, code, g.Count); err != nil {
				return oerr.Wrapf(oerr.IoError, err, "footer: write group count line")
			}
			if _, err := fmt.Fprintf(w, "%% %c + %c %d\n", ft.Group, code, g.Total); err != nil {
				return oerr.Wrapf(oerr.IoError, err, "footer: write group total line")
			}
		}
	}
	return nil
}

// footer line codes, distinct from user LineTypes. The stat, index and end
// codes are schema's reserved bytes; the codec-blob codes are the ASCII
// digits '1' and '2', not schema.FieldCodecBlob/ListCodecBlob (bytes 1 and 2).
const (
	codeCount    = schema.CountLine
	codeMax      = schema.MaxLine
	codeTotal    = schema.TotalLine
	codeGroup    = schema.GroupStatsLine
	codeFieldBlob = '1'
	codeListBlob  = '2'
	codeObjIndex  = schema.ObjectIndex
	codeGrpIndex  = schema.GroupIndex
	codeEnd       = schema.FooterEnd
)

// CodecSource supplies, for a binary footer write, the per-LineType field
// and list codecs that were trained or read during the session.
type CodecSource interface {
	FieldCodec(code byte) *huffman.Codec
	ListCodec(code byte) *huffman.Codec
}

// WriteBinaryFooter writes the footer body (stats, codec blobs, indices,
// end marker) to w, then the 8-byte little-endian offset of footerStart --
// the file position w was at before this call began. Index slices are
// written as differenced INT_LISTs per spec.
func WriteBinaryFooter(w io.Writer, ft *schema.FileType, a *accum.Accumulator, codecs CodecSource, objIndex, groupIndex []int64, big bool, footerStart int64) error {
	bw := bufio.NewWriter(w)

	for _, code := range ft.UpperCaseLineTypes() {
		s := a.Stats(code)
		if s.Count == 0 {
			continue
		}
		if err := writeStatLine(bw, codeCount, code, s.Count); err != nil {
			return err
		}
		spec, _ := ft.Lookup(code)
		if spec != nil && spec.ListField >= 0 {
			if err := writeStatLine(bw, codeMax, code, s.Max); err != nil {
				return err
			}
			if err := writeStatLine(bw, codeTotal, code, s.Total); err != nil {
				return err
			}
		}
		if ft.Group != 0 {
			g := a.GroupStats(code)
			if err := writeGroupStatLine(bw, ft.Group, codeCount, code, g.Count); err != nil {
				return err
			}
			if err := writeGroupStatLine(bw, ft.Group, codeTotal, code, g.Total); err != nil {
				return err
			}
		}
		if codecs != nil {
			if fc := codecs.FieldCodec(code); fc != nil && (fc.State() == huffman.CodedWith || fc.State() == huffman.CodedRead) {
				if err := writeCodecBlob(bw, codeFieldBlob, code, fc); err != nil {
					return err
				}
			}
			if lc := codecs.ListCodec(code); lc != nil && (lc.State() == huffman.CodedWith || lc.State() == huffman.CodedRead) {
				if err := writeCodecBlob(bw, codeListBlob, code, lc); err != nil {
					return err
				}
			}
		}
	}

	if err := writeIndexLine(bw, codeObjIndex, objIndex, big); err != nil {
		return err
	}
	if ft.Group != 0 {
		if err := writeIndexLine(bw, codeGrpIndex, groupIndex, big); err != nil {
			return err
		}
	}
	if err := bw.WriteByte(codeEnd); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "footer: write end marker")
	}
	if err := bw.Flush(); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "footer: flush")
	}

	var off [8]byte
	binary.LittleEndian.PutUint64(off[:], uint64(footerStart))
	if _, err := w.Write(off[:]); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "footer: write trailing offset")
	}
	return nil
}

func writeStatLine(w *bufio.Writer, statCode, lineCode byte, v int64) error {
	var b [10]byte
	b[0] = statCode
	b[1] = lineCode
	binary.LittleEndian.PutUint64(b[2:], uint64(v))
	_, err := w.Write(b[:])
	if err != nil {
		return oerr.Wrapf(oerr.IoError, err, "footer: write stat line")
	}
	return nil
}

func writeGroupStatLine(w *bufio.Writer, groupCode, statCode, lineCode byte, v int64) error {
	var b [12]byte
	b[0] = codeGroup
	b[1] = groupCode
	b[2] = statCode
	b[3] = lineCode
	binary.LittleEndian.PutUint64(b[4:], uint64(v))
	_, err := w.Write(b[:])
	if err != nil {
		return oerr.Wrapf(oerr.IoError, err, "footer: write group stat line")
	}
	return nil
}

func writeCodecBlob(w *bufio.Writer, blobCode, lineCode byte, c *huffman.Codec) error {
	blob, err := c.Serialize()
	if err != nil {
		return oerr.Wrapf(oerr.CodecError, err, "footer: serialize codec")
	}
	var hdr [4]byte
	hdr[0] = blobCode
	hdr[1] = lineCode
	binary.LittleEndian.PutUint16(hdr[2:], uint16(len(blob)))
	if _, err := w.Write(hdr[:]); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "footer: write codec blob header")
	}
	if _, err := w.Write(blob); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "footer: write codec blob")
	}
	return nil
}

func writeIndexLine(w *bufio.Writer, code byte, idx []int64, big bool) error {
	packed, z := intlist.Pack(idx, true, big)
	var hdr [10]byte
	hdr[0] = code
	binary.LittleEndian.PutUint64(hdr[1:9], uint64(len(idx)))
	hdr[9] = byte(z)
	if _, err := w.Write(hdr[:]); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "footer: write index header")
	}
	if _, err := w.Write(packed); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "footer: write index payload")
	}
	return nil
}

// Footer is the parsed result of reading a binary footer.
type Footer struct {
	Stats       map[byte]accum.LineStats
	GroupStats  map[byte]accum.GroupStats
	FieldCodecs map[byte]*huffman.Codec
	ListCodecs  map[byte]*huffman.Codec
	ObjectIndex []int64
	GroupIndex  []int64
}

// ReadTrailingOffset reads the 8-byte little-endian footer start offset
// from the last 8 bytes of a binary file, per the EOF-8 seek protocol.
func ReadTrailingOffset(r io.ReaderAt, fileSize int64) (int64, error) {
	if fileSize < 8 {
		return 0, oerr.New(oerr.BinaryError, "footer: file too short to contain a trailing offset")
	}
	var b [8]byte
	if _, err := r.ReadAt(b[:], fileSize-8); err != nil {
		return 0, oerr.Wrapf(oerr.IoError, err, "footer: read trailing offset")
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// ReadBinaryFooter parses the footer body starting at offset footerStart in
// r, stopping at (and consuming) the "^" end marker.
func ReadBinaryFooter(r io.ReaderAt, footerStart, fileSize int64, big bool) (*Footer, error) {
	sr := io.NewSectionReader(r, footerStart, fileSize-8-footerStart)
	out := &Footer{
		Stats:       make(map[byte]accum.LineStats),
		GroupStats:  make(map[byte]accum.GroupStats),
		FieldCodecs: make(map[byte]*huffman.Codec),
		ListCodecs:  make(map[byte]*huffman.Codec),
	}
	var b1 [1]byte
	for {
		if _, err := io.ReadFull(sr, b1[:]); err != nil {
			return nil, oerr.Wrapf(oerr.BinaryError, err, "footer: read line code")
		}
		switch b1[0] {
		case codeEnd:
			return out, nil
		case codeCount, codeMax, codeTotal:
			lineCode, v, err := readStatLine(sr)
			if err != nil {
				return nil, err
			}
			s := out.Stats[lineCode]
			switch b1[0] {
			case codeCount:
				s.Count = v
			case codeMax:
				s.Max = v
			case codeTotal:
				s.Total = v
			}
			out.Stats[lineCode] = s
		case codeGroup:
			_, statCode, lineCode, v, err := readGroupStatLine(sr)
			if err != nil {
				return nil, err
			}
			g := out.GroupStats[lineCode]
			switch statCode {
			case codeCount:
				g.Count = v
			case codeTotal:
				g.Total = v
			}
			out.GroupStats[lineCode] = g
		case codeFieldBlob, codeListBlob:
			lineCode, codec, err := readCodecBlob(sr)
			if err != nil {
				return nil, err
			}
			if b1[0] == codeFieldBlob {
				out.FieldCodecs[lineCode] = codec
			} else {
				out.ListCodecs[lineCode] = codec
			}
		case codeObjIndex:
			idx, err := readIndexLine(sr, big)
			if err != nil {
				return nil, err
			}
			out.ObjectIndex = idx
		case codeGrpIndex:
			idx, err := readIndexLine(sr, big)
			if err != nil {
				return nil, err
			}
			out.GroupIndex = idx
		default:
			return nil, oerr.New(oerr.BinaryError, "footer: unknown footer line code")
		}
	}
}

func readStatLine(r io.Reader) (lineCode byte, v int64, err error) {
	var b [9]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, 0, oerr.Wrapf(oerr.IoError, err, "footer: read stat line")
	}
	return b[0], int64(binary.LittleEndian.Uint64(b[1:])), nil
}

func readGroupStatLine(r io.Reader) (groupCode, statCode, lineCode byte, v int64, err error) {
	var b [11]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, 0, 0, 0, oerr.Wrapf(oerr.IoError, err, "footer: read group stat line")
	}
	return b[0], b[1], b[2], int64(binary.LittleEndian.Uint64(b[3:])), nil
}

func readCodecBlob(r io.Reader) (lineCode byte, c *huffman.Codec, err error) {
	var hdr [3]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, oerr.Wrapf(oerr.IoError, err, "footer: read codec blob header")
	}
	n := binary.LittleEndian.Uint16(hdr[1:])
	blob := make([]byte, n)
	if _, err := io.ReadFull(r, blob); err != nil {
		return 0, nil, oerr.Wrapf(oerr.IoError, err, "footer: read codec blob")
	}
	codec, err := huffman.Deserialize(blob)
	if err != nil {
		return 0, nil, err
	}
	return hdr[0], codec, nil
}

func readIndexLine(r io.Reader, big bool) ([]int64, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, oerr.Wrapf(oerr.IoError, err, "footer: read index header")
	}
	n := int(binary.LittleEndian.Uint64(hdr[:8]))
	z := int(hdr[8])
	d := 8 - z
	packed := make([]byte, n*d)
	if _, err := io.ReadFull(r, packed); err != nil {
		return nil, oerr.Wrapf(oerr.IoError, err, "footer: read index payload")
	}
	return intlist.Unpack(packed, n, z, true, big), nil
}

// ParseASCIIHeader reads the "1"/"2"/"<"/">"/"!" lines at the start of an
// ASCII-mode file, stopping at the first line that is not one of these
// codes (left unconsumed for the caller, which re-peeks it as the first
// record or the "$" binary sentinel).
func ParseASCIIHeader(r *bufio.Reader) (*Header, error) {
	h := &Header{}
	first := true
	for {
		b, err := r.Peek(1)
		if err != nil {
			if err == io.EOF {
				return h, nil
			}
			return nil, oerr.Wrapf(oerr.IoError, err, "footer: peek header line")
		}
		switch b[0] {
		case '1':
			if !first {
				return h, nil
			}
			if err := parsePrimaryHeader(r, h); err != nil {
				return nil, err
			}
		case '2':
			if err := parseSubtype(r, h); err != nil {
				return nil, err
			}
		case '<':
			ref, err := parseReference(r)
			if err != nil {
				return nil, err
			}
			h.References = append(h.References, ref)
		case '>':
			d, err := parseDeferred(r)
			if err != nil {
				return nil, err
			}
			h.Deferreds = append(h.Deferreds, d)
		case '!':
			p, err := parseProvenance(r)
			if err != nil {
				return nil, err
			}
			h.Provenance = append(h.Provenance, p)
		default:
			return h, nil
		}
		first = false
	}
}

// readHeaderLenStr reads a "<len> <bytes>" token pair. readPlainToken
// already consumes the single space separating the length from the bytes
// that follow (it swallows its own trailing delimiter), so the bytes are
// read directly with no further space-skipping.
func readHeaderLenStr(r *bufio.Reader) (string, error) {
	tok, err := readPlainToken(r)
	if err != nil {
		return "", oerr.Wrapf(oerr.IoError, err, "footer: read length token")
	}
	n, perr := strconv.Atoi(tok)
	if perr != nil || n < 0 {
		return "", oerr.AtLine(0, tok, "footer: malformed length token")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", oerr.Wrapf(oerr.IoError, err, "footer: read string body")
	}
	return string(buf), nil
}

func readPlainToken(r *bufio.Reader) (string, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b != ' ' {
			r.UnreadByte()
			break
		}
	}
	var sb strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", err
		}
		if b == ' ' || b == '\n' {
			if b == '\n' {
				r.UnreadByte()
			}
			break
		}
		sb.WriteByte(b)
	}
	return sb.String(), nil
}

func skipOneSpace(r *bufio.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b != ' ' {
		return oerr.New(oerr.ParseError, "footer: expected a single space")
	}
	return nil
}

func consumeEOL(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b == '\n' {
			return nil
		}
	}
}

func parsePrimaryHeader(r *bufio.Reader, h *Header) error {
	r.ReadByte() // '1'
	typ, err := readHeaderLenStr(r)
	if err != nil {
		return err
	}
	major, err := readPlainToken(r)
	if err != nil {
		return oerr.Wrapf(oerr.ParseError, err, "footer: read major version")
	}
	minor, err := readPlainToken(r)
	if err != nil {
		return oerr.Wrapf(oerr.ParseError, err, "footer: read minor version")
	}
	h.Type = typ
	majorN, perr := strconv.Atoi(major)
	if perr != nil {
		return oerr.AtLine(0, major, "footer: malformed major version")
	}
	minorN, perr := strconv.Atoi(minor)
	if perr != nil {
		return oerr.AtLine(0, minor, "footer: malformed minor version")
	}
	h.Major, h.Minor = majorN, minorN
	return consumeEOL(r)
}

func parseSubtype(r *bufio.Reader, h *Header) error {
	r.ReadByte()
	s, err := readHeaderLenStr(r)
	if err != nil {
		return err
	}
	h.Subtype = s
	return consumeEOL(r)
}

func parseReference(r *bufio.Reader) (Reference, error) {
	r.ReadByte()
	name, err := readHeaderLenStr(r)
	if err != nil {
		return Reference{}, err
	}
	cnt, err := readPlainToken(r)
	if err != nil {
		return Reference{}, oerr.Wrapf(oerr.ParseError, err, "footer: read reference count")
	}
	n, perr := strconv.ParseInt(cnt, 10, 64)
	if perr != nil {
		return Reference{}, oerr.AtLine(0, cnt, "footer: malformed reference count")
	}
	return Reference{Filename: name, Count: n}, consumeEOL(r)
}

func parseDeferred(r *bufio.Reader) (string, error) {
	r.ReadByte()
	s, err := readHeaderLenStr(r)
	if err != nil {
		return "", err
	}
	return s, consumeEOL(r)
}

func parseProvenance(r *bufio.Reader) (Provenance, error) {
	r.ReadByte()
	var vals [4]string
	for i := range vals {
		s, err := readHeaderLenStr(r)
		if err != nil {
			return Provenance{}, err
		}
		vals[i] = s
	}
	return Provenance{Program: vals[0], Version: vals[1], Command: vals[2], Timestamp: vals[3]}, consumeEOL(r)
}
