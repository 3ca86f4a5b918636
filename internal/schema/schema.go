// Package schema defines the per-file-type table of LineTypes: each one's
// field signature, which field (if any) carries a list, and the binary tag
// byte it is assigned for compact encoding. Schema definition itself is not
// part of the core (spec §1 non-goals); this package only models the shape
// a concrete schema must have.
package schema

import "github.com/vgp-tools/onecode/internal/oerr"

// FieldKind identifies one Field's type within a LineType's signature.
type FieldKind int

const (
	Int FieldKind = iota
	Real
	Char
	String
	IntList
	RealList
	StringList
)

// IsList reports whether this field kind occupies the LineType's one
// list-buffer slot. STRING counts as a (singular) list-bearing kind since
// it shares the length-field-plus-buffer mechanism with the *_LIST kinds.
func (k FieldKind) IsList() bool {
	return k == String || k == IntList || k == RealList || k == StringList
}

// Reserved LineType codes, independent of file type (spec §4.4).
const (
	Header         byte = '1'
	Subtype        byte = '2'
	CountLine      byte = '#'
	MaxLine        byte = '@'
	TotalLine      byte = '+'
	GroupStatsLine byte = '%'
	Provenance     byte = '!'
	Reference      byte = '<'
	Deferred       byte = '>'
	BinarySentinel byte = '$'
	FooterEnd      byte = '^'
	ObjectIndex    byte = '&'
	GroupIndex     byte = '*'
	CommentLine    byte = '/'
	FieldCodecBlob byte = 1
	ListCodecBlob  byte = 2
)

// binary tag layout (spec §3, §4.4): top bit set, bits 2-6 the 5-bit
// ordinal, bit 1 list-compressed, bit 0 fields-compressed.
const (
	tagHighBit     = 0x80
	tagOrdinalMask = 0x7C
	tagFlagsMask   = 0x03
	tagFieldsBit   = 0x01
	tagListBit     = 0x02
	maxUserLines   = 32
)

// LineSpec is one LineType's static definition within a FileType.
type LineSpec struct {
	Code         byte
	Fields       []FieldKind
	ListField    int // index into Fields, -1 if this LineType has no list
	ListElemSize int // byte size of one list element
	DiffCode     bool
	DNAList      bool // list field is always DNA-packed, never Huffman-trained
	BaseTag      byte // 0x80 | (ordinal << 2), flag bits unset
}

// FileType is the static schema for one outer file type.
type FileType struct {
	Name       string
	Major      int
	Minor      int
	Object     byte
	Group      byte
	lines      map[byte]*LineSpec
	order      []byte
	inverseTag [256]byte // 0 means "unassigned"
}

// New creates an empty schema for a named file type.
func New(name string, major, minor int) *FileType {
	return &FileType{Name: name, Major: major, Minor: minor, lines: make(map[byte]*LineSpec)}
}

// Define registers a user LineType. listField is the index into fields that
// carries the list payload, or -1 if none; at most one list field is
// permitted per LineType.
func (ft *FileType) Define(code byte, fields []FieldKind, listField, listElemSize int, diffCode bool) error {
	if _, exists := ft.lines[code]; exists {
		return oerr.New(oerr.SchemaViolation, "schema: LineType already defined: "+string(code))
	}
	n := 0
	for _, f := range fields {
		if f.IsList() {
			n++
		}
	}
	if n > 1 {
		return oerr.New(oerr.SchemaViolation, "schema: more than one list field in a single LineType")
	}
	if len(ft.order) >= maxUserLines {
		return oerr.New(oerr.SchemaViolation, "schema: too many line codes for this file type (max 32)")
	}
	ordinal := len(ft.order)
	spec := &LineSpec{
		Code:         code,
		Fields:       append([]FieldKind(nil), fields...),
		ListField:    listField,
		ListElemSize: listElemSize,
		DiffCode:     diffCode,
		BaseTag:      tagHighBit | byte(ordinal<<2),
	}
	ft.lines[code] = spec
	ft.order = append(ft.order, code)
	for flags := byte(0); flags <= tagFlagsMask; flags++ {
		ft.inverseTag[spec.BaseTag|flags] = code
	}
	return nil
}

// SetObject designates the LineType whose records increment the object
// counter and index.
func (ft *FileType) SetObject(code byte) { ft.Object = code }

// SetGroup designates the LineType that begins a new group.
func (ft *FileType) SetGroup(code byte) { ft.Group = code }

// SetDNAList designates code's list field as permanently DNA-packed (2 bits
// per base, spec §4.2) instead of Huffman-coded. This mirrors the original
// format's _DNAcodec: a fixed, stateless codec bound to the LineType at
// schema-definition time rather than trained from samples. code's list field
// must be STRING; it is never trained and never appears in the footer.
func (ft *FileType) SetDNAList(code byte) error {
	spec, ok := ft.lines[code]
	if !ok {
		return oerr.New(oerr.SchemaViolation, "schema: SetDNAList: LineType not defined: "+string(code))
	}
	if spec.ListField < 0 || spec.Fields[spec.ListField] != String {
		return oerr.New(oerr.SchemaViolation, "schema: SetDNAList: LineType has no STRING list field: "+string(code))
	}
	spec.DNAList = true
	return nil
}

// Lookup returns the LineSpec for an ASCII LineType code.
func (ft *FileType) Lookup(code byte) (*LineSpec, bool) {
	s, ok := ft.lines[code]
	return s, ok
}

// LookupTag maps an observed binary tag byte back to its LineType code by
// masking the compression flag bits.
func (ft *FileType) LookupTag(tag byte) (*LineSpec, bool) {
	code := ft.inverseTag[tag]
	if code == 0 {
		return nil, false
	}
	return ft.lines[code], true
}

// Codes returns every registered LineType code, in registration order.
func (ft *FileType) Codes() []byte {
	return append([]byte(nil), ft.order...)
}

// UpperCaseLineTypes returns the registered user LineTypes whose code is an
// upper-case ASCII letter, in registration order -- these are the ones that
// accumulate counts/max/total and appear in header/footer stats lines.
func (ft *FileType) UpperCaseLineTypes() []byte {
	var out []byte
	for _, code := range ft.order {
		if code >= 'A' && code <= 'Z' {
			out = append(out, code)
		}
	}
	return out
}

// Tag flag helpers, shared by the record codec when it sets or reads the
// compression bits of an on-disk tag byte.
func FieldsCompressed(tag byte) bool { return tag&tagFieldsBit != 0 }
func ListCompressed(tag byte) bool   { return tag&tagListBit != 0 }

func WithFlags(base byte, fieldsCompressed, listCompressed bool) byte {
	tag := base
	if fieldsCompressed {
		tag |= tagFieldsBit
	}
	if listCompressed {
		tag |= tagListBit
	}
	return tag
}
