// Package onecode implements the ONE-code record format session: opening a
// file for streaming or random-access read, and opening one for serial or
// parallel-sharded write, over a caller-supplied schema.FileType.
package onecode

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/allegro/bigcache/v3"

	"github.com/vgp-tools/onecode/internal/accum"
	"github.com/vgp-tools/onecode/internal/blockcache"
	"github.com/vgp-tools/onecode/internal/footer"
	"github.com/vgp-tools/onecode/internal/gzopen"
	"github.com/vgp-tools/onecode/internal/oerr"
	"github.com/vgp-tools/onecode/internal/record"
	"github.com/vgp-tools/onecode/internal/schema"
	"github.com/vgp-tools/onecode/internal/shard"
	"github.com/vgp-tools/onecode/internal/vindex"
)

// defaultCodecTrainingSize is the codec training size used whenever a caller
// does not name one explicitly via CreateParallel. Each of N shards reports
// after codecTrainingSize/(3N) bytes, and a LineType's field or list Huffman
// table is built and frozen once the reports total N times that, about a
// third of codecTrainingSize.
const defaultCodecTrainingSize = 1 << 20

// randomAccessBlockSize is the chunk size chunkedStepper hands to
// internal/blockcache when a compressed input has been fully materialized
// in memory for random access.
const randomAccessBlockSize = 1 << 20

// File is one open ONE-code session: either reading an existing file
// (streaming or, for a binary file with its footer loaded, random access)
// or writing a new one (serial or parallel-sharded).
type File struct {
	ft     *schema.FileType
	logger *slog.Logger
	acc    *accum.Accumulator

	writing bool
	binary  bool
	big     bool

	err error

	// read-mode state
	raw    *os.File
	sr     *io.SectionReader
	br     *bufio.Reader
	codec  *record.Codec
	footer *footer.Footer
	idx    *vindex.Index

	// write-mode state: out is the real output file of every write session;
	// bw is used only for ASCII output (binary output, including Create's,
	// goes through the shard state below)
	out *os.File
	bw  *bufio.Writer

	// write-mode state, sharded (binary only)
	shardCtl    *shard.Controller
	shardCodecs []*record.Codec
	shardBufs   []*bufio.Writer
}

// poison records the first fatal error seen by this session; every
// subsequent call against the same File returns it instead of touching
// state a prior failure may have left inconsistent.
func (f *File) poison(err error) { f.err = err }

var (
	cacheOnce  sync.Once
	cacheStore *bigcache.BigCache
	cacheErr   error
)

func sharedBlockStore() (*bigcache.BigCache, error) {
	cacheOnce.Do(func() {
		cacheStore, cacheErr = blockcache.NewStore(256)
	})
	return cacheStore, cacheErr
}

// chunkedStepper walks a fully-materialized decompressed buffer in fixed
// blocks, implementing blockcache.Stepper without re-running inflate: the
// whole stream was already decoded once by gzopen.TransparentOpen, so there
// is nothing left to decode lazily, only to hand back in pieces.
func chunkedStepper(data []byte, offset int) blockcache.Stepper {
	return func() (blockcache.Stepper, []byte, error) {
		if offset >= len(data) {
			return nil, nil, io.EOF
		}
		end := offset + randomAccessBlockSize
		if end > len(data) {
			end = len(data)
		}
		block := data[offset:end]
		var next blockcache.Stepper
		if end < len(data) {
			next = chunkedStepper(data, end)
		}
		return next, block, nil
	}
}

// Open opens an existing ONE-code file for reading, transparently
// decompressing gzip/xz/zstd-wrapped input (sniffed from its header bytes,
// spec §6). If the file is binary and carries a footer, random access
// (GotoObject/GotoGroup) becomes available immediately. A primary header whose
// type name or version differs from ft's is rejected with a SchemaViolation.
func Open(path string, ft *schema.FileType, logger *slog.Logger) (*File, error) {
	startMemLog(logger)
	raw, err := os.Open(path)
	if err != nil {
		return nil, oerr.Wrapf(oerr.IoError, err, "onecode: open input file")
	}

	fi, err := raw.Stat()
	if err != nil {
		raw.Close()
		return nil, oerr.Wrapf(oerr.IoError, err, "onecode: stat input file")
	}

	kind, err := gzopen.Sniff(raw)
	if err != nil {
		raw.Close()
		return nil, err
	}

	var sr *io.SectionReader
	if kind == gzopen.None {
		sr = io.NewSectionReader(raw, 0, fi.Size())
	} else {
		dr, _, err := gzopen.TransparentOpen(raw)
		if err != nil {
			raw.Close()
			return nil, err
		}
		data, err := io.ReadAll(dr)
		if err != nil {
			raw.Close()
			return nil, oerr.Wrapf(oerr.IoError, err, "onecode: decompress input file")
		}
		store, serr := sharedBlockStore()
		if serr != nil {
			raw.Close()
			return nil, serr
		}
		ra := blockcache.New(chunkedStepper(data, 0), int64(len(data)), path, store)
		sr = io.NewSectionReader(ra, 0, ra.Size())
	}

	f := &File{ft: ft, logger: logger, raw: raw, sr: sr, acc: accum.New(ft)}
	f.br = bufio.NewReaderSize(sr, 1)

	hdr, err := footer.ParseASCIIHeader(f.br)
	if err != nil {
		raw.Close()
		return nil, err
	}
	if hdr.Type != ft.Name || hdr.Major != ft.Major || hdr.Minor != ft.Minor {
		raw.Close()
		return nil, oerr.New(oerr.SchemaViolation, "onecode: file header does not match the schema's type name or version")
	}

	peek, err := f.br.Peek(1)
	if err != nil {
		if err == io.EOF {
			f.codec = record.NewCodec(ft, false, false)
			return f, nil
		}
		raw.Close()
		return nil, oerr.Wrapf(oerr.IoError, err, "onecode: peek binary sentinel")
	}
	if peek[0] != schema.BinarySentinel {
		f.codec = record.NewCodec(ft, false, false)
		return f, nil
	}

	bit, err := readBinarySentinel(f.br)
	if err != nil {
		raw.Close()
		return nil, err
	}
	f.binary = true
	f.big = bit != 0
	f.codec = record.NewCodec(ft, true, f.big)

	// footer.ReadBinaryFooter/ReadTrailingOffset read through f.sr via
	// ReadAt, which leaves f.br's Read/Seek-based cursor exactly where it
	// is -- right after the "$ isBig" line -- with no extra seek-back
	// needed to satisfy the reader protocol.
	off, err := footer.ReadTrailingOffset(f.sr, f.sr.Size())
	if err != nil {
		raw.Close()
		return nil, err
	}
	ftr, err := footer.ReadBinaryFooter(f.sr, off, f.sr.Size(), f.big)
	if err != nil {
		raw.Close()
		return nil, err
	}
	f.footer = ftr
	f.acc.LoadFooterStats(ftr.Stats, ftr.GroupStats)
	for code, fc := range ftr.FieldCodecs {
		if li := f.codec.Info(code); li != nil {
			li.FieldCodec = fc
			li.UseFieldCodec = true
		}
	}
	for code, lc := range ftr.ListCodecs {
		if li := f.codec.Info(code); li != nil {
			li.ListCodec = lc
			li.UseListCodec = true
		}
	}
	f.idx = vindex.New(ftr.ObjectIndex, ftr.GroupIndex, f.sr)
	return f, nil
}

func readBinarySentinel(r *bufio.Reader) (int, error) {
	if _, err := r.ReadByte(); err != nil { // '$'
		return 0, oerr.Wrapf(oerr.IoError, err, "onecode: read binary sentinel")
	}
	if b, err := r.ReadByte(); err != nil || b != ' ' {
		return 0, oerr.New(oerr.ParseError, "onecode: malformed binary sentinel")
	}
	bit, err := r.ReadByte()
	if err != nil {
		return 0, oerr.Wrapf(oerr.IoError, err, "onecode: read binary sentinel bit")
	}
	if nl, err := r.ReadByte(); err != nil || nl != '\n' {
		return 0, oerr.New(oerr.ParseError, "onecode: malformed binary sentinel")
	}
	switch bit {
	case '0':
		return 0, nil
	case '1':
		return 1, nil
	default:
		return 0, oerr.New(oerr.ParseError, "onecode: malformed binary sentinel bit")
	}
}

// Create opens a new ONE-code file for serial writing. binary selects
// binary vs. ASCII encoding; big selects the binary byte order (spec §4.4).
func Create(path string, ft *schema.FileType, h footer.Header, binary, big bool, logger *slog.Logger) (*File, error) {
	return CreateParallel(path, ft, h, binary, big, 1, 0, logger)
}

// CreateParallel opens a new binary ONE-code file for sharded parallel
// writing across n shards (spec §4.9). n == 1 degenerates to the same
// machinery Create uses internally, so there is exactly one write path.
// ASCII output never shards (there is no codec training to coordinate), so
// n is ignored when binary is false.
func CreateParallel(path string, ft *schema.FileType, h footer.Header, binary, big bool, n int, codecTrainingSize uint64, logger *slog.Logger) (*File, error) {
	startMemLog(logger)
	out, err := os.Create(path)
	if err != nil {
		return nil, oerr.Wrapf(oerr.IoError, err, "onecode: create output file")
	}

	f := &File{ft: ft, writing: true, binary: binary, big: big, logger: logger, out: out, acc: accum.New(ft)}

	hdr := bufio.NewWriter(out)
	h.Type, h.Major, h.Minor = ft.Name, ft.Major, ft.Minor
	if err := footer.WriteASCIIHeader(hdr, h); err != nil {
		out.Close()
		return nil, err
	}

	if !binary {
		if err := hdr.Flush(); err != nil {
			out.Close()
			return nil, oerr.Wrapf(oerr.IoError, err, "onecode: flush ascii header")
		}
		f.bw = hdr
		f.codec = record.NewCodec(ft, false, false)
		return f, nil
	}

	if err := footer.WriteBinarySentinel(hdr, big); err != nil {
		out.Close()
		return nil, err
	}
	if err := hdr.Flush(); err != nil {
		out.Close()
		return nil, oerr.Wrapf(oerr.IoError, err, "onecode: flush binary sentinel")
	}

	if n < 1 {
		n = 1
	}
	if codecTrainingSize == 0 {
		codecTrainingSize = defaultCodecTrainingSize
	}
	ctl, err := shard.Open(ft, filepath.Dir(path), filepath.Base(path), out, n, codecTrainingSize)
	if err != nil {
		out.Close()
		return nil, err
	}
	f.shardCtl = ctl
	f.shardCodecs = make([]*record.Codec, n)
	f.shardBufs = make([]*bufio.Writer, n)
	for i := 0; i < n; i++ {
		f.shardCodecs[i] = record.NewCodec(ft, true, big)
		f.shardBufs[i] = bufio.NewWriter(ctl.Shard(i).File)
	}
	return f, nil
}

// ShardCount reports how many parallel write shards this session owns (1
// for a serial write or any read session).
func (f *File) ShardCount() int {
	if f.shardCtl == nil {
		return 1
	}
	return f.shardCtl.Count()
}

func listLenOf(ft *schema.FileType, line *record.Line) int64 {
	spec, ok := ft.Lookup(line.Code)
	if !ok || spec.ListField < 0 {
		return 0
	}
	switch spec.Fields[spec.ListField] {
	case schema.String:
		return int64(len(line.Str))
	case schema.IntList:
		return int64(len(line.IntList))
	case schema.RealList:
		return int64(len(line.RealList))
	case schema.StringList:
		return int64(len(line.StrList))
	default:
		return 0
	}
}

// WriteLine appends one record to a non-parallel write session (shard 0 of
// a parallel session, equivalently).
func (f *File) WriteLine(line *record.Line) error {
	return f.WriteLineToShard(0, line)
}

// WriteLineToShard appends one record on behalf of shard i of a parallel
// write session. Callers writing serially (Create, not CreateParallel) use
// shard 0 via WriteLine.
func (f *File) WriteLineToShard(shardIdx int, line *record.Line) error {
	if f.err != nil {
		return f.err
	}
	if !f.writing {
		err := oerr.New(oerr.StateError, "onecode: WriteLine on a read session")
		f.poison(err)
		return err
	}
	if f.shardCtl == nil {
		if shardIdx != 0 {
			err := oerr.New(oerr.StateError, "onecode: WriteLineToShard on a non-sharded session")
			f.poison(err)
			return err
		}
		return f.writeASCIILine(line)
	}
	return f.writeShardLine(shardIdx, line)
}

func (f *File) writeASCIILine(line *record.Line) error {
	code := line.Code
	if code != schema.CommentLine {
		if f.ft.Group != 0 && code == f.ft.Group {
			f.acc.StartGroup()
		}
		f.acc.Observe(code, listLenOf(f.ft, line))
	}
	if err := f.codec.WriteASCII(f.bw, line); err != nil {
		f.poison(err)
		return err
	}
	return nil
}

func (f *File) writeShardLine(shardIdx int, line *record.Line) error {
	sh := f.shardCtl.Shard(shardIdx)
	bw := f.shardBufs[shardIdx]
	codec := f.shardCodecs[shardIdx]
	code := line.Code

	if code == schema.CommentLine {
		// Comment lines are always ASCII-encoded, even inside an otherwise
		// binary file (spec §4.5/§6): the leading byte's high bit is what
		// tells a reader whether to binary- or ASCII-decode each record.
		if err := codec.WriteASCII(bw, line); err != nil {
			f.poison(err)
			return err
		}
		return nil
	}

	spec, ok := f.ft.Lookup(code)
	if !ok {
		err := oerr.New(oerr.SchemaViolation, "onecode: unregistered LineType in WriteLineToShard: "+string(code))
		f.poison(err)
		return err
	}

	if f.ft.Group != 0 && code == f.ft.Group {
		sh.Accum.StartGroup()
		sh.GroupIndex = append(sh.GroupIndex, int64(len(sh.ObjectIndex)))
	}
	if f.ft.Object != 0 && code == f.ft.Object {
		if err := bw.Flush(); err != nil {
			err = oerr.Wrapf(oerr.IoError, err, "onecode: flush shard before recording object offset")
			f.poison(err)
			return err
		}
		off, err := sh.File.Seek(0, io.SeekCurrent)
		if err != nil {
			err = oerr.Wrapf(oerr.IoError, err, "onecode: locate shard write offset")
			f.poison(err)
			return err
		}
		sh.ObjectIndex = append(sh.ObjectIndex, off)
	}
	sh.Accum.Observe(code, listLenOf(f.ft, line))

	li := codec.Info(code)
	li.FieldCodec = f.shardCtl.Shard(shardIdx).FieldCodecs[code]
	li.UseFieldCodec = f.shardCtl.FieldCommitted(code)
	if spec.ListField >= 0 && !spec.DNAList {
		li.ListCodec = f.shardCtl.Shard(shardIdx).ListCodecs[code]
		li.UseListCodec = f.shardCtl.ListCommitted(code)
	}

	if err := codec.WriteBinary(bw, line); err != nil {
		f.poison(err)
		return err
	}

	if !f.shardCtl.FieldCommitted(code) {
		if tuple := codec.TupleBytes(line); len(tuple) > 0 {
			if err := f.shardCtl.ObserveFieldBytes(shardIdx, code, tuple); err != nil {
				f.poison(err)
				return err
			}
		}
	}
	if spec.ListField >= 0 && !spec.DNAList && !f.shardCtl.ListCommitted(code) {
		if payload := codec.ListPayloadBytes(line); len(payload) > 0 {
			if err := f.shardCtl.ObserveListBytes(shardIdx, code, payload); err != nil {
				f.poison(err)
				return err
			}
		}
	}
	return nil
}

// ReadLine reads and returns the next record, binary- or ASCII-decoding it
// according to its own leading byte's high bit (spec §4.5) regardless of
// the file's overall mode -- this is how a binary file's "/" comment lines,
// themselves plain ASCII, interleave with its binary-encoded records. If
// the record just read is immediately followed by one or more comment
// lines, they are consumed rather than surfaced as separate records, and
// the last one's text replaces the returned Line's Comment field; the text
// of earlier comment lines in the run is not kept. io.EOF is returned once
// the record stream is exhausted.
func (f *File) ReadLine() (*record.Line, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.writing {
		err := oerr.New(oerr.StateError, "onecode: ReadLine on a write session")
		f.poison(err)
		return nil, err
	}
	line, err := f.readOneLine()
	if err != nil {
		if err != io.EOF {
			f.poison(err)
		}
		return nil, err
	}
	if line.Code != schema.CommentLine {
		for {
			peek, perr := f.br.Peek(1)
			if perr != nil || peek[0] != schema.CommentLine {
				break
			}
			c, cerr := f.readOneLine()
			if cerr != nil {
				f.poison(cerr)
				return nil, cerr
			}
			line.Comment = c.Comment
		}
	}
	return line, nil
}

func (f *File) readOneLine() (*record.Line, error) {
	b, err := f.br.ReadByte()
	if err != nil {
		return nil, err
	}
	if b&0x80 != 0 {
		return f.codec.ReadBinary(f.br, b)
	}
	switch b {
	case '\n', schema.CountLine, schema.MaxLine, schema.TotalLine, schema.GroupStatsLine,
		schema.ObjectIndex, schema.GroupIndex, schema.FooterEnd:
		// The ASCII stats trailer or the binary footer starts here, so the
		// record stream is over; the byte stays unread so later calls also
		// report io.EOF.
		f.br.UnreadByte()
		return nil, io.EOF
	}
	return f.codec.ReadASCII(f.br, b)
}

// GotoObject seeks a read session with a loaded footer to the start of
// object i (spec §4.8).
func (f *File) GotoObject(i int) error {
	if f.err != nil {
		return f.err
	}
	if f.idx == nil {
		err := oerr.New(oerr.StateError, "onecode: random access unavailable on this session")
		f.poison(err)
		return err
	}
	if err := f.idx.GotoObject(i); err != nil {
		f.poison(err)
		return err
	}
	f.br.Reset(f.sr)
	return nil
}

// GotoGroup seeks to the first object of group g and returns that group's
// object count (spec §4.8).
func (f *File) GotoGroup(g int) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.idx == nil {
		err := oerr.New(oerr.StateError, "onecode: random access unavailable on this session")
		f.poison(err)
		return 0, err
	}
	n, err := f.idx.GotoGroup(g)
	if err != nil {
		f.poison(err)
		return 0, err
	}
	f.br.Reset(f.sr)
	return n, nil
}

// ObjectCount and GroupCount report the sizes of the loaded indices, or 0
// if this read session never loaded a footer.
func (f *File) ObjectCount() int {
	if f.idx == nil {
		return 0
	}
	return f.idx.ObjectCount()
}

func (f *File) GroupCount() int {
	if f.idx == nil {
		return 0
	}
	return f.idx.GroupCount()
}

// Stats returns the running or footer-loaded file-wide statistics for one
// LineType.
func (f *File) Stats(code byte) accum.LineStats { return f.acc.Stats(code) }

// GroupStats returns the per-group maxima for one LineType.
func (f *File) GroupStats(code byte) accum.GroupStats { return f.acc.GroupStats(code) }

// Close finalizes and closes the session: for a read session, just the
// underlying file descriptor; for a write session, the accumulator's
// trailing group, the ASCII stats trailer or binary footer, and (for a
// sharded write) concatenating every shard's segment into the real output.
func (f *File) Close() error {
	if f.err != nil {
		return f.err
	}
	if !f.writing {
		return f.raw.Close()
	}
	if f.shardCtl == nil {
		return f.closeASCIIWrite()
	}
	return f.closeBinaryWrite()
}

func (f *File) closeASCIIWrite() error {
	f.acc.Finalize()
	if err := footer.WriteASCIIStats(f.bw, f.ft, f.acc); err != nil {
		f.poison(err)
		return err
	}
	if err := f.bw.Flush(); err != nil {
		err = oerr.Wrapf(oerr.IoError, err, "onecode: flush ascii file")
		f.poison(err)
		return err
	}
	return f.out.Close()
}

func (f *File) closeBinaryWrite() error {
	for i := 0; i < f.shardCtl.Count(); i++ {
		if err := f.shardBufs[i].Flush(); err != nil {
			err = oerr.Wrapf(oerr.IoError, err, "onecode: flush shard buffer")
			f.poison(err)
			return err
		}
		f.shardCtl.Shard(i).Accum.Finalize()
	}

	combined, objIndex, groupIndex, err := f.shardCtl.Close()
	if err != nil {
		f.poison(err)
		return err
	}

	footerStart, err := f.out.Seek(0, io.SeekEnd)
	if err != nil {
		err = oerr.Wrapf(oerr.IoError, err, "onecode: seek to footer start")
		f.poison(err)
		return err
	}

	if err := footer.WriteBinaryFooter(f.out, f.ft, combined, f.shardCtl, objIndex, groupIndex, f.big, footerStart); err != nil {
		f.poison(err)
		return err
	}
	return f.out.Close()
}
