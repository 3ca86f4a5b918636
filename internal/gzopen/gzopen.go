// Package gzopen implements TransparentOpen: opening a ONE-code file through
// whatever outer compression wraps it, sniffed from its header bytes rather
// than trusted from its filename.
package gzopen

import (
	"io"

	"github.com/DataDog/zstd"
	"github.com/klauspost/compress/gzip"
	"github.com/therootcompany/xz"

	"github.com/vgp-tools/onecode/internal/oerr"
)

// Kind names the compression, if any, detected by Sniff.
type Kind int

const (
	None Kind = iota
	Gzip
	Xz
	Zstd
)

func (k Kind) String() string {
	switch k {
	case Gzip:
		return "gzip"
	case Xz:
		return "xz"
	case Zstd:
		return "zstd"
	default:
		return "none"
	}
}

// Sniff inspects the first bytes available from ra and reports which
// compression, if any, wraps the stream.
func Sniff(ra io.ReaderAt) (Kind, error) {
	head := make([]byte, 16)
	n, err := ra.ReadAt(head, 0)
	if n < 4 {
		if err == io.EOF {
			return None, nil
		}
		if err != nil {
			return None, oerr.Wrapf(oerr.IoError, err, "gzopen: read header")
		}
	}
	at := func(s string, o int) bool { return o+len(s) <= n && string(head[o:o+len(s)]) == s }

	switch {
	case at("\x1f\x8b\x08", 0):
		return Gzip, nil
	case at("\xfd7zXZ\x00", 0):
		return Xz, nil
	case at("\x28\xb5\x2f\xfd", 0):
		return Zstd, nil
	default:
		return None, nil
	}
}

// TransparentOpen wraps ra in a decompressing io.Reader matching its
// sniffed Kind, or returns ra itself unchanged (wrapped as a Reader) when
// no known compression is detected.
func TransparentOpen(ra io.ReaderAt) (io.Reader, Kind, error) {
	kind, err := Sniff(ra)
	if err != nil {
		return nil, None, err
	}
	src := io.NewSectionReader(ra, 0, 1<<62)

	switch kind {
	case Gzip:
		r, err := gzip.NewReader(src)
		if err != nil {
			return nil, None, oerr.Wrapf(oerr.IoError, err, "gzopen: open gzip stream")
		}
		return r, Gzip, nil
	case Xz:
		r, err := xz.NewReader(src, xz.DefaultDictMax)
		if err != nil {
			return nil, None, oerr.Wrapf(oerr.IoError, err, "gzopen: open xz stream")
		}
		return r, Xz, nil
	case Zstd:
		return zstd.NewReader(src), Zstd, nil
	default:
		return src, None, nil
	}
}
