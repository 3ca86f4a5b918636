package record

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/vgp-tools/onecode/internal/oerr"
	"github.com/vgp-tools/onecode/internal/schema"
)

// WriteASCII writes one human-readable line: the LineType code, then each
// field separated by a single space, per spec's field-kind grammar.
func (c *Codec) WriteASCII(w *bufio.Writer, line *Line) error {
	if line.Code == schema.CommentLine {
		if _, err := w.WriteString("/ "); err != nil {
			return oerr.Wrapf(oerr.IoError, err, "record: write comment line")
		}
		if _, err := w.WriteString(line.Comment); err != nil {
			return oerr.Wrapf(oerr.IoError, err, "record: write comment line")
		}
		return w.WriteByte('\n')
	}

	li := c.infos[line.Code]
	if li == nil {
		return oerr.New(oerr.SchemaViolation, "record: unregistered LineType for ASCII write: "+string(line.Code))
	}
	if err := w.WriteByte(line.Code); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "record: write LineType code")
	}

	for i, kind := range li.Spec.Fields {
		if err := w.WriteByte(' '); err != nil {
			return oerr.Wrapf(oerr.IoError, err, "record: write field separator")
		}
		switch kind {
		case schema.Int:
			if _, err := io.WriteString(w, strconv.FormatInt(line.Fields[i].Int, 10)); err != nil {
				return oerr.Wrapf(oerr.IoError, err, "record: write INT field")
			}
		case schema.Real:
			if _, err := io.WriteString(w, strconv.FormatFloat(line.Fields[i].Real, 'g', -1, 64)); err != nil {
				return oerr.Wrapf(oerr.IoError, err, "record: write REAL field")
			}
		case schema.Char:
			if err := w.WriteByte(byte(line.Fields[i].Int)); err != nil {
				return oerr.Wrapf(oerr.IoError, err, "record: write CHAR field")
			}
		case schema.String:
			if err := writeLenPrefixed(w, line.Str); err != nil {
				return err
			}
		case schema.IntList:
			if _, err := io.WriteString(w, strconv.Itoa(len(line.IntList))); err != nil {
				return oerr.Wrapf(oerr.IoError, err, "record: write INT_LIST length")
			}
			for _, v := range line.IntList {
				if err := w.WriteByte(' '); err != nil {
					return oerr.Wrapf(oerr.IoError, err, "record: write INT_LIST separator")
				}
				if _, err := io.WriteString(w, strconv.FormatInt(v, 10)); err != nil {
					return oerr.Wrapf(oerr.IoError, err, "record: write INT_LIST element")
				}
			}
		case schema.RealList:
			if _, err := io.WriteString(w, strconv.Itoa(len(line.RealList))); err != nil {
				return oerr.Wrapf(oerr.IoError, err, "record: write REAL_LIST length")
			}
			for _, v := range line.RealList {
				if err := w.WriteByte(' '); err != nil {
					return oerr.Wrapf(oerr.IoError, err, "record: write REAL_LIST separator")
				}
				if _, err := io.WriteString(w, strconv.FormatFloat(v, 'g', -1, 64)); err != nil {
					return oerr.Wrapf(oerr.IoError, err, "record: write REAL_LIST element")
				}
			}
		case schema.StringList:
			if _, err := io.WriteString(w, strconv.Itoa(len(line.StrList))); err != nil {
				return oerr.Wrapf(oerr.IoError, err, "record: write STRING_LIST length")
			}
			for _, s := range line.StrList {
				if err := w.WriteByte(' '); err != nil {
					return oerr.Wrapf(oerr.IoError, err, "record: write STRING_LIST separator")
				}
				if err := writeLenPrefixed(w, s); err != nil {
					return err
				}
			}
		}
	}
	return w.WriteByte('\n')
}

func writeLenPrefixed(w *bufio.Writer, s []byte) error {
	if _, err := io.WriteString(w, strconv.Itoa(len(s))); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "record: write length-prefixed string length")
	}
	if err := w.WriteByte(' '); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "record: write length-prefixed separator")
	}
	if _, err := w.Write(s); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "record: write length-prefixed string body")
	}
	return nil
}

// ReadASCII parses one line. Code has already been peeked and consumed by
// the caller (the session layer, which must branch on it before dispatching
// here for header/footer/index lines that this package does not know about).
func (c *Codec) ReadASCII(r *bufio.Reader, code byte) (*Line, error) {
	if code == schema.CommentLine {
		text, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, oerr.Wrapf(oerr.IoError, err, "record: read comment line")
		}
		return &Line{Code: code, Comment: strings.TrimSuffix(strings.TrimPrefix(text, " "), "\n")}, nil
	}

	li := c.infos[code]
	if li == nil {
		return nil, oerr.New(oerr.SchemaViolation, "record: unregistered LineType for ASCII read: "+string(code))
	}
	line := &Line{Code: code, Fields: make([]Field, len(li.Spec.Fields))}

	for i, kind := range li.Spec.Fields {
		switch kind {
		case schema.Int:
			tok, err := readToken(r)
			if err != nil {
				return nil, oerr.AtLine(int(code), tok, "record: read INT field")
			}
			v, perr := strconv.ParseInt(tok, 10, 64)
			if perr != nil {
				return nil, oerr.AtLine(int(code), tok, "record: malformed INT field")
			}
			line.Fields[i].Int = v
		case schema.Real:
			tok, err := readToken(r)
			if err != nil {
				return nil, oerr.AtLine(int(code), tok, "record: read REAL field")
			}
			v, perr := strconv.ParseFloat(tok, 64)
			if perr != nil {
				return nil, oerr.AtLine(int(code), tok, "record: malformed REAL field")
			}
			line.Fields[i].Real = v
		case schema.Char:
			if err := skipOneSpace(r); err != nil {
				return nil, oerr.AtLine(int(code), "", "record: read CHAR field")
			}
			b, err := r.ReadByte()
			if err != nil {
				return nil, oerr.AtLine(int(code), "", "record: read CHAR field")
			}
			line.Fields[i].Int = int64(b)
		case schema.String:
			n, err := readLenToken(r)
			if err != nil {
				return nil, err
			}
			s, err := readRawString(r, n)
			if err != nil {
				return nil, err
			}
			line.Str = s
			line.Fields[i].Int = int64(n)
		case schema.IntList:
			n, err := readLenToken(r)
			if err != nil {
				return nil, err
			}
			vals := make([]int64, n)
			for j := 0; j < n; j++ {
				tok, err := readToken(r)
				if err != nil {
					return nil, oerr.AtLine(int(code), tok, "record: read INT_LIST element")
				}
				v, perr := strconv.ParseInt(tok, 10, 64)
				if perr != nil {
					return nil, oerr.AtLine(int(code), tok, "record: malformed INT_LIST element")
				}
				vals[j] = v
			}
			line.IntList = vals
			line.Fields[i].Int = int64(n)
		case schema.RealList:
			n, err := readLenToken(r)
			if err != nil {
				return nil, err
			}
			vals := make([]float64, n)
			for j := 0; j < n; j++ {
				tok, err := readToken(r)
				if err != nil {
					return nil, oerr.AtLine(int(code), tok, "record: read REAL_LIST element")
				}
				v, perr := strconv.ParseFloat(tok, 64)
				if perr != nil {
					return nil, oerr.AtLine(int(code), tok, "record: malformed REAL_LIST element")
				}
				vals[j] = v
			}
			line.RealList = vals
			line.Fields[i].Int = int64(n)
		case schema.StringList:
			n, err := readLenToken(r)
			if err != nil {
				return nil, err
			}
			vals := make([][]byte, n)
			for j := 0; j < n; j++ {
				ln, err := readLenToken(r)
				if err != nil {
					return nil, err
				}
				s, err := readRawString(r, ln)
				if err != nil {
					return nil, err
				}
				vals[j] = s
			}
			line.StrList = vals
			line.Fields[i].Int = int64(n)
		}
	}
	if err := consumeEOL(r); err != nil && err != io.EOF {
		return nil, oerr.Wrapf(oerr.IoError, err, "record: consume end of line")
	}
	return line, nil
}

func readLenToken(r *bufio.Reader) (int, error) {
	tok, err := readToken(r)
	if err != nil {
		return 0, oerr.Wrapf(oerr.IoError, err, "record: read length token")
	}
	n, perr := strconv.Atoi(tok)
	if perr != nil || n < 0 {
		return 0, oerr.AtLine(0, tok, "record: malformed length token")
	}
	return n, nil
}

func skipOneSpace(r *bufio.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b != ' ' {
		return oerr.New(oerr.ParseError, "record: expected a single space")
	}
	return nil
}

// readRawString reads exactly n raw bytes. The single space separating the
// preceding length token from these bytes was already consumed by
// readLenToken (readToken swallows its own trailing delimiter), so no
// further space-skipping happens here.
func readRawString(r *bufio.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, oerr.Wrapf(oerr.IoError, err, "record: read length-prefixed string body")
	}
	return buf, nil
}

// readToken skips leading spaces, then reads bytes up to (not including) the
// next space or newline. A trailing newline is left unconsumed so the caller
// can detect end of record.
func readToken(r *bufio.Reader) (string, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b != ' ' {
			if err := r.UnreadByte(); err != nil {
				return "", err
			}
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
		if b == ' ' {
			break
		}
		if b == '\n' {
			if err := r.UnreadByte(); err != nil {
				return "", err
			}
			break
		}
		sb.WriteByte(b)
	}
	return sb.String(), nil
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
