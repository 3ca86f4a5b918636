package onecode

import "github.com/vgp-tools/onecode/internal/oerr"

// Error is the concrete shape of every fatal error this package returns.
// There is no recoverable path inside a session: once an operation returns
// an *Error, the owning File is unusable and should be closed.
type Error = oerr.Error

// Error kinds, re-exported from the internal taxonomy so callers can
// switch on errors.As(err, *onecode.Error) without reaching into internal/.
const (
	SchemaViolation = oerr.SchemaViolation
	ParseError      = oerr.ParseError
	BinaryError     = oerr.BinaryError
	CodecError      = oerr.CodecError
	StateError      = oerr.StateError
	IoError         = oerr.IoError
)
