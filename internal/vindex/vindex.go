// Package vindex implements random access over a binary ONE-code file using
// the object-offset and group-start-object indices recovered from the
// footer: seeking to a given object or group number.
package vindex

import (
	"io"

	"github.com/vgp-tools/onecode/internal/oerr"
)

// Index holds the two index arrays recovered from a footer, plus the
// underlying seeker the session reads records from.
type Index struct {
	ObjectOffsets []int64 // length == object count, strictly increasing
	GroupStarts   []int64 // length == group count + 1, last entry == object count

	seeker io.Seeker
}

// New wraps the index arrays read from the footer together with the
// session's seekable handle.
func New(objectOffsets, groupStarts []int64, seeker io.Seeker) *Index {
	return &Index{ObjectOffsets: objectOffsets, GroupStarts: groupStarts, seeker: seeker}
}

// ObjectCount is the number of objects recorded in the object-offset index.
func (x *Index) ObjectCount() int { return len(x.ObjectOffsets) }

// GroupCount is the number of groups recorded in the group-start index.
func (x *Index) GroupCount() int {
	if len(x.GroupStarts) == 0 {
		return 0
	}
	return len(x.GroupStarts) - 1
}

// GotoObject seeks to the start of object i, so the next record read is the
// i-th object (0-based). It reports an error if i is out of range.
func (x *Index) GotoObject(i int) error {
	if i < 0 || i >= len(x.ObjectOffsets) {
		return oerr.New(oerr.StateError, "vindex: object index out of range")
	}
	if _, err := x.seeker.Seek(x.ObjectOffsets[i], io.SeekStart); err != nil {
		return oerr.Wrapf(oerr.IoError, err, "vindex: seek to object")
	}
	return nil
}

// GotoGroup seeks to the first object of group g and returns the number of
// objects within that group.
func (x *Index) GotoGroup(g int) (int, error) {
	if g < 0 || g >= x.GroupCount() {
		return 0, oerr.New(oerr.StateError, "vindex: group index out of range")
	}
	if err := x.GotoObject(int(x.GroupStarts[g])); err != nil {
		return 0, err
	}
	return int(x.GroupStarts[g+1] - x.GroupStarts[g]), nil
}
