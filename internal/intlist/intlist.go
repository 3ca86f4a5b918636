// Package intlist implements the optional difference coding and top-byte
// stripping ("pack-zero" compaction) applied to INT_LIST payloads before
// binary write, and reversed after binary read.
package intlist

import "encoding/binary"

// Pack differences work (if diff is set) then strips the high bytes that
// are pure sign-extension of the low d bytes, returning the packed payload
// and z = 8-d, the count of stripped bytes per element. big selects the
// byte order of the kept bytes within each element, matching the owning
// session's endianness.
func Pack(values []int64, diff bool, big bool) (packed []byte, z int) {
	work := make([]int64, len(values))
	copy(work, values)
	if diff {
		for i := len(work) - 1; i > 0; i-- {
			work[i] -= work[i-1]
		}
	}

	d := minBytes(work)
	z = 8 - d
	packed = make([]byte, len(work)*d)
	var buf [8]byte
	for i, v := range work {
		if big {
			binary.BigEndian.PutUint64(buf[:], uint64(v))
			copy(packed[i*d:], buf[8-d:])
		} else {
			binary.LittleEndian.PutUint64(buf[:], uint64(v))
			copy(packed[i*d:], buf[:d])
		}
	}
	return packed, z
}

// Unpack reverses Pack: it sign-extends each d = 8-z byte element back to a
// full int64, then reverses differencing if diff is set.
func Unpack(packed []byte, n int, z int, diff bool, big bool) []int64 {
	d := 8 - z
	out := make([]int64, n)
	var buf [8]byte
	for i := 0; i < n; i++ {
		chunk := packed[i*d : i*d+d]
		if big {
			for j := 0; j < 8-d; j++ {
				buf[j] = 0
			}
			copy(buf[8-d:], chunk)
			if d > 0 && chunk[0]&0x80 != 0 {
				for j := 0; j < 8-d; j++ {
					buf[j] = 0xFF
				}
			}
			out[i] = int64(binary.BigEndian.Uint64(buf[:]))
		} else {
			for j := d; j < 8; j++ {
				buf[j] = 0
			}
			copy(buf[:d], chunk)
			if d > 0 && chunk[d-1]&0x80 != 0 {
				for j := d; j < 8; j++ {
					buf[j] = 0xFF
				}
			}
			out[i] = int64(binary.LittleEndian.Uint64(buf[:]))
		}
	}
	if diff {
		for i := 1; i < n; i++ {
			out[i] += out[i-1]
		}
	}
	return out
}

// minBytes finds the smallest d in [1,8] such that every value's sign-
// extension bits above the low 8*d bits are redundant: positive values are
// OR'd directly, negative values are OR'd as their one's complement, and d
// is the smallest count of low bytes whose removal loses no information.
func minBytes(work []int64) int {
	var combined uint64
	for _, v := range work {
		if v >= 0 {
			combined |= uint64(v)
		} else {
			combined |= ^uint64(v)
		}
	}
	for d := 1; d < 8; d++ {
		if combined>>uint(8*d) == 0 {
			return d
		}
	}
	return 8
}
