// Package blockcache turns a one-way decompression stream into an
// [io.ReaderAt] by remembering resumable checkpoints and caching decoded
// blocks so repeated random-access reads (GotoObject, GotoGroup) over the
// same region of a transparently-decompressed file don't re-run inflate
// from the start every time.
package blockcache

import (
	"context"
	"fmt"
	"hash/maphash"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/allegro/bigcache/v3"
	"github.com/dgryski/go-tinylfu"
)

// Stepper decodes the next block starting at its implicit offset, returning
// the continuation stepper for the block after it. Callers never invoke a
// stepper more times than there is data, so a final stepper may be nil.
type Stepper func() (next Stepper, block []byte, err error)

// popularityN bounds the tinylfu admission filter; past this many distinct
// blocks tracked, the least popular stop being admitted into the byte cache
// even if there is still room, trading memory for hit rate under churn.
const popularityN = 4096

var monotonic uint64

// ReaderAt adapts a single decompression Stepper chain into random access.
// It is safe for concurrent ReadAt calls against disjoint regions already
// decoded; decoding a brand-new checkpoint is serialized by mu.
type ReaderAt struct {
	mu          sync.Mutex
	uniq        uint64
	debugName   string
	size        int64
	checkpoints []checkpoint

	store      *bigcache.BigCache
	popularity *tinylfu.T[uint64, struct{}]
}

type checkpoint struct {
	stepper Stepper
	offset  int64
	err     error
}

// New wraps stepper (which must start at offset 0) as a ReaderAt over a
// decompressed stream of the given total size. debugName disambiguates cache
// keys between distinct files sharing one process-wide block store.
func New(stepper Stepper, size int64, debugName string, store *bigcache.BigCache) *ReaderAt {
	seed := maphash.MakeSeed()
	r := &ReaderAt{
		uniq:        atomic.AddUint64(&monotonic, 1),
		debugName:   debugName,
		size:        size,
		checkpoints: []checkpoint{{stepper: stepper, offset: 0}},
		store:       store,
	}
	r.popularity = tinylfu.New[uint64, struct{}](popularityN, popularityN*10,
		func(k uint64) uint64 { return maphash.Comparable(seed, k) },
		tinylfu.OnEvict(func(offset uint64, _ struct{}) {
			r.store.Delete(r.key(int64(offset)))
		}))
	return r
}

// NewStore creates the shared bigcache instance used to back one or more
// ReaderAts. Call once per process and pass the result to every New.
func NewStore(maxMegabytes int) (*bigcache.BigCache, error) {
	return bigcache.New(context.Background(), bigcache.Config{
		HardMaxCacheSize: maxMegabytes,
		Shards:           1024,
	})
}

// Size reports the total decompressed length.
func (r *ReaderAt) Size() int64 { return r.size }

func (r *ReaderAt) key(offset int64) string {
	return fmt.Sprintf("%s_%d_%d", r.debugName, r.uniq, offset)
}

// ReadAt implements io.ReaderAt, decoding or fetching cached blocks as
// needed to satisfy the request, walking forward through checkpoints when
// the request spans more than one decoded block.
func (r *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	if off+int64(len(p)) > r.size {
		p = p[:r.size-off]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := sort.Search(len(r.checkpoints), func(i int) bool {
		return r.checkpoints[i].offset > off
	}) - 1

	for {
		cp := &r.checkpoints[i]
		blob, ok := r.blockAt(cp)
		if !ok {
			return 0, fmt.Errorf("blockcache: decode block at offset %d: %w", cp.offset, cp.err)
		}

		destOff, srcOff, ok := overlap(off, len(p), cp.offset, len(blob))
		if !ok {
			return 0, fmt.Errorf("blockcache: decoded block at %d does not cover requested offset %d", cp.offset, off)
		}
		n := copy(p[destOff:], blob[srcOff:])
		if destOff+n == len(p) || cp.err != nil {
			return destOff + n, cp.err
		}
		i++
	}
}

// blockAt returns the decoded bytes for checkpoint cp, decoding (and
// recording the next checkpoint) on a cache miss.
func (r *ReaderAt) blockAt(cp *checkpoint) ([]byte, bool) {
	key := r.key(cp.offset)
	if blob, err := r.store.Get(key); err == nil {
		return blob, true
	}

	next, blob, err := cp.stepper()
	cp.err = err
	if cp.offset+int64(len(blob)) >= r.size {
		cp.err = io.EOF
	}
	if cp.err != nil && cp.err != io.EOF {
		return nil, false
	}

	r.popularity.Add(uint64(cp.offset), struct{}{})
	r.store.Set(key, blob)

	idx := sort.Search(len(r.checkpoints), func(i int) bool {
		return r.checkpoints[i].offset >= cp.offset
	})
	if cp.err == nil && (idx+1 >= len(r.checkpoints) || r.checkpoints[idx+1].offset != cp.offset+int64(len(blob))) {
		r.checkpoints = append(r.checkpoints, checkpoint{stepper: next, offset: cp.offset + int64(len(blob))})
		sort.Slice(r.checkpoints, func(a, b int) bool { return r.checkpoints[a].offset < r.checkpoints[b].offset })
	}
	return blob, true
}

func overlap(aOffset int64, aLen int, bOffset int64, bLen int) (aInner, bInner int, ok bool) {
	if aOffset >= bOffset+int64(bLen) || bOffset >= aOffset+int64(aLen) {
		return 0, 0, false
	}
	if aOffset > bOffset {
		bInner = int(aOffset - bOffset)
	} else {
		aInner = int(bOffset - aOffset)
	}
	return aInner, bInner, true
}
