// Package shard implements ShardController: parallel-write coordination
// across N shards, each writing its own temporary segment, with shard-local
// Huffman training merged into one authoritative codec under a mutex and
// concatenated into the real output file at close.
package shard

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/vgp-tools/onecode/internal/accum"
	"github.com/vgp-tools/onecode/internal/huffman"
	"github.com/vgp-tools/onecode/internal/oerr"
	"github.com/vgp-tools/onecode/internal/schema"
)

// blockSize is the read/write chunk used when concatenating shard segments
// into the final output file at close.
const blockSize = 10 << 20

// Shard is one worker's private write state: its own output (the real file
// for shard 0, a uniquely-named temporary file for the rest), its own
// accumulator, its own per-LineType codec instances (shard-local until a
// commit replaces them with shard 0's), and its own training tallies.
type Shard struct {
	Index int
	File  *os.File
	Path  string // temp file path, empty for shard 0

	Accum       *accum.Accumulator
	ObjectIndex []int64 // byte offsets local to this shard's segment
	GroupIndex  []int64 // object numbers local to this shard's segment

	FieldCodecs map[byte]*huffman.Codec
	ListCodecs  map[byte]*huffman.Codec

	fieldTack map[byte]uint64
	listTack  map[byte]uint64
}

// Controller coordinates N shards writing one logical ONE-code file.
type Controller struct {
	ft  *schema.FileType
	dir string

	shards []*Shard

	fieldLock sync.Mutex
	listLock  sync.Mutex

	fieldCommitted map[byte]bool
	listCommitted  map[byte]bool

	trainingThreshold uint64 // codecTrainingSize / (3*N), per shard
}

// Open creates a Controller with n shards. out is the real output file
// (shard 0's destination); baseName seeds the temp file names for shards
// 1..n-1, created in dir.
func Open(ft *schema.FileType, dir, baseName string, out *os.File, n int, codecTrainingSize uint64) (*Controller, error) {
	if n < 1 {
		return nil, oerr.New(oerr.SchemaViolation, "shard: shard count must be >= 1")
	}
	c := &Controller{
		ft:                ft,
		dir:               dir,
		fieldCommitted:    make(map[byte]bool),
		listCommitted:     make(map[byte]bool),
		trainingThreshold: codecTrainingSize / uint64(3*n),
	}

	for i := 0; i < n; i++ {
		s := &Shard{
			Index:       i,
			Accum:       accum.New(ft),
			FieldCodecs: make(map[byte]*huffman.Codec),
			ListCodecs:  make(map[byte]*huffman.Codec),
			fieldTack:   make(map[byte]uint64),
			listTack:    make(map[byte]uint64),
		}
		for _, code := range ft.Codes() {
			s.FieldCodecs[code] = huffman.New()
			s.ListCodecs[code] = huffman.New()
		}
		if i == 0 {
			s.File = out
		} else {
			h := xxhash.Sum64String(fmt.Sprintf("%s-shard-%d-%d", baseName, i, os.Getpid()))
			path := filepath.Join(dir, fmt.Sprintf(".%s.%016x.tmp", baseName, h))
			f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_EXCL, 0o600)
			if err != nil {
				return nil, oerr.Wrapf(oerr.IoError, err, "shard: create temp segment")
			}
			s.File = f
			s.Path = path
		}
		c.shards = append(c.shards, s)
	}
	return c, nil
}

// Shard returns the i-th shard's private write state.
func (c *Controller) Shard(i int) *Shard { return c.shards[i] }

// Count returns the number of shards.
func (c *Controller) Count() int { return len(c.shards) }

// FieldCodec returns shard 0's codec for code, which becomes the
// authoritative, immutable codec for every shard once committed.
func (c *Controller) FieldCodec(code byte) *huffman.Codec { return c.shards[0].FieldCodecs[code] }
func (c *Controller) ListCodec(code byte) *huffman.Codec  { return c.shards[0].ListCodecs[code] }

// ObserveFieldBytes folds n freshly-written field-tuple bytes for code into
// shard i's local training tally, potentially crossing the shard-local
// threshold and triggering a mutex-guarded commit attempt.
func (c *Controller) ObserveFieldBytes(shardIdx int, code byte, sample []byte) error {
	return c.observe(shardIdx, code, sample, true)
}

// ObserveListBytes is the list-codec counterpart of ObserveFieldBytes.
func (c *Controller) ObserveListBytes(shardIdx int, code byte, sample []byte) error {
	return c.observe(shardIdx, code, sample, false)
}

func (c *Controller) observe(shardIdx int, code byte, sample []byte, field bool) error {
	s := c.shards[shardIdx]
	tack := s.fieldTack
	localCodecs := s.FieldCodecs
	lock := &c.fieldLock
	committed := c.fieldCommitted
	if !field {
		tack = s.listTack
		localCodecs = s.ListCodecs
		lock = &c.listLock
		committed = c.listCommitted
	}

	if committed[code] {
		return nil
	}

	localCodec := localCodecs[code]
	if err := localCodec.AddSamples(sample); err != nil {
		return err
	}
	tack[code] += uint64(len(sample))
	if tack[code] < c.trainingThreshold {
		return nil
	}

	lock.Lock()
	defer lock.Unlock()
	if committed[code] {
		return nil
	}

	shard0Codec := c.shards[0].FieldCodecs[code]
	if !field {
		shard0Codec = c.shards[0].ListCodecs[code]
	}
	if shardIdx != 0 {
		if err := shard0Codec.MergeHistogram(localCodec); err != nil {
			return err
		}
	}
	tack[code] = 0

	if shard0Codec.TrainedBytes() < c.trainingThreshold*uint64(len(c.shards)) {
		return nil
	}

	if err := shard0Codec.BuildCode(true); err != nil {
		return err
	}
	committed[code] = true
	for _, sh := range c.shards {
		if field {
			sh.FieldCodecs[code] = shard0Codec
		} else {
			sh.ListCodecs[code] = shard0Codec
		}
	}
	return nil
}

// FieldCommitted reports whether code's field codec has committed to a
// built code and should now be used for compression.
func (c *Controller) FieldCommitted(code byte) bool { return c.fieldCommitted[code] }

// ListCommitted is the list-codec counterpart of FieldCommitted.
func (c *Controller) ListCommitted(code byte) bool { return c.listCommitted[code] }

// Close concatenates shards 1..n-1's temporary segments onto shard 0's
// file in blockSize chunks, unlinking each temporary afterward, merges
// accumulators, and stitches per-shard object/group indices with cumulative
// offsets applied. It returns the combined accumulator and indices; the
// caller is responsible for writing the footer and closing shard 0's file.
func (c *Controller) Close() (*accum.Accumulator, []int64, []int64, error) {
	shard0 := c.shards[0]
	combined := shard0.Accum

	var objIndex []int64
	var groupIndex []int64
	objIndex = append(objIndex, shard0.ObjectIndex...)
	groupIndex = append(groupIndex, shard0.GroupIndex...)

	byteOffset, err := shard0.File.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, nil, nil, oerr.Wrapf(oerr.IoError, err, "shard: seek shard 0 to end")
	}
	objOffset := int64(len(objIndex))

	buf := make([]byte, blockSize)
	for i := 1; i < len(c.shards); i++ {
		s := c.shards[i]
		if _, err := s.File.Seek(0, io.SeekStart); err != nil {
			return nil, nil, nil, oerr.Wrapf(oerr.IoError, err, "shard: seek temp segment")
		}
		for {
			n, rerr := s.File.Read(buf)
			if n > 0 {
				if _, werr := shard0.File.Write(buf[:n]); werr != nil {
					return nil, nil, nil, oerr.Wrapf(oerr.IoError, werr, "shard: concatenate temp segment")
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				return nil, nil, nil, oerr.Wrapf(oerr.IoError, rerr, "shard: read temp segment")
			}
		}
		if err := s.File.Close(); err != nil {
			return nil, nil, nil, oerr.Wrapf(oerr.IoError, err, "shard: close temp segment")
		}
		if err := os.Remove(s.Path); err != nil {
			return nil, nil, nil, oerr.Wrapf(oerr.IoError, err, "shard: unlink temp segment")
		}

		for _, off := range s.ObjectIndex {
			objIndex = append(objIndex, off+byteOffset)
		}
		for _, obj := range s.GroupIndex {
			groupIndex = append(groupIndex, obj+objOffset)
		}
		combined.Merge(s.Accum)

		byteOffset, err = shard0.File.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, nil, nil, oerr.Wrapf(oerr.IoError, err, "shard: seek shard 0 to end")
		}
		objOffset = int64(len(objIndex))
	}

	if len(groupIndex) > 0 {
		groupIndex = append(groupIndex, int64(len(objIndex)))
	}
	return combined, objIndex, groupIndex, nil
}
