// Package accum tracks the per-LineType running counts that populate a
// file's ASCII header/footer stats lines (#, @, +) and the per-group deltas
// recorded at each group boundary (%).
package accum

import "github.com/vgp-tools/onecode/internal/schema"

// LineStats is one LineType's running totals across the whole file.
type LineStats struct {
	Count int64 // number of records of this LineType seen so far
	Max   int64 // largest single list/string length seen (0 if not list-bearing)
	Total int64 // sum of list/string lengths seen
}

// GroupStats is one LineType's maximum count/total observed within any
// single group, across every group closed so far (spec §4.6: "take the max
// with the existing groupCount/groupTotal").
type GroupStats struct {
	Count int64
	Total int64
}

// Accumulator holds running per-LineType statistics for one open file,
// keyed by LineType code.
type Accumulator struct {
	ft  *schema.FileType
	all map[byte]*LineStats

	curGroup map[byte]*GroupStats // accumulating since the last group boundary
	maxGroup map[byte]*GroupStats // maxima across every group closed so far
}

// New builds an Accumulator with zeroed stats for every registered LineType.
func New(ft *schema.FileType) *Accumulator {
	a := &Accumulator{
		ft:       ft,
		all:      make(map[byte]*LineStats),
		curGroup: make(map[byte]*GroupStats),
		maxGroup: make(map[byte]*GroupStats),
	}
	for _, code := range ft.Codes() {
		a.all[code] = &LineStats{}
		a.curGroup[code] = &GroupStats{}
		a.maxGroup[code] = &GroupStats{}
	}
	return a
}

// Observe records one line of the given LineType with the given list/string
// length (0 for non-list-bearing LineTypes). It does not update group
// statistics for comment lines, matching the reference behaviour of not
// counting comments that fall between records inside a group.
func (a *Accumulator) Observe(code byte, listLen int64) {
	if code == schema.CommentLine {
		return
	}
	s := a.all[code]
	if s == nil {
		return
	}
	s.Count++
	s.Total += listLen
	if listLen > s.Max {
		s.Max = listLen
	}
	g := a.curGroup[code]
	if g != nil {
		g.Count++
		g.Total += listLen
	}
}

// StartGroup folds the just-closed group's per-LineType count/total into the
// running per-group maxima, then resets the current group's accumulation to
// zero. Called when a new group-opening LineType record is observed.
func (a *Accumulator) StartGroup() {
	for code, g := range a.curGroup {
		m := a.maxGroup[code]
		if m == nil {
			m = &GroupStats{}
			a.maxGroup[code] = m
		}
		if g.Count > m.Count {
			m.Count = g.Count
		}
		if g.Total > m.Total {
			m.Total = g.Total
		}
		a.curGroup[code] = &GroupStats{}
	}
}

// Finalize folds the still-open trailing group into the running maxima, the
// same way StartGroup would for a group boundary that never arrives. Call
// once, at session close, before reading GroupStats for the footer.
func (a *Accumulator) Finalize() { a.StartGroup() }

// Stats returns the running file-wide statistics for one LineType.
func (a *Accumulator) Stats(code byte) LineStats {
	if s := a.all[code]; s != nil {
		return *s
	}
	return LineStats{}
}

// GroupStats returns, for one LineType, the largest count/total seen within
// any single completed group (including the trailing group, once Finalize
// has run).
func (a *Accumulator) GroupStats(code byte) GroupStats {
	if g := a.maxGroup[code]; g != nil {
		return *g
	}
	return GroupStats{}
}

// LoadFooterStats installs stats read back from a binary footer directly,
// bypassing Observe/StartGroup -- used when opening an already-closed file
// for read, where the footer already carries the finalized totals.
func (a *Accumulator) LoadFooterStats(stats map[byte]LineStats, groupStats map[byte]GroupStats) {
	for code, s := range stats {
		v := s
		a.all[code] = &v
	}
	for code, g := range groupStats {
		v := g
		a.maxGroup[code] = &v
	}
}

// Merge folds another Accumulator's file-wide and per-group maxima into this
// one, used to combine per-shard accumulators when a parallel write closes.
// Each shard's groups are disjoint (groups do not cross shard boundaries),
// so group maxima combine the same way file-wide maxima do: by taking the
// larger of the two. Callers merge only accumulators that have already been
// finalized, so no shard's still-open trailing group is left unfolded.
func (a *Accumulator) Merge(other *Accumulator) {
	for code, s := range other.all {
		dst := a.all[code]
		if dst == nil {
			dst = &LineStats{}
			a.all[code] = dst
		}
		dst.Count += s.Count
		dst.Total += s.Total
		if s.Max > dst.Max {
			dst.Max = s.Max
		}
	}
	for code, g := range other.maxGroup {
		dst := a.maxGroup[code]
		if dst == nil {
			dst = &GroupStats{}
			a.maxGroup[code] = dst
		}
		if g.Count > dst.Count {
			dst.Count = g.Count
		}
		if g.Total > dst.Total {
			dst.Total = g.Total
		}
	}
}
