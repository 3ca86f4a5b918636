package huffman

import "sort"

// coin is one item in a package-merge list: a weight and the set of
// original symbol indices it "pays for" if selected.
type coin struct {
	weight uint64
	syms   []int
}

// packageMergeLengths computes length-limited Huffman code lengths for the
// given symbol weights (all > 0) using the Larmore-Hirschberg package-merge
// (coin-collector) algorithm, bounded to maxLen bits. Returns a parallel
// slice of lengths in [1, maxLen].
func packageMergeLengths(weights []uint64, maxLen int) []int {
	n := len(weights)
	lengths := make([]int, n)
	if n == 0 {
		return lengths
	}
	if n == 1 {
		lengths[0] = 1
		return lengths
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return weights[order[a]] < weights[order[b]] })

	leaves := make([]coin, n)
	for i, idx := range order {
		leaves[i] = coin{weight: weights[idx], syms: []int{idx}}
	}

	prev := leaves
	top := leaves
	for d := 1; d <= maxLen; d++ {
		var cur []coin
		if d == 1 {
			cur = leaves
		} else {
			cur = mergeByWeight(leaves, pairUp(prev))
		}
		top = cur
		prev = cur
	}

	take := 2*n - 2
	if take > len(top) {
		take = len(top)
	}
	counts := make([]int, n)
	for _, c := range top[:take] {
		for _, s := range c.syms {
			counts[s]++
		}
	}
	return counts
}

// pairUp combines consecutive pairs of a weight-sorted list into packages.
// A trailing unpaired item is dropped, per the package-merge construction.
func pairUp(items []coin) []coin {
	out := make([]coin, 0, len(items)/2)
	for i := 0; i+1 < len(items); i += 2 {
		syms := make([]int, 0, len(items[i].syms)+len(items[i+1].syms))
		syms = append(syms, items[i].syms...)
		syms = append(syms, items[i+1].syms...)
		out = append(out, coin{weight: items[i].weight + items[i+1].weight, syms: syms})
	}
	return out
}

func mergeByWeight(a, b []coin) []coin {
	out := make([]coin, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].weight <= b[j].weight {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// canonicalCodes assigns canonical Huffman codes from per-symbol code
// lengths (0 meaning "no code"). Symbols are bucketed by length then
// assigned consecutive integers, left-shifting the running code whenever
// length increases, the same construction used to generate canonical codes
// without building an explicit tree.
func canonicalCodes(lengths []uint8) []uint16 {
	type item struct {
		sym int
		len uint8
	}
	items := make([]item, 0, len(lengths))
	for i, l := range lengths {
		if l > 0 {
			items = append(items, item{i, l})
		}
	}
	sort.Slice(items, func(a, b int) bool {
		if items[a].len != items[b].len {
			return items[a].len < items[b].len
		}
		return items[a].sym < items[b].sym
	})

	codes := make([]uint16, len(lengths))
	var code uint16
	var prevLen uint8
	for _, it := range items {
		if prevLen != 0 {
			code <<= it.len - prevLen
		}
		codes[it.sym] = code
		code++
		prevLen = it.len
	}
	return codes
}
