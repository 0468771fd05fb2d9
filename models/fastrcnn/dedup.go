package fastrcnn

import (
	"math"
	"sort"
)

// dedupWeights combine the five quantised RoI fields into one key.
var dedupWeights = [5]float64{1, 1e3, 1e6, 1e9, 1e12}

// DedupIndex maps between a RoI list and its unique subset.
type DedupIndex struct {
	// Forward holds, per unique RoI, the row of its first occurrence.
	Forward []int
	// Inverse holds, per input row, the position of its unique RoI.
	Inverse []int
}

// Unique reports whether every input row was already distinct.
func (d DedupIndex) Unique() bool {
	return len(d.Forward) == len(d.Inverse)
}

// Select returns the unique RoIs in Forward order.
func (d DedupIndex) Select(rois []RoI) []RoI {
	out := make([]RoI, len(d.Forward))
	for k, i := range d.Forward {
		out[k] = rois[i]
	}
	return out
}

// identityIndex maps every row onto itself.
func identityIndex(n int) DedupIndex {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return DedupIndex{Forward: idx, Inverse: idx}
}

// DeduplicateRoIs collapses RoIs on the same level whose coordinates coincide
// once rounded to units of 1/factor. Unique RoIs are ordered by ascending key. A non-positive factor
// disables deduplication and returns the identity mapping.
//
// Arguments:
//   - rois: The projected RoIs.
//   - factor: The dedup factor, conventionally 1/16.
//
// Returns:
//   - DedupIndex: The forward and inverse index maps.
func DeduplicateRoIs(rois []RoI, factor float64) DedupIndex {
	if factor <= 0 {
		return identityIndex(len(rois))
	}

	keys := make([]float64, len(rois))
	for i, r := range rois {
		// The level is already integral and is kept unscaled so RoIs on
		// different levels never collapse.
		fields := r.Fields()
		key := fields[0] * dedupWeights[0]
		for f := 1; f < len(fields); f++ {
			key += math.RoundToEven(fields[f]*factor) * dedupWeights[f]
		}
		keys[i] = key
	}

	order := make([]int, len(rois))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return keys[order[a]] < keys[order[b]]
	})

	index := DedupIndex{
		Forward: make([]int, 0, len(rois)),
		Inverse: make([]int, len(rois)),
	}
	for n, row := range order {
		if n == 0 || keys[row] != keys[order[n-1]] {
			index.Forward = append(index.Forward, row)
		}
		index.Inverse[row] = len(index.Forward) - 1
	}
	return index
}
