// Package budget - Corpus-wide per-class detection budgets.
package budget

import (
	"container/heap"
	"sort"
)

// scoreHeap is a min-heap of scores.
type scoreHeap []float32

func (h scoreHeap) Len() int           { return len(h) }
func (h scoreHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h scoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *scoreHeap) Push(x any) { *h = append(*h, x.(float32)) }

func (h *scoreHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopK keeps the largest scores pushed into it. Its size never exceeds its
// capacity.
type TopK struct {
	capacity int
	scores   scoreHeap
}

// NewTopK creates an empty TopK. A negative capacity is treated as zero.
func NewTopK(capacity int) *TopK {
	capacity = max(capacity, 0)
	return &TopK{capacity: capacity, scores: make(scoreHeap, 0, capacity)}
}

// Push offers a score. When the queue is full the smallest score, which may
// be the offered one, is evicted.
//
// Arguments:
//   - score: The score to offer.
//
// Returns:
//   - bool: True when the push overflowed the capacity and a score was evicted.
func (q *TopK) Push(score float32) bool {
	if len(q.scores) < q.capacity {
		heap.Push(&q.scores, score)
		return false
	}
	if q.capacity > 0 && score > q.scores[0] {
		q.scores[0] = score
		heap.Fix(&q.scores, 0)
	}
	return true
}

// Min returns the smallest retained score.
func (q *TopK) Min() (float32, bool) {
	if len(q.scores) == 0 {
		return 0, false
	}
	return q.scores[0], true
}

// Len returns the number of retained scores.
func (q *TopK) Len() int { return len(q.scores) }

// Full reports whether the queue holds capacity scores.
func (q *TopK) Full() bool { return len(q.scores) >= q.capacity }

// Values returns a sorted copy of the retained scores, smallest first.
func (q *TopK) Values() []float32 {
	out := append([]float32(nil), q.scores...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
