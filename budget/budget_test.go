package budget

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-frcnn/images"
	"github.com/nvr-ai/go-frcnn/models/postprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scored(scores ...float32) []postprocess.Detection {
	out := make([]postprocess.Detection, len(scores))
	for i, s := range scores {
		out[i] = postprocess.Detection{Box: images.Box{X1: float64(i), X2: float64(i) + 1}, Score: s}
	}
	return out
}

func TestTopK(t *testing.T) {
	q := NewTopK(3)
	assert.False(t, q.Push(0.5))
	assert.False(t, q.Push(0.1))
	assert.False(t, q.Push(0.7))
	assert.True(t, q.Full())

	assert.True(t, q.Push(0.05), "a score below the minimum is evicted immediately")
	assert.Equal(t, []float32{0.1, 0.5, 0.7}, q.Values())

	assert.True(t, q.Push(0.6))
	assert.Equal(t, []float32{0.5, 0.6, 0.7}, q.Values())

	m, ok := q.Min()
	require.True(t, ok)
	assert.Equal(t, float32(0.5), m)
}

func TestTopKZeroCapacity(t *testing.T) {
	q := NewTopK(0)
	assert.True(t, q.Push(1))
	assert.Equal(t, 0, q.Len())
	_, ok := q.Min()
	assert.False(t, ok)
}

func TestTopKCapacityInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, capacity := range []int{1, 2, 7, 50} {
		q := NewTopK(capacity)
		pushed := make([]float32, 0, 500)
		for i := 0; i < 500; i++ {
			s := rng.Float32()
			pushed = append(pushed, s)
			q.Push(s)
			require.LessOrEqual(t, q.Len(), capacity)
		}

		// The heap must hold exactly the largest scores.
		want := append([]float32(nil), pushed...)
		sortDesc(want)
		want = want[:capacity]
		got := q.Values()
		sortDesc(got)
		assert.Equal(t, want, got)
	}
}

func sortDesc(v []float32) {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j] > v[j-1]; j-- {
			v[j], v[j-1] = v[j-1], v[j]
		}
	}
}

func TestThresholderScenario(t *testing.T) {
	cfg := Config{NumClasses: 2, NumImages: 2, PerImageQuota: 1, MaxPerImage: 100}
	require.Equal(t, 2, cfg.BudgetPerClass())
	th := NewThresholder(cfg)

	table := postprocess.NewTable(2, 2)
	first, err := th.Select(1, scored(0.9, 0.1), nil)
	require.NoError(t, err)
	table.Set(1, 0, first)
	assert.Equal(t, math32.Inf(-1), th.Threshold(1), "no trimming yet")

	second, err := th.Select(1, scored(0.5, 0.95), nil)
	require.NoError(t, err)
	table.Set(1, 1, second)

	assert.Equal(t, 2, th.HeapLen(1))
	assert.Equal(t, float32(0.9), th.Threshold(1))
	assert.Equal(t, []float32{0.9, 0.95}, th.classes[1].top.Values())

	th.Finalize(table)
	assert.Empty(t, table.At(1, 0))
	require.Len(t, table.At(1, 1), 1)
	assert.Equal(t, float32(0.95), table.At(1, 1)[0].Score)
}

func TestThresholderPerImageCapAndOrder(t *testing.T) {
	th := NewThresholder(Config{NumClasses: 2, NumImages: 10, PerImageQuota: 10, MaxPerImage: 2})

	candidates := scored(0.2, 0.8, 0.5, 0.8)
	got, err := th.Select(1, candidates, nil)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, candidates[1], got[0], "ties keep input order")
	assert.Equal(t, candidates[3], got[1])
}

func TestThresholderEligibility(t *testing.T) {
	th := NewThresholder(Config{NumClasses: 2, NumImages: 1, PerImageQuota: 10, MaxPerImage: 10})

	got, err := th.Select(1, scored(0.9, 0.8, 0.7), []bool{false, true, true})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.8, 0.7}, []float32{got[0].Score, got[1].Score})

	_, err = th.Select(1, scored(0.9), []bool{true, false})
	assert.ErrorIs(t, err, postprocess.ErrDimensionMismatch)

	_, err = th.Select(2, scored(0.9), nil)
	assert.Error(t, err)
}

func TestThresholderMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	th := NewThresholder(Config{NumClasses: 2, NumImages: 20, PerImageQuota: 3, MaxPerImage: 10})

	last := math32.Inf(-1)
	for image := 0; image < 20; image++ {
		scores := make([]float32, 30)
		for i := range scores {
			scores[i] = rng.Float32()
		}
		_, err := th.Select(1, scored(scores...), nil)
		require.NoError(t, err)

		now := th.Threshold(1)
		assert.GreaterOrEqual(t, now, last)
		assert.LessOrEqual(t, th.HeapLen(1), 60)
		last = now
	}
	assert.Greater(t, last, math32.Inf(-1))
}

func TestThresholderFreeze(t *testing.T) {
	th := NewThresholder(Config{NumClasses: 2, NumImages: 1, PerImageQuota: 1, MaxPerImage: 10, FreezeThreshold: true})

	_, err := th.Select(1, scored(0.3, 0.6, 0.9), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, th.HeapLen(1))
	assert.Equal(t, math32.Inf(-1), th.Threshold(1))

	table := postprocess.NewTable(2, 1)
	table.Set(1, 0, scored(0.3, 0.6))
	th.Finalize(table)
	assert.Len(t, table.At(1, 0), 2, "a frozen threshold makes the second pass a no-op")
}

// TestThresholderConcurrentFinalState checks that images fed from several
// goroutines converge to the same final table as a sequential pass.
func TestThresholderConcurrentFinalState(t *testing.T) {
	const images = 40
	cfg := Config{NumClasses: 2, NumImages: images, PerImageQuota: 2, MaxPerImage: 5}

	rng := rand.New(rand.NewSource(21))
	perImage := make([][]postprocess.Detection, images)
	for i := range perImage {
		s := make([]float32, 12)
		for k := range s {
			s[k] = rng.Float32()
		}
		perImage[i] = scored(s...)
	}

	run := func(parallel bool) *postprocess.Table {
		th := NewThresholder(cfg)
		table := postprocess.NewTable(2, images)
		var mu sync.Mutex
		var wg sync.WaitGroup
		for i := range perImage {
			i := i
			work := func() {
				kept, err := th.Select(1, perImage[i], nil)
				assert.NoError(t, err)
				mu.Lock()
				table.Set(1, i, kept)
				mu.Unlock()
			}
			if parallel {
				wg.Add(1)
				go func() { defer wg.Done(); work() }()
			} else {
				work()
			}
		}
		wg.Wait()
		th.Finalize(table)
		return table
	}

	sequential := run(false)
	concurrent := run(true)
	assert.LessOrEqual(t, sequential.ClassLen(1), cfg.BudgetPerClass())
	assert.Equal(t, sequential.ClassLen(1), concurrent.ClassLen(1))
}
