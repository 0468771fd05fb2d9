package images

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestIoU_Correctness validates the IoU implementation against known test cases.
func TestIoU_Correctness(t *testing.T) {
	tests := []struct {
		name     string
		r1       Box
		r2       Box
		expected float64
	}{
		{
			name:     "Identical boxes",
			r1:       Box{0, 0, 99, 99},
			r2:       Box{0, 0, 99, 99},
			expected: 1.0,
		},
		{
			name:     "No overlap",
			r1:       Box{0, 0, 99, 99},
			r2:       Box{200, 200, 299, 299},
			expected: 0.0,
		},
		{
			name:     "Adjacent columns share no pixel",
			r1:       Box{0, 0, 99, 99},
			r2:       Box{100, 0, 199, 99},
			expected: 0.0,
		},
		{
			name:     "Quarter overlap",
			r1:       Box{0, 0, 99, 99},
			r2:       Box{50, 50, 149, 149},
			expected: 2500.0 / 17500.0,
		},
		{
			name:     "One inside other",
			r1:       Box{0, 0, 99, 99},
			r2:       Box{25, 25, 74, 74},
			expected: 0.25,
		},
		{
			name:     "Nested corner boxes",
			r1:       Box{0, 0, 10, 10},
			r2:       Box{1, 1, 10, 10},
			expected: 100.0 / 121.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CalculateIoU(tt.r1, tt.r2), 1e-9)
			assert.InDelta(t, tt.expected, CalculateIoU(tt.r2, tt.r1), 1e-9, "IoU must be symmetric")
		})
	}
}

func TestBoxClip(t *testing.T) {
	t.Run("clamps each side", func(t *testing.T) {
		got := Box{-5, -1, 900, 700}.Clip(800, 600)
		assert.Equal(t, Box{0, 0, 799, 599}, got)
	})

	t.Run("box outside the frame collapses onto the border", func(t *testing.T) {
		got := Box{1000, 10, 1200, 20}.Clip(800, 600)
		assert.Equal(t, Box{799, 10, 799, 20}, got)
	})

	t.Run("NaN coordinates map to zero", func(t *testing.T) {
		got := Box{math.NaN(), 3, 4, math.Inf(1)}.Clip(10, 10)
		assert.Equal(t, Box{0, 3, 4, 9}, got)
	})

	t.Run("invariant holds for random boxes", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		for i := 0; i < 1000; i++ {
			w, h := 1+rng.Intn(1000), 1+rng.Intn(1000)
			b := Box{
				X1: rng.NormFloat64() * 2000,
				Y1: rng.NormFloat64() * 2000,
				X2: rng.NormFloat64() * 2000,
				Y2: rng.NormFloat64() * 2000,
			}.Clip(w, h)
			assert.True(t, 0 <= b.X1 && b.X1 <= b.X2 && b.X2 < float64(w), "x bounds %v in %dx%d", b, w, h)
			assert.True(t, 0 <= b.Y1 && b.Y1 <= b.Y2 && b.Y2 < float64(h), "y bounds %v in %dx%d", b, w, h)
		}
	})
}

func TestBoxFlipHorizontal(t *testing.T) {
	b := Box{10, 20, 30, 40}
	flipped := b.FlipHorizontal(100)
	assert.Equal(t, Box{69, 20, 89, 40}, flipped)
	assert.Equal(t, b, flipped.FlipHorizontal(100), "flipping twice restores the box")
	assert.Equal(t, b.Area(), flipped.Area())
}
