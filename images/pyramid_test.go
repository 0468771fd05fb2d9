package images

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformImage(width, height int, b, g, r uint8) *Image {
	img := NewImage(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, b, g, r)
		}
	}
	return img
}

func TestScaleFactors(t *testing.T) {
	tests := []struct {
		name     string
		width    int
		height   int
		cfg      PyramidConfig
		expected []float64
	}{
		{
			name:     "shortest side reaches the target",
			width:    800,
			height:   600,
			cfg:      PyramidConfig{Scales: []int{600}, MaxSize: 1000},
			expected: []float64{1.0},
		},
		{
			name:     "longest side capped by max size",
			width:    2000,
			height:   500,
			cfg:      PyramidConfig{Scales: []int{600}, MaxSize: 1000},
			expected: []float64{0.5},
		},
		{
			name:     "multiple scales keep configuration order",
			width:    400,
			height:   200,
			cfg:      PyramidConfig{Scales: []int{400, 100}, MaxSize: 2000},
			expected: []float64{2.0, 0.5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScaleFactors(tt.width, tt.height, tt.cfg)
			require.Len(t, got, len(tt.expected))
			for i := range got {
				assert.InDelta(t, tt.expected[i], got[i], 1e-12)
			}
		})
	}
}

func TestBuildPyramidRejectsEmptyImage(t *testing.T) {
	_, err := BuildPyramid(NewImage(0, 10), DefaultPyramidConfig())
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = BuildPyramid(nil, DefaultPyramidConfig())
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestBuildPyramidRejectsEmptyScales(t *testing.T) {
	_, err := BuildPyramid(NewImage(10, 10), PyramidConfig{MaxSize: 100})
	assert.ErrorIs(t, err, ErrNoScales)
}

func TestBuildPyramidBlob(t *testing.T) {
	cfg := PyramidConfig{
		Scales:     []int{20, 10},
		MaxSize:    100,
		PixelMeans: [3]float32{100, 110, 120},
	}
	img := uniformImage(40, 20, 110, 120, 130)

	pyr, err := BuildPyramid(img, cfg)
	require.NoError(t, err)

	assert.Equal(t, 2, pyr.Levels())
	assert.Equal(t, []image.Point{{X: 40, Y: 20}, {X: 20, Y: 10}}, pyr.Sizes)
	assert.Equal(t, []int{2, 3, 20, 40}, []int(pyr.Blob.Shape()))

	data := pyr.Blob.Data().([]float32)
	plane := 20 * 40

	// Level 0 is unscaled, so every pixel is exactly the mean-subtracted value.
	assert.InDelta(t, 10, data[0], 1e-6)
	assert.InDelta(t, 10, data[plane], 1e-6)
	assert.InDelta(t, 10, data[2*plane], 1e-6)

	// Level 1 is half size; its interior holds the resampled value and the
	// remainder of the canvas stays zero.
	level1 := 3 * plane
	assert.InDelta(t, 10, data[level1+5*40+5], 1.0)
	assert.Equal(t, float32(0), data[level1+15*40+30], "padding must be zero")
}

func TestFromImageKeepsBGROrder(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.SetRGBA(0, 0, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	src.SetRGBA(1, 0, color.RGBA{R: 4, G: 5, B: 6, A: 255})

	img := FromImage(src)
	b, g, r := img.At(0, 0)
	assert.Equal(t, []uint8{3, 2, 1}, []uint8{b, g, r})

	flipped := img.FlipHorizontal()
	b, g, r = flipped.At(0, 0)
	assert.Equal(t, []uint8{6, 5, 4}, []uint8{b, g, r})
}
