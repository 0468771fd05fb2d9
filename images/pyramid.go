package images

import (
	"image"
	"math"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

var (
	// ErrEmptyImage is returned when a pyramid is requested for a zero-area image.
	ErrEmptyImage = errors.New("image has zero area")
	// ErrNoScales is returned when the pyramid configuration lists no target sizes.
	ErrNoScales = errors.New("pyramid configuration has no scales")
)

// PyramidConfig configures the multi-scale test pyramid.
type PyramidConfig struct {
	// Scales lists the target length of the shortest image side, one per level.
	Scales []int `json:"scales" yaml:"scales"`
	// MaxSize caps the length of the longest side after scaling.
	MaxSize int `json:"max_size" yaml:"max_size"`
	// PixelMeans is subtracted from every pixel, in B, G, R order.
	PixelMeans [3]float32 `json:"pixel_means" yaml:"pixel_means"`
}

// DefaultPyramidConfig returns the single-scale configuration used for testing
// Fast R-CNN models.
func DefaultPyramidConfig() PyramidConfig {
	return PyramidConfig{
		Scales:     []int{600},
		MaxSize:    1000,
		PixelMeans: [3]float32{102.9801, 115.9465, 122.7717},
	}
}

// Pyramid is a batch of mean-subtracted, rescaled copies of one image.
type Pyramid struct {
	// Blob is an N x 3 x H x W float32 tensor. Levels smaller than the canvas
	// are anchored at the top-left corner and zero padded.
	Blob *tensor.Dense
	// Scales holds the scale factor applied to produce each level.
	Scales []float64
	// Sizes holds the unpadded width and height of each level.
	Sizes []image.Point
}

// Levels returns the number of pyramid levels.
func (p *Pyramid) Levels() int {
	return len(p.Scales)
}

// ScaleFactors computes the per-level scale factors for an image of the given
// size. Each factor maps the shortest side to the target size unless the
// longest side would then exceed MaxSize, in which case the longest side is
// mapped to MaxSize instead.
//
// Arguments:
//   - width: The image width in pixels.
//   - height: The image height in pixels.
//   - cfg: The pyramid configuration.
//
// Returns:
//   - []float64: One scale factor per configured target size, in order.
func ScaleFactors(width, height int, cfg PyramidConfig) []float64 {
	minSide := float64(min(width, height))
	maxSide := float64(max(width, height))

	scales := make([]float64, 0, len(cfg.Scales))
	for _, target := range cfg.Scales {
		scale := float64(target) / minSide
		if cfg.MaxSize > 0 && math.RoundToEven(scale*maxSide) > float64(cfg.MaxSize) {
			scale = float64(cfg.MaxSize) / maxSide
		}
		scales = append(scales, scale)
	}
	return scales
}

// BuildPyramid resizes img once per configured scale, subtracts the pixel
// means and stacks the levels into one zero-padded blob.
//
// Arguments:
//   - img: The BGR input image.
//   - cfg: The pyramid configuration.
//
// Returns:
//   - *Pyramid: The blob together with the scale factors that produced it.
//   - error: ErrEmptyImage for a zero-area image, ErrNoScales for an empty
//     scale list.
func BuildPyramid(img *Image, cfg PyramidConfig) (*Pyramid, error) {
	if img.Empty() {
		return nil, ErrEmptyImage
	}
	if len(cfg.Scales) == 0 {
		return nil, ErrNoScales
	}

	scales := ScaleFactors(img.Width, img.Height, cfg)
	src := img.rgba()

	levels := make([]*Image, len(scales))
	sizes := make([]image.Point, len(scales))
	canvas := image.Point{}
	for i, scale := range scales {
		w := max(1, int(math.RoundToEven(float64(img.Width)*scale)))
		h := max(1, int(math.RoundToEven(float64(img.Height)*scale)))
		if w == img.Width && h == img.Height {
			levels[i] = img
		} else {
			levels[i] = fromPacked(resize.Resize(uint(w), uint(h), src, resize.Bilinear))
		}
		sizes[i] = image.Point{X: w, Y: h}
		canvas.X = max(canvas.X, w)
		canvas.Y = max(canvas.Y, h)
	}

	plane := canvas.X * canvas.Y
	data := make([]float32, len(levels)*3*plane)
	for n, level := range levels {
		for y := 0; y < level.Height; y++ {
			for x := 0; x < level.Width; x++ {
				b, g, r := level.At(x, y)
				offset := y*canvas.X + x
				base := n * 3 * plane
				data[base+offset] = float32(b) - cfg.PixelMeans[0]
				data[base+plane+offset] = float32(g) - cfg.PixelMeans[1]
				data[base+2*plane+offset] = float32(r) - cfg.PixelMeans[2]
			}
		}
	}

	blob := tensor.New(
		tensor.WithShape(len(levels), 3, canvas.Y, canvas.X),
		tensor.WithBacking(data),
	)

	return &Pyramid{Blob: blob, Scales: scales, Sizes: sizes}, nil
}
