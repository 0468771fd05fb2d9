// Package images - Image definition for processing utilities.
package images

import (
	"image"
	"image/color"
)

// Image is an 8-bit, three channel image stored row-major in BGR order.
type Image struct {
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
	// Pix holds Height*Width*3 bytes, B G R per pixel.
	Pix []byte `json:"-" yaml:"-"`
}

// NewImage allocates a black image of the given size.
func NewImage(width, height int) *Image {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*3),
	}
}

// FromImage converts any image.Image into a BGR Image.
//
// Arguments:
//   - src: The decoded source image.
//
// Returns:
//   - *Image: The BGR copy of src.
func FromImage(src image.Image) *Image {
	bounds := src.Bounds()
	out := NewImage(bounds.Dx(), bounds.Dy())
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			out.Set(x, y, uint8(b>>8), uint8(g>>8), uint8(r>>8))
		}
	}
	return out
}

// Empty reports whether the image has zero area.
func (im *Image) Empty() bool {
	return im == nil || im.Width <= 0 || im.Height <= 0
}

// At returns the B, G and R intensities at (x, y).
func (im *Image) At(x, y int) (b, g, r uint8) {
	i := (y*im.Width + x) * 3
	return im.Pix[i], im.Pix[i+1], im.Pix[i+2]
}

// Set writes the B, G and R intensities at (x, y).
func (im *Image) Set(x, y int, b, g, r uint8) {
	i := (y*im.Width + x) * 3
	im.Pix[i], im.Pix[i+1], im.Pix[i+2] = b, g, r
}

// FlipHorizontal returns a left/right mirrored copy of the image.
func (im *Image) FlipHorizontal() *Image {
	out := NewImage(im.Width, im.Height)
	row := im.Width * 3
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			src := y*row + x*3
			dst := y*row + (im.Width-1-x)*3
			copy(out.Pix[dst:dst+3], im.Pix[src:src+3])
		}
	}
	return out
}

// rgba packs the BGR planes into an *image.RGBA so generic resamplers can
// operate on them. Channel order is kept as B, G, R in the R, G, B slots.
func (im *Image) rgba() *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, im.Width, im.Height))
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			b, g, r := im.At(x, y)
			dst.SetRGBA(x, y, color.RGBA{R: b, G: g, B: r, A: 255})
		}
	}
	return dst
}

// fromPacked reverses rgba.
func fromPacked(src image.Image) *Image {
	bounds := src.Bounds()
	out := NewImage(bounds.Dx(), bounds.Dy())
	if packed, ok := src.(*image.RGBA); ok {
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				c := packed.RGBAAt(bounds.Min.X+x, bounds.Min.Y+y)
				out.Set(x, y, c.R, c.G, c.B)
			}
		}
		return out
	}
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			c0, c1, c2, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			out.Set(x, y, uint8(c0>>8), uint8(c1>>8), uint8(c2>>8))
		}
	}
	return out
}
