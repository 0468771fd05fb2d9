// Package images - Image and box primitives shared by the detection pipeline.
package images

import (
	"fmt"
	"math"
)

// Box is an axis-aligned bounding box with inclusive, zero-based pixel bounds.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// Width returns the inclusive width of the box.
func (b Box) Width() float64 {
	return b.X2 - b.X1 + 1
}

// Height returns the inclusive height of the box.
func (b Box) Height() float64 {
	return b.Y2 - b.Y1 + 1
}

// Area returns the inclusive area of the box.
func (b Box) Area() float64 {
	return b.Width() * b.Height()
}

// Scale multiplies every coordinate by s.
func (b Box) Scale(s float64) Box {
	return Box{X1: b.X1 * s, Y1: b.Y1 * s, X2: b.X2 * s, Y2: b.Y2 * s}
}

// Clip clamps the box into the image frame so that
// 0 <= X1 <= X2 <= width-1 and 0 <= Y1 <= Y2 <= height-1.
//
// Arguments:
//   - width: The image width in pixels.
//   - height: The image height in pixels.
//
// Returns:
//   - The clipped box.
func (b Box) Clip(width, height int) Box {
	maxX := float64(width - 1)
	maxY := float64(height - 1)
	out := Box{
		X1: clamp(b.X1, maxX),
		Y1: clamp(b.Y1, maxY),
		X2: clamp(b.X2, maxX),
		Y2: clamp(b.Y2, maxY),
	}
	if out.X1 > out.X2 {
		out.X1, out.X2 = out.X2, out.X1
	}
	if out.Y1 > out.Y2 {
		out.Y1, out.Y2 = out.Y2, out.Y1
	}
	return out
}

// FlipHorizontal mirrors the box around the vertical axis of an image that is
// width pixels wide.
func (b Box) FlipHorizontal(width int) Box {
	w := float64(width)
	return Box{X1: w - b.X2 - 1, Y1: b.Y1, X2: w - b.X1 - 1, Y2: b.Y2}
}

func (b Box) String() string {
	return fmt.Sprintf("(%.2f, %.2f), (%.2f, %.2f)", b.X1, b.Y1, b.X2, b.Y2)
}

// clamp restricts v to [0, hi]. NaN maps to 0.
func clamp(v, hi float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}

// CalculateIoU returns the Intersection over Union of two boxes.
//
// Areas are measured with inclusive pixel bounds, so a box (0, 0, 9, 9) covers
// 100 pixels. Boxes that do not overlap yield 0.
//
// Arguments:
//   - r: The first box.
//   - o: The other box to compare against.
//
// Returns:
//   - A value in [0, 1].
//
// Example Usage:
// ```go
//
//	a := Box{X1: 0, Y1: 0, X2: 9, Y2: 9}
//	b := Box{X1: 5, Y1: 5, X2: 14, Y2: 14}
//	iou := CalculateIoU(a, b) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Box) float64 {
	iw := math.Min(r.X2, o.X2) - math.Max(r.X1, o.X1) + 1
	if iw <= 0 {
		return 0
	}
	ih := math.Min(r.Y2, o.Y2) - math.Max(r.Y1, o.Y1) + 1
	if ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := r.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
