package fastrcnn

import (
	"math"

	"github.com/nvr-ai/go-frcnn/images"
	"github.com/pkg/errors"
)

// TransformBoxes applies class-specific regression deltas to proposal boxes.
//
// Arguments:
//   - boxes: N proposals in image coordinates.
//   - deltas: An N x 4K matrix of (dx, dy, dw, dh) per class.
//   - eps: Added to widths and heights so degenerate boxes stay finite.
//
// Returns:
//   - *Matrix[float64]: N x 4K refined boxes, one (x1, y1, x2, y2) block per
//     class. Zero proposals yield a zero-row matrix.
//   - error: ErrShapeMismatch when deltas does not match boxes.
func TransformBoxes(boxes []images.Box, deltas *Matrix[float32], eps float64) (*Matrix[float64], error) {
	if deltas == nil {
		return nil, errors.Wrap(ErrShapeMismatch, "missing box deltas")
	}
	if deltas.Rows != len(boxes) || deltas.Cols%4 != 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d boxes against %dx%d deltas",
			len(boxes), deltas.Rows, deltas.Cols)
	}

	out := NewMatrix[float64](len(boxes), deltas.Cols)
	for i, b := range boxes {
		w := b.X2 - b.X1 + eps
		h := b.Y2 - b.Y1 + eps
		cx := b.X1 + 0.5*w
		cy := b.Y1 + 0.5*h

		d := deltas.Row(i)
		o := out.Row(i)
		for c := 0; c < deltas.Cols; c += 4 {
			px := float64(d[c])*w + cx
			py := float64(d[c+1])*h + cy
			pw := math.Exp(float64(d[c+2])) * w
			ph := math.Exp(float64(d[c+3])) * h

			o[c] = px - 0.5*pw
			o[c+1] = py - 0.5*ph
			o[c+2] = px + 0.5*pw
			o[c+3] = py + 0.5*ph
		}
	}
	return out, nil
}

// TileBoxes repeats every box once per class, the output used when box
// regression is disabled.
func TileBoxes(boxes []images.Box, numClasses int) *Matrix[float64] {
	out := NewMatrix[float64](len(boxes), 4*numClasses)
	for i, b := range boxes {
		o := out.Row(i)
		for c := 0; c < numClasses; c++ {
			o[4*c], o[4*c+1], o[4*c+2], o[4*c+3] = b.X1, b.Y1, b.X2, b.Y2
		}
	}
	return out
}

// ClipBoxes clips every class block of m in place to a width x height image.
func ClipBoxes(m *Matrix[float64], width, height int) {
	for i := 0; i < m.Rows; i++ {
		for c := 0; c < m.Cols/4; c++ {
			setBox(m, i, c, BoxAt(m, i, c).Clip(width, height))
		}
	}
}

// BoxAt returns the box of class c in row i.
func BoxAt(m *Matrix[float64], i, c int) images.Box {
	r := m.Row(i)[4*c : 4*c+4]
	return images.Box{X1: r[0], Y1: r[1], X2: r[2], Y2: r[3]}
}

func setBox(m *Matrix[float64], i, c int, b images.Box) {
	r := m.Row(i)[4*c : 4*c+4]
	r[0], r[1], r[2], r[3] = b.X1, b.Y1, b.X2, b.Y2
}
