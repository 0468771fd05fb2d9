// Package fastrcnn - Region projection, box regression and the per-image
// detect step of a Fast R-CNN test pass.
package fastrcnn

import "github.com/pkg/errors"

// Matrix is a dense row-major matrix. Zero rows are valid, which is the
// shape a detect step produces for an image without proposals.
type Matrix[T float32 | float64] struct {
	Rows int
	Cols int
	Data []T
}

// NewMatrix allocates a zeroed rows x cols matrix.
func NewMatrix[T float32 | float64](rows, cols int) *Matrix[T] {
	return &Matrix[T]{Rows: rows, Cols: cols, Data: make([]T, rows*cols)}
}

// MatrixFrom wraps data as a rows x cols matrix without copying.
func MatrixFrom[T float32 | float64](rows, cols int, data []T) (*Matrix[T], error) {
	if rows < 0 || cols < 0 || len(data) != rows*cols {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d values for %dx%d", len(data), rows, cols)
	}
	return &Matrix[T]{Rows: rows, Cols: cols, Data: data}, nil
}

// At returns element (i, j).
func (m *Matrix[T]) At(i, j int) T {
	return m.Data[i*m.Cols+j]
}

// Set stores v at (i, j).
func (m *Matrix[T]) Set(i, j int, v T) {
	m.Data[i*m.Cols+j] = v
}

// Row returns row i as a slice sharing the matrix storage.
func (m *Matrix[T]) Row(i int) []T {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// Gather builds a new matrix whose row k is a copy of row idx[k].
func (m *Matrix[T]) Gather(idx []int) *Matrix[T] {
	out := NewMatrix[T](len(idx), m.Cols)
	for k, i := range idx {
		copy(out.Row(k), m.Row(i))
	}
	return out
}
