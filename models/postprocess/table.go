package postprocess

import "github.com/pkg/errors"

// ErrDimensionMismatch is returned when a table does not have the dimensions
// an operation expects.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// Table is a classes x images grid of detection lists backed by one flat
// slice of cells.
type Table struct {
	numClasses int
	numImages  int
	cells      [][]Detection
}

// NewTable creates an empty table.
//
// Arguments:
//   - numClasses: Number of classes, including background.
//   - numImages: Number of images.
//
// Returns:
//   - *Table: A table whose cells are all empty.
func NewTable(numClasses, numImages int) *Table {
	return &Table{
		numClasses: numClasses,
		numImages:  numImages,
		cells:      make([][]Detection, numClasses*numImages),
	}
}

// NumClasses returns the number of classes.
func (t *Table) NumClasses() int { return t.numClasses }

// NumImages returns the number of images.
func (t *Table) NumImages() int { return t.numImages }

func (t *Table) index(class, image int) int {
	if class < 0 || class >= t.numClasses || image < 0 || image >= t.numImages {
		panic(errors.Errorf("cell (%d, %d) outside %dx%d table", class, image, t.numClasses, t.numImages))
	}
	return class*t.numImages + image
}

// At returns the detections of one cell. The slice is owned by the table.
func (t *Table) At(class, image int) []Detection {
	return t.cells[t.index(class, image)]
}

// Set replaces the detections of one cell.
func (t *Table) Set(class, image int, dets []Detection) {
	t.cells[t.index(class, image)] = dets
}

// Append adds detections to one cell.
func (t *Table) Append(class, image int, dets ...Detection) {
	i := t.index(class, image)
	t.cells[i] = append(t.cells[i], dets...)
}

// Filter keeps, in every cell, only the detections for which keep returns
// true. Cells are compacted in place.
func (t *Table) Filter(keep func(class int, d Detection) bool) {
	for i, cell := range t.cells {
		class := i / max(t.numImages, 1)
		kept := cell[:0]
		for _, d := range cell {
			if keep(class, d) {
				kept = append(kept, d)
			}
		}
		t.cells[i] = kept
	}
}

// Len returns the total number of detections.
func (t *Table) Len() int {
	n := 0
	for _, cell := range t.cells {
		n += len(cell)
	}
	return n
}

// ClassLen returns the number of detections of one class across all images.
func (t *Table) ClassLen(class int) int {
	n := 0
	for image := 0; image < t.numImages; image++ {
		n += len(t.At(class, image))
	}
	return n
}
