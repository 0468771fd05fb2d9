package postprocess

import "github.com/pkg/errors"

// MergeFlipped folds a table scored on N images followed by their N
// horizontal mirrors back into an N-image table. Mirrored detections are
// mapped into the unflipped frame and appended after the originals.
//
// Arguments:
//   - table: A classes x 2N table. Image i+N is the mirror of image i.
//   - widths: The width of each of the N unflipped images.
//
// Returns:
//   - *Table: The merged classes x N table.
//   - error: ErrDimensionMismatch if the table is not 2N images wide, or a
//     mapped box that ends up inverted.
func MergeFlipped(table *Table, widths []int) (*Table, error) {
	n := len(widths)
	if table.NumImages() != 2*n {
		return nil, errors.Wrapf(ErrDimensionMismatch,
			"%d images in table for %d flipped pairs", table.NumImages(), n)
	}

	merged := NewTable(table.NumClasses(), n)
	for class := 0; class < table.NumClasses(); class++ {
		for image := 0; image < n; image++ {
			left := table.At(class, image)
			right := table.At(class, image+n)
			if len(left)+len(right) == 0 {
				continue
			}

			cell := make([]Detection, 0, len(left)+len(right))
			cell = append(cell, left...)
			for _, d := range right {
				b := d.Box.FlipHorizontal(widths[image])
				if b.X2 < b.X1 {
					return nil, errors.Errorf("flipped box %v of class %d image %d is inverted", b, class, image)
				}
				cell = append(cell, Detection{Box: b, Score: d.Score})
			}
			merged.Set(class, image, cell)
		}
	}
	return merged, nil
}
