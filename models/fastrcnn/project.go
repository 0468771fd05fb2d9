package fastrcnn

import (
	"math"

	"github.com/nvr-ai/go-frcnn/images"
)

// RoI is a proposal projected into one level of the image pyramid.
type RoI struct {
	// Level is the pyramid level index the box was projected into.
	Level int
	// Box holds the coordinates in that level's frame.
	Box images.Box
}

// Fields returns the RoI as the (level, x1, y1, x2, y2) row the scorer consumes.
func (r RoI) Fields() [5]float64 {
	return [5]float64{float64(r.Level), r.Box.X1, r.Box.Y1, r.Box.X2, r.Box.Y2}
}

// ProjectRoIs maps proposal boxes from image coordinates into pyramid
// coordinates. With a single scale every box lands on level 0; otherwise each
// box goes to the level whose scaled area is closest to canonicalArea, with
// ties resolved towards the earlier level.
//
// Arguments:
//   - boxes: Proposals in original image coordinates.
//   - scales: The per-level scale factors of the pyramid.
//   - canonicalArea: The reference area, conventionally 224*224.
//
// Returns:
//   - []RoI: One projected RoI per proposal, in input order.
func ProjectRoIs(boxes []images.Box, scales []float64, canonicalArea float64) []RoI {
	rois := make([]RoI, len(boxes))
	for i, b := range boxes {
		level := 0
		if len(scales) > 1 {
			area := b.Area()
			best := math.Inf(1)
			for l, s := range scales {
				if d := math.Abs(area*s*s - canonicalArea); d < best {
					best = d
					level = l
				}
			}
		}
		rois[i] = RoI{Level: level, Box: b.Scale(scales[level])}
	}
	return rois
}
