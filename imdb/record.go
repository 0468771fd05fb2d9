// Package imdb - Image databases: ground truth, proposals and evaluation.
package imdb

import (
	"github.com/nvr-ai/go-frcnn/evaluation"
	"github.com/nvr-ai/go-frcnn/images"
)

// Record describes one image of a database. Boxes holds ground-truth
// objects and proposals in one list; proposal rows carry class 0.
type Record struct {
	ID      string       `json:"id"`
	Path    string       `json:"path"`
	Width   int          `json:"width"`
	Height  int          `json:"height"`
	Boxes   []images.Box `json:"-"`
	Classes []int        `json:"-"`
	Flipped bool         `json:"flipped"`
}

// Proposals returns every box of the record. Ground-truth rows are scored
// too but are never eligible for the detection budget.
func (r Record) Proposals() []images.Box {
	return r.Boxes
}

// Eligible reports, per box, whether it is a proposal rather than ground truth.
func (r Record) Eligible() []bool {
	out := make([]bool, len(r.Classes))
	for i, c := range r.Classes {
		out[i] = c == 0
	}
	return out
}

// GroundTruth returns the labelled objects of the record.
func (r Record) GroundTruth() evaluation.GroundTruth {
	var gt evaluation.GroundTruth
	for i, c := range r.Classes {
		if c > 0 {
			gt.Boxes = append(gt.Boxes, r.Boxes[i])
			gt.Classes = append(gt.Classes, c)
		}
	}
	return gt
}

// Flip returns the record of the horizontally mirrored image.
func (r Record) Flip() Record {
	out := r
	out.Boxes = make([]images.Box, len(r.Boxes))
	for i, b := range r.Boxes {
		out.Boxes[i] = b.FlipHorizontal(r.Width)
	}
	out.Classes = append([]int(nil), r.Classes...)
	out.Flipped = !r.Flipped
	return out
}
