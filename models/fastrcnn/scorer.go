package fastrcnn

import (
	"context"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrShapeMismatch is returned when scorer outputs or regression inputs do
// not agree with the number of RoIs or classes.
var ErrShapeMismatch = errors.New("shape mismatch")

// Scorer is the network forward pass. Given the pyramid blob and the
// projected RoIs it returns per-RoI class scores and, when box regression is
// enabled, class-specific box deltas.
type Scorer interface {
	Score(ctx context.Context, blob *tensor.Dense, rois []RoI) (*ScorerOutput, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, blob *tensor.Dense, rois []RoI) (*ScorerOutput, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, blob *tensor.Dense, rois []RoI) (*ScorerOutput, error) {
	return f(ctx, blob, rois)
}

// ScorerOutput is the result of one forward pass.
type ScorerOutput struct {
	// Scores is R x K, K including the background class.
	Scores *Matrix[float32]
	// Deltas is R x 4K. It may be nil when box regression is disabled.
	Deltas *Matrix[float32]
	// Features is an optional per-image feature vector.
	Features []float32
}

func (o *ScorerOutput) validate(rois int, bboxReg bool) error {
	if o == nil || o.Scores == nil {
		return errors.Wrap(ErrShapeMismatch, "scorer returned no scores")
	}
	if o.Scores.Rows != rois {
		return errors.Wrapf(ErrShapeMismatch, "%d score rows for %d rois", o.Scores.Rows, rois)
	}
	if !bboxReg {
		return nil
	}
	if o.Deltas == nil {
		return errors.Wrap(ErrShapeMismatch, "box regression enabled but scorer returned no deltas")
	}
	if o.Deltas.Rows != rois || o.Deltas.Cols != 4*o.Scores.Cols {
		return errors.Wrapf(ErrShapeMismatch, "deltas %dx%d do not match scores %dx%d",
			o.Deltas.Rows, o.Deltas.Cols, o.Scores.Rows, o.Scores.Cols)
	}
	return nil
}
