package fastrcnn

import (
	"context"

	"github.com/nvr-ai/go-frcnn/images"
	"github.com/pkg/errors"
)

// Detections holds the per-proposal output of one image.
type Detections struct {
	// Scores is R x K, one row per input proposal.
	Scores *Matrix[float32]
	// Boxes is R x 4K, clipped to the image.
	Boxes *Matrix[float64]
	// Features is the optional feature vector returned by the scorer.
	Features []float32
}

// NumClasses returns K, including background.
func (d *Detections) NumClasses() int {
	return d.Scores.Cols
}

// Detector runs the Fast R-CNN detect step for one image at a time. It holds
// no mutable state and is safe for concurrent use when its Scorer is.
type Detector struct {
	cfg    Config
	scorer Scorer
}

// NewDetector creates a Detector.
//
// Arguments:
//   - cfg: The detector configuration.
//   - scorer: The network forward pass.
//
// Returns:
//   - *Detector: The detector.
func NewDetector(cfg Config, scorer Scorer) *Detector {
	return &Detector{cfg: cfg, scorer: scorer}
}

// Detect scores the proposals of one image and regresses their boxes.
//
// The image is turned into a pyramid, each proposal is projected to its
// level, aliased RoIs are collapsed before scoring and the outputs are
// expanded back so every proposal gets its own row.
//
// Arguments:
//   - ctx: Passed through to the scorer.
//   - img: The BGR image.
//   - proposals: Candidate boxes in image coordinates.
//
// Returns:
//   - *Detections: Scores and class-specific boxes, one row per proposal.
//   - error: Pyramid, scorer and shape errors.
func (d *Detector) Detect(ctx context.Context, img *images.Image, proposals []images.Box) (*Detections, error) {
	pyr, err := images.BuildPyramid(img, d.cfg.Pyramid)
	if err != nil {
		return nil, err
	}

	rois := ProjectRoIs(proposals, pyr.Scales, d.cfg.CanonicalArea)
	index := DeduplicateRoIs(rois, d.cfg.DedupFactor)
	unique := rois
	if !index.Unique() {
		unique = index.Select(rois)
	}

	out, err := d.scorer.Score(ctx, pyr.Blob, unique)
	if err != nil {
		return nil, errors.Wrap(err, "score rois")
	}
	if err := out.validate(len(unique), d.cfg.BBoxReg); err != nil {
		return nil, err
	}

	// Deltas are only read, and only validated, with regression enabled.
	scores := out.Scores
	var deltas *Matrix[float32]
	if d.cfg.BBoxReg {
		deltas = out.Deltas
	}
	if !index.Unique() {
		scores = scores.Gather(index.Inverse)
		if deltas != nil {
			deltas = deltas.Gather(index.Inverse)
		}
	}

	var boxes *Matrix[float64]
	if d.cfg.BBoxReg {
		boxes, err = TransformBoxes(proposals, deltas, d.cfg.Eps)
		if err != nil {
			return nil, err
		}
		ClipBoxes(boxes, img.Width, img.Height)
	} else {
		boxes = TileBoxes(proposals, scores.Cols)
	}

	return &Detections{Scores: scores, Boxes: boxes, Features: out.Features}, nil
}
