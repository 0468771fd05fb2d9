// Package evaluation - Correct-localisation (CorLoc) scoring of detections.
package evaluation

import (
	"context"
	"math"
	"strings"

	"github.com/nvr-ai/go-frcnn/images"
	"github.com/nvr-ai/go-frcnn/models/postprocess"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// Variant selects how CorLoc counts hits.
type Variant string

const (
	// VariantStrict compares only the best detection of each image and counts
	// one ground-truth entry per image containing the class. A hit needs
	// IoU >= overlap.
	VariantStrict Variant = "strict"
	// VariantPerInstance compares every detection against every ground-truth
	// instance and counts instances. A hit needs IoU > overlap.
	VariantPerInstance Variant = "per_instance"
)

// ParseVariant parses a variant name.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case VariantStrict, VariantPerInstance:
		return v, nil
	case "":
		return VariantStrict, nil
	default:
		return "", errors.Errorf("unknown corloc variant %q", s)
	}
}

// GroundTruth holds the annotated objects of one image.
type GroundTruth struct {
	Boxes   []images.Box
	Classes []int
}

// boxesOf returns the ground-truth boxes labelled class.
func (g GroundTruth) boxesOf(class int) []images.Box {
	var out []images.Box
	for i, c := range g.Classes {
		if c == class {
			out = append(out, g.Boxes[i])
		}
	}
	return out
}

// Report is the CorLoc of every class at one overlap.
type Report struct {
	Overlap float64
	Variant Variant
	// Positives and Totals are the per-class numerator and denominator.
	Positives []int
	Totals    []int
	// PerClass is Positives/Totals, NaN where Totals is zero.
	PerClass []float64
	// Valid marks the classes with a nonzero denominator.
	Valid []bool
	// Mean averages PerClass over valid foreground classes. NaN if none.
	Mean float64
}

// CorLoc scores a detection table against ground truth. Background (class 0)
// is not scored. Images without ground truth of a class are skipped. An image
// with ground truth but no detections is a miss in the strict variant and is
// skipped in the per-instance variant.
//
// Arguments:
//   - ctx: Cancels the evaluation between classes.
//   - table: NMS-filtered detections, classes x images.
//   - gt: One ground-truth record per image of the table.
//   - overlap: The IoU threshold.
//   - variant: The counting variant.
//
// Returns:
//   - *Report: The per-class rates and their mean.
//   - error: postprocess.ErrDimensionMismatch when gt and table disagree.
func CorLoc(ctx context.Context, table *postprocess.Table, gt []GroundTruth, overlap float64, variant Variant) (*Report, error) {
	if len(gt) != table.NumImages() {
		return nil, errors.Wrapf(postprocess.ErrDimensionMismatch,
			"%d ground-truth records for %d images", len(gt), table.NumImages())
	}
	if variant != VariantStrict && variant != VariantPerInstance {
		return nil, errors.Errorf("unknown corloc variant %q", variant)
	}

	k := table.NumClasses()
	report := &Report{
		Overlap:   overlap,
		Variant:   variant,
		Positives: make([]int, k),
		Totals:    make([]int, k),
		PerClass:  make([]float64, k),
		Valid:     make([]bool, k),
	}

	g, ctx := errgroup.WithContext(ctx)
	for class := 1; class < k; class++ {
		class := class
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for image := range gt {
				boxes := gt[image].boxesOf(class)
				if len(boxes) == 0 {
					continue
				}
				dets := table.At(class, image)
				if len(dets) == 0 {
					// A strict miss still counts towards the image total.
					if variant == VariantStrict {
						report.Totals[class]++
					}
					continue
				}
				pos, tot := scoreCell(dets, boxes, overlap, variant)
				report.Positives[class] += pos
				report.Totals[class] += tot
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rates := make([]float64, 0, k)
	report.PerClass[0] = math.NaN()
	for class := 1; class < k; class++ {
		if report.Totals[class] == 0 {
			report.PerClass[class] = math.NaN()
			continue
		}
		report.Valid[class] = true
		report.PerClass[class] = float64(report.Positives[class]) / float64(report.Totals[class])
		rates = append(rates, report.PerClass[class])
	}
	report.Mean = math.NaN()
	if len(rates) > 0 {
		report.Mean = stat.Mean(rates, nil)
	}
	return report, nil
}

func scoreCell(dets []postprocess.Detection, gt []images.Box, overlap float64, variant Variant) (pos, tot int) {
	if variant == VariantStrict {
		best := dets[0]
		for _, d := range dets[1:] {
			if d.Score > best.Score {
				best = d
			}
		}
		maxIoU := 0.0
		for _, b := range gt {
			maxIoU = math.Max(maxIoU, images.CalculateIoU(b, best.Box))
		}
		if maxIoU >= overlap {
			pos = 1
		}
		return pos, 1
	}

	for _, b := range gt {
		maxIoU := 0.0
		for _, d := range dets {
			maxIoU = math.Max(maxIoU, images.CalculateIoU(b, d.Box))
		}
		if maxIoU > overlap {
			pos++
		}
	}
	return pos, len(gt)
}

// DefaultOverlaps returns the sweep 0.0, 0.1, ..., 1.0.
func DefaultOverlaps() []float64 {
	out := make([]float64, 11)
	for i := range out {
		out[i] = float64(i) / 10
	}
	return out
}

// Sweep evaluates CorLoc at each overlap in turn.
func Sweep(ctx context.Context, table *postprocess.Table, gt []GroundTruth, variant Variant, overlaps []float64) ([]*Report, error) {
	reports := make([]*Report, 0, len(overlaps))
	for _, o := range overlaps {
		r, err := CorLoc(ctx, table, gt, o, variant)
		if err != nil {
			return nil, errors.Wrapf(err, "corloc at overlap %.1f", o)
		}
		reports = append(reports, r)
	}
	return reports, nil
}
