// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"context"
	"runtime"
	"sort"

	"github.com/nvr-ai/go-frcnn/images"
	"golang.org/x/sync/errgroup"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold float64 `json:"iou_threshold" yaml:"iou_threshold"` // Overlap threshold for suppression.
	NumWorkers   int     `json:"num_workers" yaml:"num_workers"`     // Number of goroutines processing cells in parallel.
}

// DefaultNMSConfig returns the test-time NMS configuration.
func DefaultNMSConfig() NMSConfig {
	return NMSConfig{IoUThreshold: 0.3, NumWorkers: runtime.NumCPU()}
}

// GreedyNMS performs standard greedy Non-Maximum Suppression.
//
// Arguments:
//   - detections: Detections of one class in one image, in any order.
//   - iouThreshold: IoU above which a lower-scored box is suppressed.
//
// Returns:
//   - Indices into detections of the kept boxes, highest score first.
//     Empty input yields nil.
func GreedyNMS(detections []Detection, iouThreshold float64) []int {
	n := len(detections)
	if n == 0 {
		return nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return detections[order[a]].Score > detections[order[b]].Score
	})

	keep := make([]int, 0, n)
	used := make([]bool, n)
	for i, anchor := range order {
		if used[i] {
			continue
		}
		keep = append(keep, anchor)

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			// Suppress if IoU exceeds threshold
			if images.CalculateIoU(detections[anchor].Box, detections[order[j]].Box) > iouThreshold {
				used[j] = true
			}
		}
	}

	return keep
}

// ApplyGreedyNMS returns the detections kept by GreedyNMS, highest score first.
func ApplyGreedyNMS(detections []Detection, config *NMSConfig) []Detection {
	keep := GreedyNMS(detections, config.IoUThreshold)
	if keep == nil {
		return nil
	}
	filtered := make([]Detection, len(keep))
	for k, i := range keep {
		filtered[k] = detections[i]
	}
	return filtered
}

// ApplyNMS runs greedy NMS on every (class, image) cell of the table in
// place. Cells are independent and are processed by a bounded worker pool.
//
// Arguments:
//   - ctx: Cancels the pass between cells.
//   - table: The detection table.
//   - config: NMS configuration.
//
// Returns:
//   - error: The context error if the pass was cancelled.
func ApplyNMS(ctx context.Context, table *Table, config *NMSConfig) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(config.NumWorkers, 1))

	for class := 0; class < table.NumClasses(); class++ {
		for image := 0; image < table.NumImages(); image++ {
			dets := table.At(class, image)
			if len(dets) == 0 {
				continue
			}
			class, image := class, image
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				table.Set(class, image, ApplyGreedyNMS(dets, config))
				return nil
			})
		}
	}

	return g.Wait()
}
