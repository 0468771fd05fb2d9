// Package postprocess - Postprocessing of per-class detections.
package postprocess

import "github.com/nvr-ai/go-frcnn/images"

// Detection is a scored box scoped to one (class, image) cell.
type Detection struct {
	// The bounding box of the detection in image coordinates.
	Box images.Box
	// The confidence score of the detection.
	Score float32
}
