package fastrcnn

import "github.com/nvr-ai/go-frcnn/images"

// Config holds the immutable test-time settings of a Detector.
type Config struct {
	// Pyramid configures the multi-scale input blob.
	Pyramid images.PyramidConfig `json:"pyramid" yaml:"pyramid"`
	// DedupFactor is the quantisation granularity used to collapse aliased
	// RoIs. Zero disables deduplication.
	DedupFactor float64 `json:"dedup_boxes" yaml:"dedup_boxes"`
	// BBoxReg enables class-specific box regression. When false every
	// proposal is tiled once per class unchanged.
	BBoxReg bool `json:"bbox_reg" yaml:"bbox_reg"`
	// CanonicalArea is the reference area a proposal is matched against when
	// choosing its pyramid level.
	CanonicalArea float64 `json:"canonical_area" yaml:"canonical_area"`
	// Eps is added to box widths and heights before regression.
	Eps float64 `json:"eps" yaml:"eps"`
}

// DefaultConfig returns the settings Fast R-CNN models are tested with.
func DefaultConfig() Config {
	return Config{
		Pyramid:       images.DefaultPyramidConfig(),
		DedupFactor:   1.0 / 16.0,
		BBoxReg:       true,
		CanonicalArea: 224 * 224,
		Eps:           1e-14,
	}
}
