package budget

import (
	"sort"
	"sync"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-frcnn/models/postprocess"
	"github.com/pkg/errors"
)

// Config configures a Thresholder.
type Config struct {
	// NumClasses counts classes including background.
	NumClasses int `json:"num_classes" yaml:"num_classes"`
	// NumImages is the number of images in the corpus.
	NumImages int `json:"num_images" yaml:"num_images"`
	// PerImageQuota is the average number of detections per class per image
	// the budget allows.
	PerImageQuota int `json:"per_image_quota" yaml:"per_image_quota"`
	// MaxPerImage caps the detections taken from one image for one class.
	MaxPerImage int `json:"max_per_image" yaml:"max_per_image"`
	// FreezeThreshold keeps trimming the heaps but never raises the
	// threshold above -Inf.
	FreezeThreshold bool `json:"freeze_threshold" yaml:"freeze_threshold"`
}

// DefaultConfig returns the test-time quotas. The corpus dimensions are left
// to the run that owns the thresholder.
func DefaultConfig() Config {
	return Config{
		PerImageQuota: 40,
		MaxPerImage:   100,
	}
}

// BudgetPerClass returns the heap capacity of every class.
func (c Config) BudgetPerClass() int {
	return c.PerImageQuota * c.NumImages
}

type classState struct {
	mu        sync.Mutex
	top       *TopK
	threshold float32
}

// Thresholder derives an adaptive score threshold per class while images are
// streamed through it, so the number of detections kept per class over the
// whole corpus stays near BudgetPerClass. It is safe for concurrent use.
//
// Thresholds only tighten during the pass. Detections accepted under an
// earlier, looser threshold are removed by Finalize.
type Thresholder struct {
	cfg     Config
	classes []*classState
}

// NewThresholder creates a Thresholder with every threshold at -Inf.
func NewThresholder(cfg Config) *Thresholder {
	classes := make([]*classState, cfg.NumClasses)
	for i := range classes {
		classes[i] = &classState{
			top:       NewTopK(cfg.BudgetPerClass()),
			threshold: math32.Inf(-1),
		}
	}
	return &Thresholder{cfg: cfg, classes: classes}
}

// Select picks the detections of one class in one image that pass the current
// threshold and records their scores.
//
// Candidates must score strictly above the class threshold and be eligible.
// At most MaxPerImage of them are kept, highest scores first, ties in input
// order. Every kept score is pushed onto the class heap; when the heap
// overflows the threshold moves up to the heap minimum.
//
// Arguments:
//   - class: The class index.
//   - candidates: One detection per proposal.
//   - eligible: Per proposal eligibility. Nil means every proposal is eligible.
//
// Returns:
//   - []postprocess.Detection: The provisionally kept detections.
//   - error: If eligible and candidates differ in length or class is out of range.
func (t *Thresholder) Select(class int, candidates []postprocess.Detection, eligible []bool) ([]postprocess.Detection, error) {
	if class < 0 || class >= len(t.classes) {
		return nil, errors.Errorf("class %d outside [0, %d)", class, len(t.classes))
	}
	if eligible != nil && len(eligible) != len(candidates) {
		return nil, errors.Wrapf(postprocess.ErrDimensionMismatch,
			"%d eligibility flags for %d candidates", len(eligible), len(candidates))
	}

	state := t.classes[class]
	state.mu.Lock()
	defer state.mu.Unlock()

	selected := make([]postprocess.Detection, 0)
	for i, d := range candidates {
		if d.Score > state.threshold && (eligible == nil || eligible[i]) {
			selected = append(selected, d)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Score > selected[j].Score
	})
	if len(selected) > t.cfg.MaxPerImage {
		selected = selected[:t.cfg.MaxPerImage]
	}

	overflow := false
	for _, d := range selected {
		if state.top.Push(d.Score) {
			overflow = true
		}
	}
	if overflow && !t.cfg.FreezeThreshold {
		if m, ok := state.top.Min(); ok {
			state.threshold = math32.Max(state.threshold, m)
		}
	}

	return selected, nil
}

// Threshold returns the current threshold of a class.
func (t *Thresholder) Threshold(class int) float32 {
	state := t.classes[class]
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.threshold
}

// Thresholds returns the current threshold of every class.
func (t *Thresholder) Thresholds() []float32 {
	out := make([]float32, len(t.classes))
	for class := range t.classes {
		out[class] = t.Threshold(class)
	}
	return out
}

// HeapLen returns the number of scores retained for a class.
func (t *Thresholder) HeapLen(class int) int {
	state := t.classes[class]
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.top.Len()
}

// Finalize applies the final thresholds to a table, dropping every detection
// whose score is at or below its class threshold. Classes beyond the
// thresholder's range are left untouched.
func (t *Thresholder) Finalize(table *postprocess.Table) {
	thresholds := t.Thresholds()
	table.Filter(func(class int, d postprocess.Detection) bool {
		if class >= len(thresholds) {
			return true
		}
		return d.Score > thresholds[class]
	})
}
