// Package pipeline - Fast R-CNN test runs over an image database.
package pipeline

import (
	"context"
	"math"
	"runtime"

	"github.com/nvr-ai/go-frcnn/budget"
	"github.com/nvr-ai/go-frcnn/checkpoint"
	"github.com/nvr-ai/go-frcnn/evaluation"
	"github.com/nvr-ai/go-frcnn/imdb"
	"github.com/nvr-ai/go-frcnn/images"
	"github.com/nvr-ai/go-frcnn/models/fastrcnn"
	"github.com/nvr-ai/go-frcnn/models/postprocess"
	"github.com/nvr-ai/go-frcnn/profiler"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ImageReader loads the image at a path.
type ImageReader interface {
	Read(path string) (*images.Image, error)
}

// ImageReaderFunc adapts a function to ImageReader.
type ImageReaderFunc func(path string) (*images.Image, error)

// Read calls f.
func (f ImageReaderFunc) Read(path string) (*images.Image, error) { return f(path) }

// FileReader reads images from disk.
var FileReader ImageReader = ImageReaderFunc(images.ReadFile)

// ImageDetector runs the per-image detect step. *fastrcnn.Detector
// implements it.
type ImageDetector interface {
	Detect(ctx context.Context, img *images.Image, proposals []images.Box) (*fastrcnn.Detections, error)
}

// CheckpointStore persists thresholded tables. *checkpoint.Store implements it.
type CheckpointStore interface {
	Load(ctx context.Context, key checkpoint.Key, numClasses, numImages int) checkpoint.Result
	Save(ctx context.Context, key checkpoint.Key, table *postprocess.Table, features [][]float32) error
}

// EvalMode selects the evaluation protocol of a run.
type EvalMode string

const (
	// EvalCorLoc scores with CorLoc at Overlap and optionally sweeps overlaps.
	EvalCorLoc EvalMode = "corloc"
	// EvalGeneric calls the database's own evaluation.
	EvalGeneric EvalMode = "generic"
)

// Options configures a Runner.
type Options struct {
	// Key identifies the run's checkpoint. Its Flipped flag is overwritten
	// by UseFlip.
	Key   checkpoint.Key
	Reuse bool
	// UseFlip scores every image and its horizontal mirror.
	UseFlip bool
	// Workers is the number of images detected concurrently.
	Workers     int
	FeatureDump bool
	OutputDir   string

	// Budget holds the thresholding quotas. Its corpus dimensions are taken
	// from the scored database.
	Budget budget.Config
	NMS    postprocess.NMSConfig

	EvalMode EvalMode
	Variant  evaluation.Variant
	Overlap  float64
	// Sweep adds CorLoc at overlaps 0.0 to 1.0 in CorLoc mode.
	Sweep bool
}

// DefaultOptions returns the options of a plain test run.
func DefaultOptions() Options {
	return Options{
		Reuse:    true,
		Workers:  runtime.NumCPU(),
		Budget:   budget.DefaultConfig(),
		NMS:      postprocess.DefaultNMSConfig(),
		EvalMode: EvalGeneric,
		Variant:  evaluation.VariantStrict,
		Overlap:  0.5,
		Sweep:    true,
	}
}

// Report summarises a run.
type Report struct {
	// Checkpoint is the lookup outcome. Its table is not retained.
	CheckpointStatus checkpoint.Status
	CheckpointReason string
	// Detections is the final, NMS-filtered classes x images table.
	Detections *postprocess.Table
	// Thresholds holds the final per-class thresholds of a scored run.
	Thresholds []float32
	// Features holds the per-image feature vectors when dumped or loaded.
	Features [][]float32
	// CorLoc and Sweep are filled in CorLoc mode.
	CorLoc *evaluation.Report
	Sweep  []*evaluation.Report
	// Timings holds the per-operation timers of a scored run.
	Timings []profiler.Stats
}

// SweepMeans returns the mean CorLoc of every sweep point.
func (r *Report) SweepMeans() []float64 {
	out := make([]float64, len(r.Sweep))
	for i, s := range r.Sweep {
		out[i] = s.Mean
	}
	return out
}

// Runner executes a test run.
type Runner struct {
	db       imdb.Database
	detector ImageDetector
	reader   ImageReader
	store    CheckpointStore
	opts     Options
	logger   *zap.Logger
}

// NewRunner creates a Runner.
//
// Arguments:
//   - db: The unflipped image database.
//   - detector: The per-image detect step.
//   - reader: Image loader, usually FileReader.
//   - store: Checkpoint store, or nil to always score.
//   - opts: Run options.
//   - logger: Progress and result logger.
//
// Returns:
//   - *Runner: The runner.
func NewRunner(db imdb.Database, detector ImageDetector, reader ImageReader, store CheckpointStore, opts Options, logger *zap.Logger) *Runner {
	opts.Key.Flipped = opts.UseFlip
	return &Runner{
		db:       db,
		detector: detector,
		reader:   reader,
		store:    store,
		opts:     opts,
		logger:   logger,
	}
}

// Run loads or computes the thresholded detections, merges flipped
// detections, applies NMS and evaluates.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	scoreDB := r.db
	if r.opts.UseFlip {
		scoreDB = imdb.WithFlipped(r.db)
	}
	numClasses := imdb.NumClasses(scoreDB)
	numImages := scoreDB.NumImages()

	cached := r.lookup(ctx, numClasses, numImages)
	report := &Report{
		CheckpointStatus: cached.Status,
		CheckpointReason: cached.Reason,
	}

	table := cached.Table
	if cached.Hit() {
		r.logger.Info("loaded detections from checkpoint", zap.Stringer("key", r.opts.Key))
		report.Features = cached.Features
	} else {
		r.logger.Info("scoring images", zap.Stringer("key", r.opts.Key),
			zap.String("reason", cached.Reason), zap.Int("images", numImages))

		run, err := r.score(ctx, scoreDB)
		if err != nil {
			return nil, err
		}
		table = run.table
		report.Thresholds = run.thresholds
		report.Features = run.features
		report.Timings = run.timings

		if r.store != nil {
			if err := r.store.Save(ctx, r.opts.Key, table, run.features); err != nil {
				r.logger.Warn("failed to save checkpoint", zap.Stringer("key", r.opts.Key), zap.Error(err))
			}
		}
	}

	if r.opts.UseFlip {
		r.logger.Info("merging left right detections")
		merged, err := postprocess.MergeFlipped(table, imdb.Widths(r.db))
		if err != nil {
			return nil, errors.Wrap(err, "merge flipped detections")
		}
		table = merged
	}

	r.logger.Info("applying NMS to all detections", zap.Float64("threshold", r.opts.NMS.IoUThreshold))
	if err := postprocess.ApplyNMS(ctx, table, &r.opts.NMS); err != nil {
		return nil, errors.Wrap(err, "apply nms")
	}
	report.Detections = table

	if err := r.evaluate(ctx, table, report); err != nil {
		return nil, err
	}
	return report, nil
}

func (r *Runner) lookup(ctx context.Context, numClasses, numImages int) checkpoint.Result {
	if !r.opts.Reuse || r.store == nil {
		return checkpoint.Disabled()
	}
	return r.store.Load(ctx, r.opts.Key, numClasses, numImages)
}

func (r *Runner) evaluate(ctx context.Context, table *postprocess.Table, report *Report) error {
	if r.opts.EvalMode != EvalCorLoc {
		r.logger.Info("evaluating detections", zap.String("database", r.db.Name()), zap.String("output", r.opts.OutputDir))
		return errors.Wrap(
			r.db.EvaluateDetections(ctx, table, r.opts.OutputDir, r.opts.Overlap),
			"evaluate detections",
		)
	}

	gt := imdb.GroundTruth(r.db)
	corloc, err := evaluation.CorLoc(ctx, table, gt, r.opts.Overlap, r.opts.Variant)
	if err != nil {
		return errors.Wrap(err, "evaluate corloc")
	}
	report.CorLoc = corloc
	r.logger.Info("corloc",
		zap.Float64("overlap", corloc.Overlap),
		zap.String("variant", string(corloc.Variant)),
		zap.Float64s("per_class", corloc.PerClass[1:]),
		zap.Float64("mean", corloc.Mean))

	if !r.opts.Sweep {
		return nil
	}
	sweep, err := evaluation.Sweep(ctx, table, gt, r.opts.Variant, evaluation.DefaultOverlaps())
	if err != nil {
		return err
	}
	report.Sweep = sweep
	for _, s := range sweep {
		if math.IsNaN(s.Mean) {
			continue
		}
		r.logger.Info("corloc sweep", zap.Float64("overlap", s.Overlap), zap.Float64("mean", s.Mean))
	}
	return nil
}
