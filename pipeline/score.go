package pipeline

import (
	"context"
	"sync"

	"github.com/nvr-ai/go-frcnn/budget"
	"github.com/nvr-ai/go-frcnn/imdb"
	"github.com/nvr-ai/go-frcnn/models/fastrcnn"
	"github.com/nvr-ai/go-frcnn/models/postprocess"
	"github.com/nvr-ai/go-frcnn/profiler"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// scoredImage is the detect output of one image.
type scoredImage struct {
	index    int
	dets     *fastrcnn.Detections
	eligible []bool
}

// scoreRun is the outcome of the scoring pass.
type scoreRun struct {
	table      *postprocess.Table
	thresholds []float32
	features   [][]float32
	timings    []profiler.Stats
}

// score detects every image of db and builds the thresholded table.
//
// Images are read and detected by a pool of workers. A single consumer
// feeds their detections to the budget thresholder in completion order, so
// the provisional table depends on scheduling while the table after the
// second pass does not.
func (r *Runner) score(ctx context.Context, db imdb.Database) (*scoreRun, error) {
	numClasses := imdb.NumClasses(db)
	numImages := db.NumImages()

	quota := r.opts.Budget
	quota.NumClasses = numClasses
	quota.NumImages = numImages
	th := budget.NewThresholder(quota)
	table := postprocess.NewTable(numClasses, numImages)
	var features [][]float32
	if r.opts.FeatureDump {
		features = make([][]float32, numImages)
	}
	prof := profiler.New()

	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan int)
	results := make(chan scoredImage)

	g.Go(func() error {
		defer close(jobs)
		for i := 0; i < numImages; i++ {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	for w := 0; w < max(r.opts.Workers, 1); w++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for i := range jobs {
				res, err := r.detectImage(ctx, db, i, prof)
				if err != nil {
					return err
				}
				select {
				case results <- res:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	g.Go(func() error {
		done := 0
		var failed error
		for res := range results {
			if failed != nil {
				continue
			}
			stop := prof.StartOperation(profiler.OpMisc)
			err := selectImage(th, table, res)
			stop()
			if err != nil {
				failed = errors.Wrapf(err, "threshold image %d", res.index)
				continue
			}
			if features != nil {
				features[res.index] = res.dets.Features
			}
			done++
			r.logger.Info("im_detect",
				zap.Int("image", done),
				zap.Int("total", numImages),
				zap.Duration(profiler.OpDetect, prof.Average(profiler.OpDetect)),
				zap.Duration(profiler.OpMisc, prof.Average(profiler.OpMisc)))
		}
		return failed
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	th.Finalize(table)
	thresholds := th.Thresholds()
	r.logger.Debug("final thresholds", zap.Any("thresholds", thresholds))

	return &scoreRun{
		table:      table,
		thresholds: thresholds,
		features:   features,
		timings:    prof.Stats(),
	}, nil
}

func (r *Runner) detectImage(ctx context.Context, db imdb.Database, i int, prof *profiler.Profiler) (scoredImage, error) {
	rec := db.Record(i)
	img, err := r.reader.Read(db.ImagePathAt(i))
	if err != nil {
		return scoredImage{}, errors.Wrapf(err, "read image %d", i)
	}
	if rec.Flipped {
		img = img.FlipHorizontal()
	}

	stop := prof.StartOperation(profiler.OpDetect)
	dets, err := r.detector.Detect(ctx, img, rec.Proposals())
	stop()
	if err != nil {
		return scoredImage{}, errors.Wrapf(err, "detect image %d", i)
	}
	return scoredImage{index: i, dets: dets, eligible: rec.Eligible()}, nil
}

// selectImage runs every foreground class of one image through the budget.
func selectImage(th *budget.Thresholder, table *postprocess.Table, res scoredImage) error {
	if res.dets.Scores.Rows > 0 && res.dets.NumClasses() != table.NumClasses() {
		return errors.Wrapf(postprocess.ErrDimensionMismatch,
			"scorer returned %d classes, database has %d", res.dets.NumClasses(), table.NumClasses())
	}
	for class := 1; class < table.NumClasses(); class++ {
		kept, err := th.Select(class, candidates(res.dets, class), res.eligible)
		if err != nil {
			return err
		}
		table.Set(class, res.index, kept)
	}
	return nil
}

// candidates lists one detection per proposal for a class.
func candidates(dets *fastrcnn.Detections, class int) []postprocess.Detection {
	out := make([]postprocess.Detection, dets.Scores.Rows)
	for i := range out {
		out[i] = postprocess.Detection{
			Box:   fastrcnn.BoxAt(dets.Boxes, i, class),
			Score: dets.Scores.At(i, class),
		}
	}
	return out
}
