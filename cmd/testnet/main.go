// Command testnet tests a Fast R-CNN network on an image database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nvr-ai/go-frcnn/checkpoint"
	"github.com/nvr-ai/go-frcnn/config"
	"github.com/nvr-ai/go-frcnn/imdb"
	"github.com/nvr-ai/go-frcnn/inference"
	"github.com/nvr-ai/go-frcnn/logging"
	"github.com/nvr-ai/go-frcnn/models/fastrcnn"
	"github.com/nvr-ai/go-frcnn/pipeline"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath string
		database   string
		modelPath  string
		useFlip    bool
		noReuse    bool
		corloc     bool
	)
	flag.StringVar(&configPath, "config", "", "Path to the YAML configuration")
	flag.StringVar(&database, "imdb", "", "Image database manifest (overrides config)")
	flag.StringVar(&modelPath, "model", "", "ONNX network to test (overrides config)")
	flag.BoolVar(&useFlip, "flip", false, "Also score horizontally flipped images")
	flag.BoolVar(&noReuse, "no-reuse", false, "Ignore checkpointed detections")
	flag.BoolVar(&corloc, "corloc", false, "Evaluate with CorLoc instead of the database protocol")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if database != "" {
		cfg.Database = database
	}
	if modelPath != "" {
		cfg.Model.ModelPath = modelPath
	}
	cfg.UseFlip = cfg.UseFlip || useFlip
	cfg.Reuse = cfg.Reuse && !noReuse
	if corloc {
		cfg.Eval.Mode = config.ModeCorLoc
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Development, cfg.Log.Outputs...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("test run failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.Database == "" {
		return errors.New("no image database given")
	}
	if cfg.Model.ModelPath == "" {
		return errors.New("no model given")
	}

	db, err := imdb.LoadManifest(cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("loaded image database",
		zap.String("name", db.Name()),
		zap.Int("images", db.NumImages()),
		zap.Int("classes", imdb.NumClasses(db)))

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return errors.Wrap(err, "create output directory")
	}
	store, err := checkpoint.Open(cfg.Checkpoint())
	if err != nil {
		return err
	}
	defer store.Close()

	scorer, err := inference.NewONNXScorer(cfg.Scorer(), logger)
	if err != nil {
		return err
	}
	defer scorer.Close()

	detector := fastrcnn.NewDetector(cfg.Detector(), scorer)
	runner := pipeline.NewRunner(db, detector, pipeline.FileReader, store, options(cfg), logger)

	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	for _, s := range report.Timings {
		logger.Info("timing", zap.Object("op", s))
	}
	return nil
}

// options maps the configuration onto runner options.
func options(cfg config.Config) pipeline.Options {
	return pipeline.Options{
		Key:         checkpoint.KeyFromModelPath(cfg.Model.ModelPath, cfg.UseFlip),
		Reuse:       cfg.Reuse,
		UseFlip:     cfg.UseFlip,
		Workers:     cfg.Workers,
		FeatureDump: cfg.FeatureDump,
		OutputDir:   cfg.OutputDir,
		Budget:      cfg.Budget(),
		NMS:         cfg.NMS(),
		EvalMode:    pipeline.EvalMode(strings.ToLower(cfg.Eval.Mode)),
		Variant:     cfg.Variant(),
		Overlap:     cfg.Eval.Overlap,
		Sweep:       cfg.Eval.Sweep,
	}
}
