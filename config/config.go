// Package config - Test run configuration from YAML and the environment.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/nvr-ai/go-frcnn/budget"
	"github.com/nvr-ai/go-frcnn/evaluation"
	"github.com/nvr-ai/go-frcnn/images"
	"github.com/nvr-ai/go-frcnn/inference"
	"github.com/nvr-ai/go-frcnn/models/fastrcnn"
	"github.com/nvr-ai/go-frcnn/models/postprocess"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Evaluation modes.
const (
	// ModeCorLoc scores with CorLoc and an overlap sweep.
	ModeCorLoc = "corloc"
	// ModeGeneric hands the table to the database's own evaluation.
	ModeGeneric = "generic"
)

// LogConfig configures logging.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	// Outputs are zap sink URLs or file paths. Empty means stdout.
	Outputs []string `yaml:"outputs"`
}

// TestConfig holds the numeric test-time settings.
type TestConfig struct {
	Scales          []int      `yaml:"scales"`
	MaxSize         int        `yaml:"max_size"`
	PixelMeans      [3]float32 `yaml:"pixel_means"`
	DedupBoxes      float64    `yaml:"dedup_boxes"`
	BBoxReg         bool       `yaml:"bbox_reg"`
	CanonicalArea   float64    `yaml:"canonical_area"`
	Eps             float64    `yaml:"eps"`
	NMS             float64    `yaml:"nms"`
	PerImageQuota   int        `yaml:"per_image_quota"`
	MaxPerImage     int        `yaml:"max_per_image"`
	FreezeThreshold bool       `yaml:"freeze_threshold"`
}

// EvalConfig selects the evaluation protocol.
type EvalConfig struct {
	Mode    string  `yaml:"mode"`
	Variant string  `yaml:"variant"`
	Overlap float64 `yaml:"overlap"`
	Sweep   bool    `yaml:"sweep"`
}

// Config is the full test run configuration.
type Config struct {
	// Database is the path of the JSON image manifest.
	Database string `yaml:"database"`
	// OutputDir receives result files and the default checkpoint database.
	OutputDir string `yaml:"output_dir"`
	// CheckpointPath is the SQLite checkpoint file. Empty means
	// OutputDir/checkpoints.db.
	CheckpointPath string `yaml:"checkpoint_path"`
	// Reuse allows loading a previous run's detections.
	Reuse bool `yaml:"reuse_detections"`
	// UseFlip also scores the horizontal mirror of every image.
	UseFlip bool `yaml:"use_flip"`
	// Workers is the number of images scored concurrently.
	Workers int `yaml:"workers"`
	// FeatureDump stores the scorer's feature vectors with the checkpoint.
	FeatureDump bool `yaml:"feature_dump"`

	Log   LogConfig        `yaml:"log"`
	Test  TestConfig       `yaml:"test"`
	Eval  EvalConfig       `yaml:"evaluation"`
	Model inference.Config `yaml:"model"`
}

// Default returns the configuration Fast R-CNN models are tested with.
func Default() Config {
	pyr := images.DefaultPyramidConfig()
	det := fastrcnn.DefaultConfig()
	quota := budget.DefaultConfig()
	return Config{
		OutputDir: "output",
		Reuse:     true,
		Workers:   runtime.NumCPU(),
		Log:       LogConfig{Level: "info"},
		Test: TestConfig{
			Scales:        pyr.Scales,
			MaxSize:       pyr.MaxSize,
			PixelMeans:    pyr.PixelMeans,
			DedupBoxes:    det.DedupFactor,
			BBoxReg:       det.BBoxReg,
			CanonicalArea: det.CanonicalArea,
			Eps:           det.Eps,
			NMS:           0.3,
			PerImageQuota: quota.PerImageQuota,
			MaxPerImage:   quota.MaxPerImage,
		},
		Eval: EvalConfig{
			Mode:    ModeGeneric,
			Variant: string(evaluation.VariantStrict),
			Overlap: 0.5,
			Sweep:   true,
		},
		Model: inference.DefaultConfig(),
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A .env file in the working directory is loaded
// first when present. An empty path skips the YAML step.
//
// Arguments:
//   - path: Path to the YAML configuration, or "".
//
// Returns:
//   - Config: The validated configuration.
//   - error: IO, parse or validation errors.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "load .env")
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Database = getEnv("FRCNN_DATABASE", c.Database)
	c.OutputDir = getEnv("FRCNN_OUTPUT_DIR", c.OutputDir)
	c.CheckpointPath = getEnv("FRCNN_CHECKPOINT", c.CheckpointPath)
	c.Model.ModelPath = getEnv("FRCNN_MODEL", c.Model.ModelPath)
	c.Model.LibraryPath = getEnv("FRCNN_ORT_LIBRARY", c.Model.LibraryPath)
	c.Log.Level = getEnv("FRCNN_LOG_LEVEL", c.Log.Level)
	c.Eval.Mode = getEnv("FRCNN_EVAL_MODE", c.Eval.Mode)
	c.Eval.Variant = getEnv("FRCNN_CORLOC_VARIANT", c.Eval.Variant)

	var err error
	if c.Reuse, err = getEnvAsBool("FRCNN_REUSE", c.Reuse); err != nil {
		return err
	}
	if c.UseFlip, err = getEnvAsBool("FRCNN_USE_FLIP", c.UseFlip); err != nil {
		return err
	}
	if c.Workers, err = getEnvAsInt("FRCNN_WORKERS", c.Workers); err != nil {
		return err
	}
	if c.Test.NMS, err = getEnvAsFloat("FRCNN_NMS", c.Test.NMS); err != nil {
		return err
	}
	if c.Eval.Overlap, err = getEnvAsFloat("FRCNN_OVERLAP", c.Eval.Overlap); err != nil {
		return err
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	if value := os.Getenv(key); value != "" {
		v, err := strconv.Atoi(value)
		return v, errors.Wrapf(err, "parse %s", key)
	}
	return defaultValue, nil
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	if value := os.Getenv(key); value != "" {
		v, err := strconv.ParseFloat(value, 64)
		return v, errors.Wrapf(err, "parse %s", key)
	}
	return defaultValue, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	if value := os.Getenv(key); value != "" {
		v, err := strconv.ParseBool(value)
		return v, errors.Wrapf(err, "parse %s", key)
	}
	return defaultValue, nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	t := c.Test
	switch {
	case len(t.Scales) == 0:
		return errors.Wrap(images.ErrNoScales, "test.scales")
	case t.MaxSize <= 0:
		return errors.Errorf("test.max_size must be positive, got %d", t.MaxSize)
	case t.DedupBoxes < 0:
		return errors.Errorf("test.dedup_boxes must not be negative, got %g", t.DedupBoxes)
	case t.NMS < 0 || t.NMS > 1:
		return errors.Errorf("test.nms must be in [0, 1], got %g", t.NMS)
	case t.PerImageQuota <= 0:
		return errors.Errorf("test.per_image_quota must be positive, got %d", t.PerImageQuota)
	case t.MaxPerImage <= 0:
		return errors.Errorf("test.max_per_image must be positive, got %d", t.MaxPerImage)
	case c.Workers <= 0:
		return errors.Errorf("workers must be positive, got %d", c.Workers)
	case c.Eval.Overlap < 0 || c.Eval.Overlap > 1:
		return errors.Errorf("evaluation.overlap must be in [0, 1], got %g", c.Eval.Overlap)
	case c.FeatureDump && c.Model.FeatureOutput == "":
		return errors.New("feature_dump requires model.feature_output")
	}
	for _, s := range t.Scales {
		if s <= 0 {
			return errors.Errorf("test.scales must be positive, got %d", s)
		}
	}
	switch strings.ToLower(c.Eval.Mode) {
	case ModeCorLoc, ModeGeneric:
	default:
		return errors.Errorf("unknown evaluation.mode %q", c.Eval.Mode)
	}
	if _, err := evaluation.ParseVariant(c.Eval.Variant); err != nil {
		return err
	}
	return nil
}

// Pyramid returns the pyramid settings.
func (c Config) Pyramid() images.PyramidConfig {
	return images.PyramidConfig{
		Scales:     append([]int(nil), c.Test.Scales...),
		MaxSize:    c.Test.MaxSize,
		PixelMeans: c.Test.PixelMeans,
	}
}

// Detector returns the detect step settings.
func (c Config) Detector() fastrcnn.Config {
	return fastrcnn.Config{
		Pyramid:       c.Pyramid(),
		DedupFactor:   c.Test.DedupBoxes,
		BBoxReg:       c.Test.BBoxReg,
		CanonicalArea: c.Test.CanonicalArea,
		Eps:           c.Test.Eps,
	}
}

// Budget returns the budget quotas. The corpus dimensions are filled in by
// the run from the database it scores.
func (c Config) Budget() budget.Config {
	return budget.Config{
		PerImageQuota:   c.Test.PerImageQuota,
		MaxPerImage:     c.Test.MaxPerImage,
		FreezeThreshold: c.Test.FreezeThreshold,
	}
}

// NMS returns the suppression settings.
func (c Config) NMS() postprocess.NMSConfig {
	return postprocess.NMSConfig{IoUThreshold: c.Test.NMS, NumWorkers: c.Workers}
}

// Scorer returns the ONNX scorer settings, with box regression following
// the test settings.
func (c Config) Scorer() inference.Config {
	m := c.Model
	m.BBoxReg = c.Test.BBoxReg
	return m
}

// Variant returns the parsed CorLoc variant.
func (c Config) Variant() evaluation.Variant {
	v, _ := evaluation.ParseVariant(c.Eval.Variant)
	return v
}

// Checkpoint returns the checkpoint database path.
func (c Config) Checkpoint() string {
	if c.CheckpointPath != "" {
		return c.CheckpointPath
	}
	return filepath.Join(c.OutputDir, "checkpoints.db")
}
