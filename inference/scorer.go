package inference

import (
	"context"

	"github.com/nvr-ai/go-frcnn/models/fastrcnn"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"gorgonia.org/tensor"
)

// Config configures an ONNXScorer.
type Config struct {
	// ModelPath is the exported Fast R-CNN network.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// LibraryPath overrides the onnxruntime shared library location.
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// DataInput and RoIsInput name the image blob and RoI table inputs.
	DataInput string `json:"data_input" yaml:"data_input"`
	RoIsInput string `json:"rois_input" yaml:"rois_input"`
	// ProbOutput names the softmax output, RawOutput the classifier output
	// read instead when UseRawScores is set.
	ProbOutput   string `json:"prob_output" yaml:"prob_output"`
	RawOutput    string `json:"raw_output" yaml:"raw_output"`
	UseRawScores bool   `json:"use_raw_scores" yaml:"use_raw_scores"`
	// DeltasOutput names the box regression output. It is read when BBoxReg is set.
	DeltasOutput string `json:"deltas_output" yaml:"deltas_output"`
	BBoxReg      bool   `json:"bbox_reg" yaml:"bbox_reg"`
	// FeatureOutput optionally names a layer returned as the image feature vector.
	FeatureOutput string `json:"feature_output" yaml:"feature_output"`
	// Sets the number of threads used to parallelize execution within graph nodes. 0 uses the default.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	// Sets the number of threads used to parallelize execution across graph nodes. 0 uses the default.
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`
	// UseCUDA appends the CUDA execution provider.
	UseCUDA bool `json:"use_cuda" yaml:"use_cuda"`
}

// DefaultConfig returns the tensor names of the reference Fast R-CNN export.
func DefaultConfig() Config {
	return Config{
		DataInput:    "data",
		RoIsInput:    "rois",
		ProbOutput:   "cls_prob",
		RawOutput:    "cls_score",
		DeltasOutput: "bbox_pred",
		BBoxReg:      true,
	}
}

// outputNames lists the outputs to fetch, scores first.
func (c Config) outputNames() []string {
	names := []string{c.ProbOutput}
	if c.UseRawScores {
		names[0] = c.RawOutput
	}
	if c.BBoxReg {
		names = append(names, c.DeltasOutput)
	}
	if c.FeatureOutput != "" {
		names = append(names, c.FeatureOutput)
	}
	return names
}

// ONNXScorer implements fastrcnn.Scorer on ONNX Runtime.
type ONNXScorer struct {
	cfg     Config
	session *ort.DynamicAdvancedSession
	logger  *zap.Logger
}

// NewONNXScorer loads the model and creates a session.
//
// Arguments:
//   - cfg: The scorer configuration.
//   - logger: Logger for session lifecycle events.
//
// Returns:
//   - *ONNXScorer: The scorer. Close it when done.
//   - error: Library, model or session option errors.
func NewONNXScorer(cfg Config, logger *zap.Logger) (*ONNXScorer, error) {
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		return nil, errors.Wrap(err, "set intra-op threads")
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		return nil, errors.Wrap(err, "set inter-op threads")
	}
	// Enables graph rewrites such as fusion and constant folding at load time.
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return nil, errors.Wrap(err, "set graph optimization level")
	}
	if cfg.UseCUDA {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, errors.Wrap(err, "error creating CUDA options")
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return nil, errors.Wrap(err, "error enabling CUDA")
		}
	}

	outputs := cfg.outputNames()
	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.DataInput, cfg.RoIsInput},
		outputs,
		options,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create ONNX session for %s", cfg.ModelPath)
	}

	logger.Info("onnx scorer ready",
		zap.String("model", cfg.ModelPath),
		zap.Strings("outputs", outputs),
		zap.Bool("cuda", cfg.UseCUDA))

	return &ONNXScorer{cfg: cfg, session: session, logger: logger}, nil
}

// Score runs one forward pass.
func (s *ONNXScorer) Score(ctx context.Context, blob *tensor.Dense, rois []fastrcnn.RoI) (*fastrcnn.ScorerOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pixels, ok := blob.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("blob of %v, want float32", blob.Dtype())
	}
	data, err := ort.NewTensor(toShape(blob.Shape()), pixels)
	if err != nil {
		return nil, errors.Wrap(err, "error creating data tensor")
	}
	defer data.Destroy()

	roiTensor, err := ort.NewTensor(ort.NewShape(int64(len(rois)), 5), roiTable(rois))
	if err != nil {
		return nil, errors.Wrap(err, "error creating rois tensor")
	}
	defer roiTensor.Destroy()

	outputs := make([]ort.Value, len(s.cfg.outputNames()))
	if err := s.session.Run([]ort.Value{data, roiTensor}, outputs); err != nil {
		return nil, errors.Wrap(err, "onnx forward pass")
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	values := make([]*fastrcnn.Matrix[float32], len(outputs))
	for i, o := range outputs {
		t, ok := o.(*ort.Tensor[float32])
		if !ok {
			return nil, errors.Errorf("output %d is %T, want float32 tensor", i, o)
		}
		m, err := toMatrix(t.GetShape(), t.GetData())
		if err != nil {
			return nil, errors.Wrapf(err, "output %d", i)
		}
		values[i] = m
	}

	out := &fastrcnn.ScorerOutput{Scores: values[0]}
	next := 1
	if s.cfg.BBoxReg {
		out.Deltas = values[next]
		next++
	}
	if s.cfg.FeatureOutput != "" {
		out.Features = values[next].Data
	}
	return out, nil
}

// Close releases the session.
func (s *ONNXScorer) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}

func toShape(shape tensor.Shape) ort.Shape {
	dims := make([]int64, len(shape))
	for i, d := range shape {
		dims[i] = int64(d)
	}
	return ort.NewShape(dims...)
}

// roiTable flattens RoIs into (level, x1, y1, x2, y2) rows.
func roiTable(rois []fastrcnn.RoI) []float32 {
	out := make([]float32, 0, 5*len(rois))
	for _, r := range rois {
		for _, v := range r.Fields() {
			out = append(out, float32(v))
		}
	}
	return out
}

// toMatrix views an output of shape (R, d1, d2, ...) as an R x (d1*d2*...)
// matrix. Data is copied because the tensor is destroyed after the pass.
func toMatrix(shape ort.Shape, data []float32) (*fastrcnn.Matrix[float32], error) {
	if len(shape) == 0 {
		return nil, errors.Wrap(fastrcnn.ErrShapeMismatch, "scalar output")
	}
	rows := int(shape[0])
	cols := 1
	for _, d := range shape[1:] {
		cols *= int(d)
	}
	return fastrcnn.MatrixFrom(rows, cols, append([]float32(nil), data...))
}
