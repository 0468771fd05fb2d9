package inference

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/nvr-ai/go-frcnn/images"
	"github.com/nvr-ai/go-frcnn/models/fastrcnn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

func TestOutputNames(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, []string{"cls_prob", "bbox_pred"}, cfg.outputNames())

	cfg.UseRawScores = true
	cfg.FeatureOutput = "fc7"
	assert.Equal(t, []string{"cls_score", "bbox_pred", "fc7"}, cfg.outputNames())

	cfg.BBoxReg = false
	assert.Equal(t, []string{"cls_score", "fc7"}, cfg.outputNames())
}

func TestRoITable(t *testing.T) {
	rois := []fastrcnn.RoI{
		{Level: 0, Box: images.Box{X1: 1, Y1: 2, X2: 3, Y2: 4}},
		{Level: 2, Box: images.Box{X1: 5.5, Y1: 6, X2: 7, Y2: 8}},
	}
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 2, 5.5, 6, 7, 8}, roiTable(rois))
}

func TestToMatrix(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6}
	m, err := toMatrix(ort.NewShape(2, 3, 1, 1), data)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Rows)
	assert.Equal(t, 3, m.Cols)
	assert.Equal(t, float32(6), m.At(1, 2))

	data[0] = 100
	assert.Equal(t, float32(1), m.At(0, 0), "output data is copied")

	_, err = toMatrix(ort.NewShape(4, 2), data)
	assert.ErrorIs(t, err, fastrcnn.ErrShapeMismatch)

	_, err = toMatrix(ort.Shape{}, nil)
	assert.ErrorIs(t, err, fastrcnn.ErrShapeMismatch)
}

func TestToShape(t *testing.T) {
	assert.Equal(t, ort.NewShape(2, 3, 600, 800), toShape(tensor.Shape{2, 3, 600, 800}))
}

func TestSharedLibPath(t *testing.T) {
	path, err := SharedLibPath("third_party")
	if runtime.GOOS == "windows" && runtime.GOARCH != "amd64" {
		assert.Error(t, err)
		return
	}
	if runtime.GOOS != "windows" && runtime.GOOS != "darwin" && runtime.GOOS != "linux" {
		assert.Error(t, err)
		return
	}
	require.NoError(t, err)
	assert.Equal(t, "third_party", filepath.Dir(path))
}

func TestInitEnvironmentMissingLibrary(t *testing.T) {
	err := initEnvironment(filepath.Join(t.TempDir(), "missing.so"))
	assert.Error(t, err)
}
