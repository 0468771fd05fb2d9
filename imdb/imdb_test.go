package imdb

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-frcnn/images"
	"github.com/nvr-ai/go-frcnn/models/postprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const manifest = `{
  "name": "toy",
  "classes": ["cat", "dog"],
  "images": [
    {
      "id": "a",
      "path": "a.png",
      "width": 100,
      "height": 80,
      "objects": [{"class": "dog", "box": [10, 10, 30, 30]}],
      "proposals": [[0, 0, 20, 20], [5, 5, 40, 40]]
    },
    {
      "path": "b.png",
      "objects": [{"class": "cat", "box": [1, 2, 3, 4]}]
    }
  ]
}`

func writeManifest(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	f, err := os.Create(filepath.Join(dir, "b.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 64, 48))))
	require.NoError(t, f.Close())

	path := filepath.Join(dir, "toy.json")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))
	return path
}

func TestClassSet(t *testing.T) {
	voc := VOCClasses()
	assert.Equal(t, 21, voc.Len())

	idx, err := voc.Index("dog")
	require.NoError(t, err)
	assert.Equal(t, 12, idx)

	name, err := voc.Name(0)
	require.NoError(t, err)
	assert.Equal(t, Background, name)

	_, err = voc.Index("unicorn")
	assert.Error(t, err)
	_, err = voc.Name(21)
	assert.Error(t, err)
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t)
	db, err := LoadManifest(path)
	require.NoError(t, err)

	assert.Equal(t, "toy", db.Name())
	assert.Equal(t, 2, db.NumImages())
	assert.Equal(t, 3, NumClasses(db))
	assert.Equal(t, filepath.Join(filepath.Dir(path), "a.png"), db.ImagePathAt(0))

	a := db.Record(0)
	assert.Equal(t, []int{2, 0, 0}, a.Classes)
	assert.Equal(t, []bool{false, true, true}, a.Eligible())
	assert.Len(t, a.Proposals(), 3)

	gt := a.GroundTruth()
	assert.Equal(t, []int{2}, gt.Classes)
	assert.Equal(t, []images.Box{{X1: 10, Y1: 10, X2: 30, Y2: 30}}, gt.Boxes)

	b := db.Record(1)
	assert.Equal(t, "b", b.ID)
	assert.Equal(t, 64, b.Width, "size read from the image header")
	assert.Equal(t, 48, b.Height)
}

func TestLoadManifestUnknownClass(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"images":[{"path":"x.png","width":1,"height":1,"objects":[{"class":"unicorn","box":[0,0,1,1]}]}]}`), 0o644))

	_, err := LoadManifest(path)
	assert.Error(t, err)
}

func TestRecordFlip(t *testing.T) {
	r := Record{
		Width:   100,
		Height:  50,
		Boxes:   []images.Box{{X1: 10, Y1: 5, X2: 20, Y2: 15}},
		Classes: []int{3},
	}
	f := r.Flip()

	assert.True(t, f.Flipped)
	assert.Equal(t, images.Box{X1: 79, Y1: 5, X2: 89, Y2: 15}, f.Boxes[0])
	assert.Equal(t, images.Box{X1: 10, Y1: 5, X2: 20, Y2: 15}, r.Boxes[0], "original record untouched")
}

func TestWithFlipped(t *testing.T) {
	base := NewDatabase("toy", NewClassSet("cat"), []Record{
		{ID: "a", Path: "a.png", Width: 10, Height: 10, Boxes: []images.Box{{X1: 0, X2: 2, Y2: 2}}, Classes: []int{0}},
		{ID: "b", Path: "b.png", Width: 20, Height: 10},
	})
	db := WithFlipped(base)

	assert.Equal(t, 4, db.NumImages())
	assert.Equal(t, "b.png", db.ImagePathAt(3))
	assert.False(t, db.Record(0).Flipped)
	assert.True(t, db.Record(2).Flipped)
	assert.Equal(t, images.Box{X1: 7, X2: 9, Y2: 2}, db.Record(2).Boxes[0])
	assert.Equal(t, []int{10, 20, 10, 20}, Widths(db))
}

func TestEvaluateDetections(t *testing.T) {
	db := NewDatabase("toy", NewClassSet("cat", "dog"), []Record{
		{ID: "a", Width: 100, Height: 100, Boxes: []images.Box{{X1: 10, Y1: 10, X2: 29, Y2: 29}}, Classes: []int{2}},
		{ID: "b", Width: 100, Height: 100},
	})
	table := postprocess.NewTable(3, 2)
	table.Set(2, 0, []postprocess.Detection{{Box: images.Box{X1: 10, Y1: 10, X2: 29, Y2: 29}, Score: 0.75}})
	table.Set(1, 1, []postprocess.Detection{{Box: images.Box{X1: 0, Y1: 0, X2: 9, Y2: 9}, Score: 0.5}})

	out := t.TempDir()
	require.NoError(t, db.EvaluateDetections(context.Background(), table, out, 0.5))

	dog, err := os.ReadFile(VOCResultsPath(out, "toy", "dog"))
	require.NoError(t, err)
	assert.Equal(t, "a 0.750 11.0 11.0 30.0 30.0\n", string(dog))

	cat, err := os.ReadFile(VOCResultsPath(out, "toy", "cat"))
	require.NoError(t, err)
	assert.Equal(t, "b 0.500 1.0 1.0 10.0 10.0\n", string(cat))

	raw, err := os.ReadFile(filepath.Join(out, "summary.yaml"))
	require.NoError(t, err)
	var s Summary
	require.NoError(t, yaml.Unmarshal(raw, &s))
	require.Len(t, s.Classes, 2)
	assert.Nil(t, s.Classes[0].CorLoc, "no cat instances")
	require.NotNil(t, s.Classes[1].CorLoc)
	assert.InDelta(t, 1.0, *s.Classes[1].CorLoc, 1e-12)
	require.NotNil(t, s.Mean)
	assert.InDelta(t, 1.0, *s.Mean, 1e-12)
}

func TestEvaluateDetectionsDimensionMismatch(t *testing.T) {
	db := NewDatabase("toy", NewClassSet("cat"), []Record{{ID: "a"}})
	err := db.EvaluateDetections(context.Background(), postprocess.NewTable(2, 3), t.TempDir(), 0.5)
	assert.ErrorIs(t, err, postprocess.ErrDimensionMismatch)
}
