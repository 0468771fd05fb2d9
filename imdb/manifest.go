package imdb

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/nvr-ai/go-frcnn/images"
	"github.com/nvr-ai/go-frcnn/models/postprocess"
	"github.com/pkg/errors"
)

type manifestFile struct {
	Name    string          `json:"name"`
	Classes []string        `json:"classes"`
	Images  []manifestImage `json:"images"`
}

type manifestImage struct {
	ID        string           `json:"id"`
	Path      string           `json:"path"`
	Width     int              `json:"width"`
	Height    int              `json:"height"`
	Objects   []manifestObject `json:"objects"`
	Proposals [][4]float64     `json:"proposals"`
}

type manifestObject struct {
	Class string     `json:"class"`
	Box   [4]float64 `json:"box"`
}

// ManifestDatabase is a Database described by a JSON manifest.
//
// A manifest lists the class labels and, per image, its path, size,
// annotated objects and proposal boxes:
//
//	{
//	  "name": "voc_2007_test",
//	  "classes": ["aeroplane", "bicycle", ...],
//	  "images": [{
//	    "id": "000001",
//	    "path": "JPEGImages/000001.jpg",
//	    "width": 353, "height": 500,
//	    "objects": [{"class": "dog", "box": [47, 239, 194, 370]}],
//	    "proposals": [[10, 12, 200, 310], ...]
//	  }]
//	}
//
// Relative image paths are resolved against the manifest directory. A
// missing width or height is read from the image header.
type ManifestDatabase struct {
	name    string
	classes *ClassSet
	records []Record
}

// LoadManifest reads a manifest database.
//
// Arguments:
//   - path: Path to the JSON manifest.
//
// Returns:
//   - *ManifestDatabase: The database.
//   - error: IO, JSON and unknown-class errors.
func LoadManifest(path string) (*ManifestDatabase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}

	var m manifestFile
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "parse manifest %s", path)
	}
	if m.Name == "" {
		m.Name = stem(path)
	}

	classes := VOCClasses()
	if len(m.Classes) > 0 {
		classes = NewClassSet(m.Classes...)
	}

	root := filepath.Dir(path)
	records := make([]Record, len(m.Images))
	for i, img := range m.Images {
		r, err := img.record(root, classes)
		if err != nil {
			return nil, errors.Wrapf(err, "image %d of %s", i, path)
		}
		records[i] = r
	}

	return &ManifestDatabase{name: m.Name, classes: classes, records: records}, nil
}

func (img manifestImage) record(root string, classes *ClassSet) (Record, error) {
	p := img.Path
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	id := img.ID
	if id == "" {
		id = stem(p)
	}

	r := Record{ID: id, Path: p, Width: img.Width, Height: img.Height}
	if r.Width <= 0 || r.Height <= 0 {
		w, h, err := images.ReadSize(p)
		if err != nil {
			return Record{}, err
		}
		r.Width, r.Height = w, h
	}

	for _, o := range img.Objects {
		c, err := classes.Index(o.Class)
		if err != nil {
			return Record{}, err
		}
		if c == 0 {
			return Record{}, errors.Errorf("object labelled %s", Background)
		}
		r.Boxes = append(r.Boxes, boxFrom(o.Box))
		r.Classes = append(r.Classes, c)
	}
	for _, b := range img.Proposals {
		r.Boxes = append(r.Boxes, boxFrom(b))
		r.Classes = append(r.Classes, 0)
	}
	return r, nil
}

func boxFrom(v [4]float64) images.Box {
	return images.Box{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}
}

func stem(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// NewDatabase builds an in-memory database from records.
func NewDatabase(name string, classes *ClassSet, records []Record) *ManifestDatabase {
	return &ManifestDatabase{name: name, classes: classes, records: records}
}

// Name implements Database.
func (d *ManifestDatabase) Name() string { return d.name }

// NumImages implements Database.
func (d *ManifestDatabase) NumImages() int { return len(d.records) }

// Classes implements Database.
func (d *ManifestDatabase) Classes() *ClassSet { return d.classes }

// ImagePathAt implements Database.
func (d *ManifestDatabase) ImagePathAt(i int) string { return d.records[i].Path }

// Record implements Database.
func (d *ManifestDatabase) Record(i int) Record { return d.records[i] }

// EvaluateDetections writes VOC comp4 result files for every foreground class
// and a per-instance CorLoc summary at the given overlap.
func (d *ManifestDatabase) EvaluateDetections(ctx context.Context, table *postprocess.Table, outputDir string, overlap float64) error {
	if err := checkTable(d, table); err != nil {
		return err
	}
	if _, err := WriteVOCResults(d, table, outputDir); err != nil {
		return err
	}
	return WriteSummary(ctx, d, table, outputDir, overlap)
}
