package imdb

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/nvr-ai/go-frcnn/evaluation"
	"github.com/nvr-ai/go-frcnn/models/postprocess"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// VOCResultsPath returns the comp4 results file of one class.
func VOCResultsPath(outputDir, dbName, class string) string {
	return filepath.Join(outputDir, "results", fmt.Sprintf("comp4_det_%s_%s.txt", dbName, class))
}

// WriteVOCResults writes one comp4 file per foreground class. Each line holds
// the image id, the score and the box with one-based coordinates.
//
// Arguments:
//   - db: The database the table was produced on.
//   - table: A classes x images table.
//   - outputDir: Directory under which results/ is created.
//
// Returns:
//   - []string: The written file paths, in class order.
//   - error: IO errors.
func WriteVOCResults(db Database, table *postprocess.Table, outputDir string) ([]string, error) {
	if err := checkTable(db, table); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(outputDir, "results"), 0o755); err != nil {
		return nil, errors.Wrap(err, "create results directory")
	}

	names := db.Classes().Names
	paths := make([]string, 0, len(names)-1)
	for class := 1; class < len(names); class++ {
		path := VOCResultsPath(outputDir, db.Name(), names[class])
		if err := writeClassResults(path, db, table, class); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeClassResults(path string, db Database, table *postprocess.Table, class int) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create results file")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for image := 0; image < table.NumImages(); image++ {
		id := db.Record(image).ID
		for _, d := range table.At(class, image) {
			b := d.Box
			if _, err := fmt.Fprintf(w, "%s %.3f %.1f %.1f %.1f %.1f\n",
				id, d.Score, b.X1+1, b.Y1+1, b.X2+1, b.Y2+1); err != nil {
				return errors.Wrapf(err, "write %s", path)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "flush %s", path)
	}
	return nil
}

// ClassSummary is the per-class section of a summary file.
type ClassSummary struct {
	Class      string   `yaml:"class"`
	Detections int      `yaml:"detections"`
	Positives  int      `yaml:"positives"`
	Instances  int      `yaml:"instances"`
	CorLoc     *float64 `yaml:"corloc,omitempty"`
}

// Summary is the content of summary.yaml.
type Summary struct {
	Database string         `yaml:"database"`
	Overlap  float64        `yaml:"overlap"`
	Variant  string         `yaml:"variant"`
	Mean     *float64       `yaml:"mean_corloc,omitempty"`
	Classes  []ClassSummary `yaml:"classes"`
}

// Summarize scores table with per-instance CorLoc at overlap.
func Summarize(ctx context.Context, db Database, table *postprocess.Table, overlap float64) (*Summary, error) {
	report, err := evaluation.CorLoc(ctx, table, GroundTruth(db), overlap, evaluation.VariantPerInstance)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		Database: db.Name(),
		Overlap:  overlap,
		Variant:  string(report.Variant),
		Mean:     finite(report.Mean),
	}
	names := db.Classes().Names
	for class := 1; class < len(names); class++ {
		s.Classes = append(s.Classes, ClassSummary{
			Class:      names[class],
			Detections: table.ClassLen(class),
			Positives:  report.Positives[class],
			Instances:  report.Totals[class],
			CorLoc:     finite(report.PerClass[class]),
		})
	}
	return s, nil
}

// WriteSummary writes outputDir/summary.yaml.
func WriteSummary(ctx context.Context, db Database, table *postprocess.Table, outputDir string, overlap float64) error {
	s, err := Summarize(ctx, db, table, overlap)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode summary")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return errors.Wrap(err, "create output directory")
	}
	return errors.Wrap(os.WriteFile(filepath.Join(outputDir, "summary.yaml"), data, 0o644), "write summary")
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
