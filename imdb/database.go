package imdb

import (
	"context"

	"github.com/nvr-ai/go-frcnn/evaluation"
	"github.com/nvr-ai/go-frcnn/models/postprocess"
	"github.com/pkg/errors"
)

// Database is the image database a test run reads from.
type Database interface {
	// Name identifies the database, for example "voc_2007_test".
	Name() string
	// NumImages returns the number of images.
	NumImages() int
	// Classes returns the class set, background first.
	Classes() *ClassSet
	// ImagePathAt returns the path of image i.
	ImagePathAt(i int) string
	// Record returns ground truth and proposals of image i.
	Record(i int) Record
	// EvaluateDetections runs the database's own evaluation protocol on a
	// classes x images table and writes its results under outputDir.
	EvaluateDetections(ctx context.Context, table *postprocess.Table, outputDir string, overlap float64) error
}

// NumClasses returns the number of classes of db including background.
func NumClasses(db Database) int {
	return db.Classes().Len()
}

// flipped doubles a database with the horizontal mirror of every image.
type flipped struct {
	Database
}

// WithFlipped returns a database of 2N images where image i+N is the mirror
// of image i. Evaluation is delegated to the underlying database and expects
// an N-image table.
func WithFlipped(db Database) Database {
	return flipped{Database: db}
}

func (f flipped) Name() string { return f.Database.Name() + "_flipped" }

func (f flipped) NumImages() int { return 2 * f.Database.NumImages() }

func (f flipped) base(i int) int { return i % f.Database.NumImages() }

func (f flipped) ImagePathAt(i int) string { return f.Database.ImagePathAt(f.base(i)) }

func (f flipped) Record(i int) Record {
	r := f.Database.Record(f.base(i))
	if i >= f.Database.NumImages() {
		return r.Flip()
	}
	return r
}

// GroundTruth collects the ground truth of every image of db.
func GroundTruth(db Database) []evaluation.GroundTruth {
	out := make([]evaluation.GroundTruth, db.NumImages())
	for i := range out {
		out[i] = db.Record(i).GroundTruth()
	}
	return out
}

// Widths returns the width of every image of db.
func Widths(db Database) []int {
	out := make([]int, db.NumImages())
	for i := range out {
		out[i] = db.Record(i).Width
	}
	return out
}

func checkTable(db Database, table *postprocess.Table) error {
	if table.NumImages() != db.NumImages() || table.NumClasses() != NumClasses(db) {
		return errors.Wrapf(postprocess.ErrDimensionMismatch, "table %dx%d for database %s with %d classes and %d images",
			table.NumClasses(), table.NumImages(), db.Name(), NumClasses(db), db.NumImages())
	}
	return nil
}
