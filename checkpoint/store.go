// Package checkpoint - Durable detection tables for resuming test runs.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/nvr-ai/go-frcnn/images"
	"github.com/nvr-ai/go-frcnn/models/postprocess"
	"github.com/pkg/errors"
)

// Key identifies a checkpoint: the model iteration and whether the run
// scored flipped images.
type Key struct {
	Iteration string
	Flipped   bool
}

// KeyFromModelPath derives a Key from a model file name. The iteration is the
// last underscore-separated token of the file stem, so
// "vgg16_fast_rcnn_iter_40000.onnx" yields "40000".
func KeyFromModelPath(path string, flipped bool) Key {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	tokens := strings.Split(base, "_")
	return Key{Iteration: tokens[len(tokens)-1], Flipped: flipped}
}

func (k Key) String() string {
	flip := ""
	if k.Flipped {
		flip = "flip"
	}
	return "detections" + flip + k.Iteration
}

// Status tells whether a checkpoint could be used.
type Status int

const (
	// Miss means the run has to be scored from scratch.
	Miss Status = iota
	// Hit means Result carries a usable table.
	Hit
)

func (s Status) String() string {
	if s == Hit {
		return "hit"
	}
	return "miss"
}

// Result is the outcome of a checkpoint lookup. A miss is an expected
// outcome, not an error; Reason says why the checkpoint was not used.
type Result struct {
	Status   Status
	Table    *postprocess.Table
	Features [][]float32
	Reason   string
}

// Hit reports whether the lookup produced a table.
func (r Result) Hit() bool {
	return r.Status == Hit
}

func miss(format string, args ...any) Result {
	return Result{Status: Miss, Reason: fmt.Sprintf(format, args...)}
}

// Disabled is the result of a run that was told not to reuse checkpoints.
func Disabled() Result {
	return miss("reuse disabled")
}

// Store persists detection tables and feature dumps in SQLite.
type Store struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// Open opens or creates the checkpoint database at path.
//
// Arguments:
//   - path: The SQLite file path.
//
// Returns:
//   - *Store: The store.
//   - error: If the database cannot be opened or migrated.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint database")
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to migrate checkpoint database")
	}
	return s, nil
}

// migrate creates the necessary tables if they don't exist.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		key TEXT PRIMARY KEY,
		num_classes INTEGER NOT NULL,
		num_images INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS detections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_key TEXT NOT NULL,
		class INTEGER NOT NULL,
		image INTEGER NOT NULL,
		x1 REAL NOT NULL,
		y1 REAL NOT NULL,
		x2 REAL NOT NULL,
		y2 REAL NOT NULL,
		score REAL NOT NULL,
		FOREIGN KEY (run_key) REFERENCES runs(key) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS features (
		run_key TEXT NOT NULL,
		image INTEGER NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (run_key, image),
		FOREIGN KEY (run_key) REFERENCES runs(key) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_detections_run_key ON detections(run_key);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Save replaces the checkpoint stored under key.
//
// Arguments:
//   - ctx: Context for the database transaction.
//   - key: The checkpoint key.
//   - table: The thresholded detection table.
//   - features: Optional per-image feature vectors, ordered by image index.
//
// Returns:
//   - error: Any database error. Nothing is written on failure.
func (s *Store) Save(ctx context.Context, key Key, table *postprocess.Table, features [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin checkpoint transaction")
	}
	defer tx.Rollback()

	k := key.String()
	for _, q := range []string{
		`DELETE FROM detections WHERE run_key = ?`,
		`DELETE FROM features WHERE run_key = ?`,
		`DELETE FROM runs WHERE key = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, k); err != nil {
			return errors.Wrap(err, "clear previous checkpoint")
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (key, num_classes, num_images) VALUES (?, ?, ?)`,
		k, table.NumClasses(), table.NumImages(),
	); err != nil {
		return errors.Wrap(err, "insert run")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO detections (run_key, class, image, x1, y1, x2, y2, score) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare detection insert")
	}
	defer stmt.Close()

	for class := 0; class < table.NumClasses(); class++ {
		for image := 0; image < table.NumImages(); image++ {
			for _, d := range table.At(class, image) {
				if _, err := stmt.ExecContext(ctx, k, class, image,
					d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2, float64(d.Score)); err != nil {
					return errors.Wrap(err, "insert detection")
				}
			}
		}
	}

	for image, f := range features {
		if f == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO features (run_key, image, data) VALUES (?, ?, ?)`,
			k, image, encodeFeatures(f),
		); err != nil {
			return errors.Wrap(err, "insert features")
		}
	}

	return errors.Wrap(tx.Commit(), "commit checkpoint")
}

// Load looks up the checkpoint stored under key. Absence, a table of other
// dimensions and read failures all yield a Miss.
//
// Arguments:
//   - ctx: Context for the queries.
//   - key: The checkpoint key.
//   - numClasses: The expected number of classes.
//   - numImages: The expected number of images.
//
// Returns:
//   - Result: A Hit with the table and features, or a Miss with a reason.
func (s *Store) Load(ctx context.Context, key Key, numClasses, numImages int) Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := key.String()
	var classes, imgs int
	err := s.conn.QueryRowContext(ctx,
		`SELECT num_classes, num_images FROM runs WHERE key = ?`, k,
	).Scan(&classes, &imgs)
	if errors.Is(err, sql.ErrNoRows) {
		return miss("no checkpoint %s", k)
	}
	if err != nil {
		return miss("read checkpoint %s: %v", k, err)
	}
	if classes != numClasses || imgs != numImages {
		return miss("checkpoint %s is %dx%d, want %dx%d", k, classes, imgs, numClasses, numImages)
	}

	table, err := s.loadTable(ctx, k, classes, imgs)
	if err != nil {
		return miss("read detections of %s: %v", k, err)
	}
	features, err := s.loadFeatures(ctx, k, imgs)
	if err != nil {
		return miss("read features of %s: %v", k, err)
	}
	return Result{Status: Hit, Table: table, Features: features}
}

func (s *Store) loadTable(ctx context.Context, key string, classes, imgs int) (*postprocess.Table, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT class, image, x1, y1, x2, y2, score FROM detections WHERE run_key = ? ORDER BY id`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	table := postprocess.NewTable(classes, imgs)
	for rows.Next() {
		var (
			class, image int
			b            images.Box
			score        float64
		)
		if err := rows.Scan(&class, &image, &b.X1, &b.Y1, &b.X2, &b.Y2, &score); err != nil {
			return nil, err
		}
		if class < 0 || class >= classes || image < 0 || image >= imgs {
			return nil, errors.Errorf("detection cell (%d, %d) outside table", class, image)
		}
		table.Append(class, image, postprocess.Detection{Box: b, Score: float32(score)})
	}
	return table, rows.Err()
}

func (s *Store) loadFeatures(ctx context.Context, key string, imgs int) ([][]float32, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT image, data FROM features WHERE run_key = ? ORDER BY image`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var features [][]float32
	for rows.Next() {
		var (
			image int
			data  []byte
		)
		if err := rows.Scan(&image, &data); err != nil {
			return nil, err
		}
		if image < 0 || image >= imgs {
			return nil, errors.Errorf("feature row for image %d outside %d images", image, imgs)
		}
		if features == nil {
			features = make([][]float32, imgs)
		}
		features[image], err = decodeFeatures(data)
		if err != nil {
			return nil, err
		}
	}
	return features, rows.Err()
}

func encodeFeatures(f []float32) []byte {
	out := make([]byte, 4*len(f))
	for i, v := range f {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func decodeFeatures(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, errors.Errorf("feature blob of %d bytes", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return out, nil
}
