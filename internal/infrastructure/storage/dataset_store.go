package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"

	"StatVid/internal/dataset"
	"StatVid/internal/domain"
	"StatVid/internal/ports"
)

const (
	trainFile     = "train.parquet"
	evalFile      = "eval.parquet"
	schemaFile    = "schema.json"
	buildPrefix   = "build-"
	stagingPrefix = ".staging-"
)

// DatasetStore is the gold layer. Each build lives in its own build-<digest>
// directory and schema.json names the current one, so publishing a dataset is
// a single rename of schema.json.
type DatasetStore struct {
	dir string
}

var _ ports.DatasetStore = (*DatasetStore)(nil)

// NewDatasetStore roots the gold layer inside the lake.
func NewDatasetStore(lake Lake) *DatasetStore {
	return &DatasetStore{dir: lake.Gold()}
}

// goldManifest is schema.json: the dataset description plus the build it points at.
type goldManifest struct {
	dataset.Meta
	Build string `json:"build"`
}

func (s *DatasetStore) schemaPath() string { return filepath.Join(s.dir, schemaFile) }

func (s *DatasetStore) buildDir(build string) string {
	return filepath.Join(s.dir, buildPrefix+build)
}

func datasetColumns(schema domain.FeatureSchema) []column {
	cols := []column{{Name: "entity_id", Type: "VARCHAR"}}
	for _, f := range schema {
		cols = append(cols, column{Name: f.Name, Type: "DOUBLE"})
	}
	return append(cols, column{Name: dataset.TargetColumn, Type: "DOUBLE"})
}

// Replace stages both partitions, moves them into a build directory named by
// their content digest and then publishes schema.json. A failure before the
// last step leaves the previous dataset readable.
func (s *DatasetStore) Replace(ctx context.Context, ds dataset.Dataset) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create gold dir: %w", err)
	}
	staging, err := os.MkdirTemp(s.dir, stagingPrefix+"*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	cols := datasetColumns(ds.Meta.Schema)
	trainTmp := filepath.Join(staging, trainFile)
	evalTmp := filepath.Join(staging, evalFile)
	if err := writeParquet(ctx, trainTmp, cols, "entity_id", partitionRows(ds.Train), false); err != nil {
		return fmt.Errorf("write train partition: %w", err)
	}
	if err := writeParquet(ctx, evalTmp, cols, "entity_id", partitionRows(ds.Eval), false); err != nil {
		return fmt.Errorf("write eval partition: %w", err)
	}

	build, err := digestFiles(trainTmp, evalTmp)
	if err != nil {
		return err
	}
	target := s.buildDir(build)
	switch _, err := os.Stat(target); {
	case errors.Is(err, os.ErrNotExist):
		if err := os.Rename(staging, target); err != nil {
			return fmt.Errorf("publish build %s: %w", build, err)
		}
	case err != nil:
		return fmt.Errorf("stat build %s: %w", build, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	manifest, err := json.MarshalIndent(goldManifest{Meta: ds.Meta, Build: build}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dataset schema: %w", err)
	}
	tmp := s.schemaPath() + ".tmp"
	if err := os.WriteFile(tmp, append(manifest, '\n'), 0o644); err != nil {
		return fmt.Errorf("write dataset schema: %w", err)
	}
	if err := publish(tmp, s.schemaPath(), false); err != nil {
		return err
	}

	s.prune(build)
	return nil
}

// digestFiles hashes the staged partitions; identical datasets get identical builds.
func digestFiles(paths ...string) (string, error) {
	h := xxhash.New()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return "", fmt.Errorf("digest %s: %w", filepath.Base(p), err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("digest %s: %w", filepath.Base(p), err)
		}
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// prune drops builds and staging dirs other than keep. Leftovers are harmless,
// so failures are ignored.
func (s *DatasetStore) prune(keep string) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || name == buildPrefix+keep {
			continue
		}
		if strings.HasPrefix(name, buildPrefix) || strings.HasPrefix(name, stagingPrefix) {
			_ = os.RemoveAll(filepath.Join(s.dir, name))
		}
	}
}

func partitionRows(p dataset.Partition) [][]any {
	rows := make([][]any, 0, p.Len())
	for i := range p.Y {
		row := make([]any, 0, len(p.X[i])+2)
		row = append(row, p.EntityIDs[i])
		for _, v := range p.X[i] {
			row = append(row, v)
		}
		rows = append(rows, append(row, p.Y[i]))
	}
	return rows
}

func (s *DatasetStore) current() (goldManifest, error) {
	raw, err := os.ReadFile(s.schemaPath())
	if err != nil {
		return goldManifest{}, fmt.Errorf("read dataset schema: %w", err)
	}
	var m goldManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return goldManifest{}, fmt.Errorf("decode dataset schema: %w", err)
	}
	if m.Build == "" {
		return goldManifest{}, fmt.Errorf("dataset schema names no build")
	}
	return m, nil
}

// Load reads the published build and verifies both partitions against schema.json:
// exact columns, recorded row counts and disjoint entities.
func (s *DatasetStore) Load(ctx context.Context) (dataset.Dataset, error) {
	m, err := s.current()
	if err != nil {
		return dataset.Dataset{}, err
	}
	dir := s.buildDir(m.Build)

	train, err := s.loadPartition(ctx, filepath.Join(dir, trainFile), m.Schema)
	if err != nil {
		return dataset.Dataset{}, fmt.Errorf("train partition: %w", err)
	}
	eval, err := s.loadPartition(ctx, filepath.Join(dir, evalFile), m.Schema)
	if err != nil {
		return dataset.Dataset{}, fmt.Errorf("eval partition: %w", err)
	}

	if train.Len() != m.TrainRows || eval.Len() != m.EvalRows {
		return dataset.Dataset{}, &domain.SchemaValidationError{
			Stage:   domain.StageTraining,
			Columns: []string{"entity_id"},
			Reason: fmt.Sprintf("partitions hold %d train and %d eval rows, schema.json records %d and %d",
				train.Len(), eval.Len(), m.TrainRows, m.EvalRows),
		}
	}
	ds := dataset.Dataset{Meta: m.Meta, Train: train, Eval: eval}
	if shared := ds.Overlap(); len(shared) > 0 {
		return dataset.Dataset{}, &domain.SchemaValidationError{
			Stage:   domain.StageTraining,
			Columns: []string{"entity_id"},
			Reason:  "entities in both partitions: " + strings.Join(shared, ", "),
		}
	}
	return ds, nil
}

func (s *DatasetStore) loadPartition(ctx context.Context, path string, schema domain.FeatureSchema) (dataset.Partition, error) {
	db, err := openEngine(ctx)
	if err != nil {
		return dataset.Partition{}, err
	}
	defer db.Close()

	source := parquetSource([]string{path})
	cols := datasetColumns(schema)
	if err := requireExactColumns(ctx, db, source, cols); err != nil {
		return dataset.Partition{}, err
	}

	stmt, args, err := sq.Select(selectColumns(cols)...).From(source).OrderBy("entity_id").ToSql()
	if err != nil {
		return dataset.Partition{}, fmt.Errorf("build partition query: %w", err)
	}
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return dataset.Partition{}, fmt.Errorf("query partition: %w", err)
	}
	defer rows.Close()

	var p dataset.Partition
	for rows.Next() {
		var (
			id string
			y  float64
		)
		x := make([]float64, len(schema))
		dest := make([]any, 0, len(cols))
		dest = append(dest, &id)
		for i := range x {
			dest = append(dest, &x[i])
		}
		dest = append(dest, &y)
		if err := rows.Scan(dest...); err != nil {
			return dataset.Partition{}, fmt.Errorf("scan partition row: %w", err)
		}
		p.EntityIDs = append(p.EntityIDs, id)
		p.X = append(p.X, x)
		p.Y = append(p.Y, y)
	}
	if err := rows.Err(); err != nil {
		return dataset.Partition{}, fmt.Errorf("rows iteration: %w", err)
	}
	return p, nil
}

// requireExactColumns demands the file carries exactly cols, in order.
func requireExactColumns(ctx context.Context, db *sql.DB, source string, cols []column) error {
	if err := validateColumns(ctx, db, source, cols, domain.StageTraining); err != nil {
		return err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 0", source))
	if err != nil {
		return fmt.Errorf("describe %s: %w", source, err)
	}
	defer rows.Close()

	have, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("columns: %w", err)
	}
	want := columnNames(cols)
	if strings.Join(have, ",") == strings.Join(want, ",") {
		return nil
	}

	expected := make(map[string]bool, len(want))
	for _, name := range want {
		expected[name] = true
	}
	var extra []string
	for _, name := range have {
		if !expected[name] {
			extra = append(extra, name)
		}
	}
	if len(extra) == 0 {
		return &domain.SchemaValidationError{Stage: domain.StageTraining, Columns: have, Reason: "column order differs from dataset schema"}
	}
	return &domain.SchemaValidationError{Stage: domain.StageTraining, Columns: extra, Reason: "column not in dataset schema"}
}
