package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"

	"StatVid/internal/domain"
)

const insertChunk = 256

// column is one typed column of a parquet layer.
type column struct {
	Name string
	Type string
}

func columnNames(cols []column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// openEngine starts an in-memory DuckDB used purely as a parquet reader/writer.
// A single thread keeps parquet output byte-stable across runs.
func openEngine(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "SET threads = 1"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure duckdb: %w", err)
	}
	return db, nil
}

// writeParquet loads rows into a scratch table and copies them to dest ordered by orderBy.
// The file is first written next to dest and then published, so readers never see partial output.
func writeParquet(ctx context.Context, dest string, cols []column, orderBy string, rows [][]any, exclusive bool) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	db, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = fmt.Sprintf("%s %s", c.Name, c.Type)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE layer (%s)", strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("create scratch table: %w", err)
	}

	names := columnNames(cols)
	for start := 0; start < len(rows); start += insertChunk {
		end := min(start+insertChunk, len(rows))
		ins := sq.Insert("layer").Columns(names...)
		for _, row := range rows[start:end] {
			ins = ins.Values(row...)
		}
		query, args, err := ins.ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert rows: %w", err)
		}
	}

	tmp := fmt.Sprintf("%s.tmp-%s", dest, uuid.NewString())
	copyStmt := fmt.Sprintf("COPY (SELECT * FROM layer ORDER BY %s) TO %s (FORMAT PARQUET, COMPRESSION 'ZSTD')",
		orderBy, quoteLiteral(tmp))
	if _, err := db.ExecContext(ctx, copyStmt); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("copy to parquet: %w", err)
	}

	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return publish(tmp, dest, exclusive)
}

// publish moves tmp into place. Exclusive publishes refuse to replace an existing file.
func publish(tmp, dest string, exclusive bool) error {
	if !exclusive {
		if err := os.Rename(tmp, dest); err != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("publish %s: %w", dest, err)
		}
		return nil
	}

	err := os.Link(tmp, dest)
	_ = os.Remove(tmp)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("publish %s: refusing to overwrite existing file", dest)
		}
		return fmt.Errorf("publish %s: %w", dest, err)
	}
	return nil
}

// parquetSource renders a read_parquet table function over an explicit file list.
func parquetSource(files []string) string {
	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = quoteLiteral(f)
	}
	return fmt.Sprintf("read_parquet([%s], union_by_name = true, hive_partitioning = false)", strings.Join(quoted, ", "))
}

// selectColumns casts each wanted column to its layer type.
func selectColumns(cols []column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = fmt.Sprintf("CAST(%s AS %s) AS %s", c.Name, c.Type, c.Name)
	}
	return out
}

// validateColumns checks that source exposes every wanted column with a coercible type.
func validateColumns(ctx context.Context, db *sql.DB, source string, want []column, stage domain.Stage) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 0", source))
	if err != nil {
		return fmt.Errorf("describe %s: %w", source, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return fmt.Errorf("column types: %w", err)
	}
	have := make(map[string]string, len(types))
	for _, ct := range types {
		have[ct.Name()] = strings.ToUpper(ct.DatabaseTypeName())
	}

	var missing, mistyped []string
	for _, c := range want {
		got, ok := have[c.Name]
		switch {
		case !ok:
			missing = append(missing, c.Name)
		case !coercible(got, c.Type):
			mistyped = append(mistyped, fmt.Sprintf("%s (%s, want %s)", c.Name, got, c.Type))
		}
	}
	if len(missing) == 0 && len(mistyped) == 0 {
		return nil
	}

	var reasons []string
	if len(missing) > 0 {
		reasons = append(reasons, "missing")
	}
	if len(mistyped) > 0 {
		reasons = append(reasons, "type not coercible")
	}
	return &domain.SchemaValidationError{
		Stage:   stage,
		Columns: append(missing, mistyped...),
		Reason:  strings.Join(reasons, " / "),
	}
}

func typeFamily(t string) string {
	t = strings.ToUpper(t)
	switch {
	case t == "VARCHAR" || t == "TEXT" || t == "STRING":
		return "text"
	case strings.HasPrefix(t, "TIMESTAMP") || t == "DATE":
		return "time"
	case t == "BOOLEAN":
		return "bool"
	case strings.Contains(t, "INT") || t == "DOUBLE" || t == "FLOAT" || t == "REAL" || strings.HasPrefix(t, "DECIMAL"):
		return "number"
	}
	return t
}

func coercible(got, want string) bool {
	return typeFamily(got) == typeFamily(want)
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// listParquet returns every parquet file below dir in lexical order; a missing dir yields none.
func listParquet(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".parquet") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func float64Ptr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
