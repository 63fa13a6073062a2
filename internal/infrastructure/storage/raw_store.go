package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"StatVid/internal/domain"
	"StatVid/internal/ports"
)

var rawColumns = []column{
	{Name: "entity_id", Type: "VARCHAR"},
	{Name: "observed_at", Type: "TIMESTAMP"},
	{Name: "published_at", Type: "TIMESTAMP"},
	{Name: "raw_payload", Type: "VARCHAR"},
	{Name: "capture_run_id", Type: "VARCHAR"},
	{Name: "query", Type: "VARCHAR"},
}

// RawStore is the append-only bronze layer: one parquet part file per appended batch,
// partitioned by capture date and run.
type RawStore struct {
	dir string
	seq atomic.Int64
}

var _ ports.RawRecordStore = (*RawStore)(nil)

// NewRawStore roots the bronze layer inside the lake.
func NewRawStore(lake Lake) *RawStore {
	return &RawStore{dir: lake.Bronze()}
}

// Append writes records as a new part file. Existing files are never touched.
func (s *RawStore) Append(ctx context.Context, records []domain.RawRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	runID := records[0].CaptureRunID
	if runID == "" {
		return "", fmt.Errorf("append: capture run id is required")
	}

	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		if rec.CaptureRunID != runID {
			return "", fmt.Errorf("append: batch mixes capture runs %s and %s", runID, rec.CaptureRunID)
		}
		var published any
		if rec.PublishedAt != nil {
			published = rec.PublishedAt.UTC()
		}
		rows = append(rows, []any{rec.EntityID, rec.ObservedAt.UTC(), published, rec.RawPayload, rec.CaptureRunID, rec.Query})
	}

	partition := filepath.Join(s.dir,
		"capture_date="+records[0].ObservedAt.UTC().Format("2006-01-02"),
		"run_id="+runID)
	name := fmt.Sprintf("part-%05d-%s.parquet", s.seq.Add(1), uuid.NewString()[:8])
	dest := filepath.Join(partition, name)

	if err := writeParquet(ctx, dest, rawColumns, "entity_id, observed_at", rows, true); err != nil {
		return "", fmt.Errorf("append raw records: %w", err)
	}
	return dest, nil
}

// Load reads every raw record observed at or after since (zero since reads everything).
func (s *RawStore) Load(ctx context.Context, since time.Time) ([]domain.RawRecord, error) {
	files, err := listParquet(s.dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	db, err := openEngine(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	source := parquetSource(files)
	if err := validateColumns(ctx, db, source, rawColumns, domain.StageTransforming); err != nil {
		return nil, err
	}

	query := sq.Select(selectColumns(rawColumns)...).From(source).
		OrderBy("entity_id", "observed_at", "capture_run_id")
	if !since.IsZero() {
		query = query.Where(sq.GtOrEq{"observed_at": since.UTC()})
	}
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build raw query: %w", err)
	}

	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query raw records: %w", err)
	}
	defer rows.Close()

	var out []domain.RawRecord
	for rows.Next() {
		var (
			rec       domain.RawRecord
			published sql.NullTime
			runQuery  sql.NullString
		)
		if err := rows.Scan(&rec.EntityID, &rec.ObservedAt, &published, &rec.RawPayload, &rec.CaptureRunID, &runQuery); err != nil {
			return nil, fmt.Errorf("scan raw record: %w", err)
		}
		rec.ObservedAt = rec.ObservedAt.UTC()
		if published.Valid {
			p := published.Time.UTC()
			rec.PublishedAt = &p
		}
		rec.Query = runQuery.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// Files lists the part files currently in the store.
func (s *RawStore) Files() ([]string, error) {
	return listParquet(s.dir)
}
