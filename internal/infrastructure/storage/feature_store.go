package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"

	"StatVid/internal/domain"
	"StatVid/internal/ports"
)

var featureColumns = []column{
	{Name: "entity_id", Type: "VARCHAR"},
	{Name: "channel_id", Type: "VARCHAR"},
	{Name: "published_at", Type: "TIMESTAMP"},
	{Name: "observed_at", Type: "TIMESTAMP"},
	{Name: "first_observed_at", Type: "TIMESTAMP"},
	{Name: "observation_count", Type: "BIGINT"},
	{Name: "age_days", Type: "DOUBLE"},
	{Name: "duration_seconds", Type: "DOUBLE"},
	{Name: "category", Type: "VARCHAR"},
	{Name: "title_length", Type: "BIGINT"},
	{Name: "tag_count", Type: "BIGINT"},
	{Name: "publish_hour", Type: "BIGINT"},
	{Name: "publish_weekday", Type: "BIGINT"},
	{Name: "is_hd", Type: "BIGINT"},
	{Name: "has_captions", Type: "BIGINT"},
	{Name: "views", Type: "BIGINT"},
	{Name: "likes", Type: "BIGINT"},
	{Name: "comments", Type: "BIGINT"},
	{Name: "like_rate", Type: "DOUBLE"},
	{Name: "comment_rate", Type: "DOUBLE"},
	{Name: "views_per_day", Type: "DOUBLE"},
}

// FeatureStore is the silver layer: a single parquet table replaced on every transform.
type FeatureStore struct {
	path string
}

var _ ports.FeatureStore = (*FeatureStore)(nil)

// NewFeatureStore roots the silver table inside the lake.
func NewFeatureStore(lake Lake) *FeatureStore {
	return &FeatureStore{path: filepath.Join(lake.Silver(), "features.parquet")}
}

// Path returns the location of the feature table.
func (s *FeatureStore) Path() string {
	return s.path
}

// Replace atomically swaps the feature table for rows.
func (s *FeatureStore) Replace(ctx context.Context, rows []domain.FeatureRow) error {
	values := make([][]any, 0, len(rows))
	for _, r := range rows {
		values = append(values, []any{
			r.EntityID, r.ChannelID, r.PublishedAt.UTC(), r.ObservedAt.UTC(), r.FirstObservedAt.UTC(),
			r.ObservationCount, r.AgeDays, r.DurationSeconds, r.Category, r.TitleLength, r.TagCount,
			r.PublishHour, r.PublishWeekday, r.IsHD, r.HasCaptions, r.Views,
			nullableInt(r.Likes), nullableInt(r.Comments), nullableFloat(r.LikeRate), nullableFloat(r.CommentRate),
			r.ViewsPerDay,
		})
	}
	if err := writeParquet(ctx, s.path, featureColumns, "entity_id", values, false); err != nil {
		return fmt.Errorf("replace feature table: %w", err)
	}
	return nil
}

// Load reads and validates the feature table.
func (s *FeatureStore) Load(ctx context.Context) ([]domain.FeatureRow, error) {
	if _, err := os.Stat(s.path); err != nil {
		return nil, fmt.Errorf("feature table %s: %w", s.path, err)
	}

	db, err := openEngine(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	source := parquetSource([]string{s.path})
	if err := validateColumns(ctx, db, source, featureColumns, domain.StageBuilding); err != nil {
		return nil, err
	}

	stmt, args, err := sq.Select(selectColumns(featureColumns)...).From(source).OrderBy("entity_id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build feature query: %w", err)
	}
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query features: %w", err)
	}
	defer rows.Close()

	var out []domain.FeatureRow
	for rows.Next() {
		var (
			r                     domain.FeatureRow
			channel, category     sql.NullString
			likes, comments       sql.NullInt64
			likeRate, commentRate sql.NullFloat64
		)
		err := rows.Scan(&r.EntityID, &channel, &r.PublishedAt, &r.ObservedAt, &r.FirstObservedAt,
			&r.ObservationCount, &r.AgeDays, &r.DurationSeconds, &category, &r.TitleLength, &r.TagCount,
			&r.PublishHour, &r.PublishWeekday, &r.IsHD, &r.HasCaptions, &r.Views,
			&likes, &comments, &likeRate, &commentRate, &r.ViewsPerDay)
		if err != nil {
			return nil, &domain.SchemaValidationError{
				Stage:   domain.StageBuilding,
				Columns: columnNames(featureColumns),
				Reason:  "row not coercible: " + err.Error(),
			}
		}
		r.ChannelID = channel.String
		r.Category = category.String
		r.PublishedAt = r.PublishedAt.UTC()
		r.ObservedAt = r.ObservedAt.UTC()
		r.FirstObservedAt = r.FirstObservedAt.UTC()
		r.Likes = int64Ptr(likes)
		r.Comments = int64Ptr(comments)
		r.LikeRate = float64Ptr(likeRate)
		r.CommentRate = float64Ptr(commentRate)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}
