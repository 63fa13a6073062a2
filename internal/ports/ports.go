package ports

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"StatVid/internal/dataset"
	"StatVid/internal/domain"
)

// CatalogClient fetches full video resources from the upstream catalog.
type CatalogClient interface {
	FetchVideos(ctx context.Context, ids []string) ([]json.RawMessage, error)
}

// RawRecordStore is the append-only bronze layer.
type RawRecordStore interface {
	Append(ctx context.Context, records []domain.RawRecord) (string, error)
	Load(ctx context.Context, since time.Time) ([]domain.RawRecord, error)
}

// FeatureStore holds the silver feature table; writes replace it wholesale.
type FeatureStore interface {
	Replace(ctx context.Context, rows []domain.FeatureRow) error
	Load(ctx context.Context) ([]domain.FeatureRow, error)
}

// DatasetStore holds the gold model-ready dataset; writes replace it wholesale.
type DatasetStore interface {
	Replace(ctx context.Context, ds dataset.Dataset) error
	Load(ctx context.Context) (dataset.Dataset, error)
}

// ModelStore persists immutable training artifacts.
type ModelStore interface {
	Save(ctx context.Context, model domain.TrainedModel) (string, error)
	Load(ctx context.Context, path string) (domain.TrainedModel, error)
}

// RunRecorder receives stage-level counters for observability.
type RunRecorder interface {
	APIRequest(endpoint, outcome string)
	RecordsAppended(n int)
	RecordSkipped(reason string)
	RowsExcluded(reason string, n int)
	StageFinished(stage domain.Stage, seconds float64, err error)
}

// NopRecorder discards every observation.
type NopRecorder struct{}

func (NopRecorder) APIRequest(string, string) {}
func (NopRecorder) RecordsAppended(int) {}
func (NopRecorder) RecordSkipped(string) {}
func (NopRecorder) RowsExcluded(string, int) {}
func (NopRecorder) StageFinished(domain.Stage, float64, error) {}
