package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"StatVid/internal/dataset"
	"StatVid/internal/ports"
)

// DatasetBuilder turns the feature table into the gold train/eval split.
type DatasetBuilder struct {
	features ports.FeatureStore
	datasets ports.DatasetStore
	opts     dataset.Options
	logger   *slog.Logger
}

// NewDatasetBuilder constructs the gold stage.
func NewDatasetBuilder(features ports.FeatureStore, datasets ports.DatasetStore, opts dataset.Options, logger *slog.Logger) *DatasetBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &DatasetBuilder{features: features, datasets: datasets, opts: opts, logger: logger}
}

// Build reads and validates silver rows, encodes them and replaces the gold dataset.
func (b *DatasetBuilder) Build(ctx context.Context) (dataset.Meta, error) {
	rows, err := b.features.Load(ctx)
	if err != nil {
		return dataset.Meta{}, fmt.Errorf("load feature table: %w", err)
	}

	ds, err := dataset.Build(rows, b.opts)
	if err != nil {
		return dataset.Meta{}, err
	}
	if shared := ds.Overlap(); len(shared) > 0 {
		return dataset.Meta{}, fmt.Errorf("split leaks %d entities into both partitions", len(shared))
	}

	if err := b.datasets.Replace(ctx, ds); err != nil {
		return dataset.Meta{}, fmt.Errorf("write dataset: %w", err)
	}

	b.logger.Info("dataset built", "rows", len(rows), "train_rows", ds.Meta.TrainRows,
		"eval_rows", ds.Meta.EvalRows, "features", len(ds.Meta.Schema))
	return ds.Meta, nil
}
