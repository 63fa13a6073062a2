package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"StatVid/internal/domain"
	"StatVid/internal/features"
	"StatVid/internal/ports"
)

// TransformerDeps wires the silver stage.
type TransformerDeps struct {
	Raw              ports.RawRecordStore
	Features         ports.FeatureStore
	Recorder         ports.RunRecorder
	Logger           *slog.Logger
	MaxExclusionRate float64
	Window           time.Duration
	Now              func() time.Time
}

// Transformer rebuilds the feature table from the full raw history.
type Transformer struct {
	raw              ports.RawRecordStore
	features         ports.FeatureStore
	recorder         ports.RunRecorder
	logger           *slog.Logger
	maxExclusionRate float64
	window           time.Duration
	now              func() time.Time
}

// TransformReport summarises one transform.
type TransformReport struct {
	RawRecords    int
	Groups        int
	Rows          int
	Excluded      map[string]int
	ExclusionRate float64
}

// NewTransformer constructs the silver stage.
func NewTransformer(deps TransformerDeps) *Transformer {
	t := &Transformer{
		raw:              deps.Raw,
		features:         deps.Features,
		recorder:         deps.Recorder,
		logger:           deps.Logger,
		maxExclusionRate: deps.MaxExclusionRate,
		window:           deps.Window,
		now:              deps.Now,
	}
	if t.recorder == nil {
		t.recorder = ports.NopRecorder{}
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t
}

// Transform derives one row per valid entity and replaces the feature table.
// When the exclusion threshold is violated the previous table is left in place.
func (t *Transformer) Transform(ctx context.Context) (TransformReport, error) {
	var since time.Time
	if t.window > 0 {
		since = t.now().UTC().Add(-t.window)
	}

	records, err := t.raw.Load(ctx, since)
	if err != nil {
		return TransformReport{}, fmt.Errorf("load raw records: %w", err)
	}
	if len(records) == 0 {
		return TransformReport{}, &domain.InsufficientDataError{
			Stage:     domain.StageTransforming,
			Threshold: "raw_records",
			Observed:  0,
			Required:  1,
			Detail:    "raw store is empty",
		}
	}

	result := features.Derive(records)
	report := TransformReport{
		RawRecords:    len(records),
		Groups:        result.Groups,
		Rows:          len(result.Rows),
		Excluded:      map[string]int{},
		ExclusionRate: result.ExclusionRate(),
	}
	for reason, n := range result.ExcludedBy() {
		report.Excluded[string(reason)] = n
		t.recorder.RowsExcluded(string(reason), n)
	}
	for _, ex := range result.Exclusions {
		level := slog.LevelDebug
		if features.IsConsistency(ex.Err) {
			level = slog.LevelWarn
		}
		t.logger.Log(ctx, level, "entity excluded", "entity_id", ex.EntityID, "reason", ex.Reason, "error", ex.Err)
	}

	if report.ExclusionRate > t.maxExclusionRate {
		return report, &domain.InsufficientDataError{
			Stage:     domain.StageTransforming,
			Threshold: "max_exclusion_rate",
			Observed:  report.ExclusionRate,
			Required:  t.maxExclusionRate,
			Detail:    fmt.Sprintf("excluded %d of %d entities", len(result.Exclusions), result.Groups),
		}
	}

	if err := t.features.Replace(ctx, result.Rows); err != nil {
		return report, fmt.Errorf("write feature table: %w", err)
	}

	t.logger.Info("transform finished", "raw_records", report.RawRecords, "entities", report.Groups,
		"rows", report.Rows, "excluded", len(result.Exclusions), "exclusion_rate", report.ExclusionRate)
	return report, nil
}
