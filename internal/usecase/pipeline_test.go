package usecase

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StatVid/internal/dataset"
	"StatVid/internal/domain"
	"StatVid/internal/infrastructure/storage"
	"StatVid/internal/model"
	"StatVid/internal/query"
)

type lakeFixture struct {
	lake     storage.Lake
	raw      *storage.RawStore
	features *storage.FeatureStore
	datasets *storage.DatasetStore
	models   *storage.ModelStore
	recorder *countingRecorder
	pipeline *Pipeline
}

func newLakeFixture(t *testing.T, videos int, now time.Time) *lakeFixture {
	t.Helper()

	lake := storage.NewLake(t.TempDir())
	f := &lakeFixture{
		lake:     lake,
		raw:      storage.NewRawStore(lake),
		features: storage.NewFeatureStore(lake),
		datasets: storage.NewDatasetStore(lake),
		models:   storage.NewModelStore(lake),
		recorder: newCountingRecorder(),
	}

	reg := query.NewRegistry()
	reg.Register(listResolver{kind: query.KindVideos, ids: map[string][]string{"all": idRange(0, videos)}})

	f.pipeline = NewPipeline(PipelineDeps{
		Collector: NewCollector(CollectorDeps{
			Resolvers: reg, Client: newFakeCatalog(videos, now), Store: f.raw,
			Recorder: f.recorder, Now: fixedClock(now), NewRunID: sequentialIDs(now.Format("20060102")),
		}),
		Transformer: NewTransformer(TransformerDeps{
			Raw: f.raw, Features: f.features, Recorder: f.recorder, MaxExclusionRate: 0.1,
		}),
		Builder: NewDatasetBuilder(f.features, f.datasets, dataset.Options{
			TrainRatio: 0.8, SplitSalt: "statvid", MinRows: 10,
		}, nil),
		Trainer: NewTrainer(TrainerDeps{
			Datasets: f.datasets, Models: f.models,
			Config:   TrainerConfig{Backend: model.RidgeName, TargetTransform: model.TransformLog1p, Seed: 1},
			Now:      fixedClock(now), NewRunID: sequentialIDs("train"),
		}),
		Recorder: f.recorder,
		Queries:  []query.Query{{Name: "all", Kind: query.KindVideos}},
	})
	return f
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

// treeBytes reads every file below dir keyed by its relative path.
func treeBytes(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	files := map[string][]byte{}
	require.NoError(t, filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files[rel] = readFile(t, path)
		return nil
	}))
	return files
}

func TestPipelineRunsEveryStage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newLakeFixture(t, 40, clock0)

	result, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StageDone, result.State)
	assert.Equal(t, 40, result.Collect.Appended)
	assert.Equal(t, 40, result.Transform.Rows)
	assert.Equal(t, 40, result.Dataset.TrainRows+result.Dataset.EvalRows)
	for _, stage := range domain.Stages {
		assert.Contains(t, f.recorder.stages, stage)
		assert.NoError(t, f.recorder.stages[stage])
	}

	artifact, err := f.models.Load(ctx, result.Train.ArtifactDir)
	require.NoError(t, err)
	assert.Equal(t, model.RidgeName, artifact.Backend)
	assert.Equal(t, model.TransformLog1p, artifact.TargetTransform)
	require.NotNil(t, artifact.Metrics.TrainMAE)

	predictor, err := model.NewRegistry().Restore(artifact)
	require.NoError(t, err)
	ds, err := f.datasets.Load(ctx)
	require.NoError(t, err)
	pred, err := predictor.Predict(ds.Meta.Schema, ds.Train.X)
	require.NoError(t, err)
	require.Len(t, pred, ds.Train.Len())
	for _, p := range pred {
		assert.GreaterOrEqual(t, p, 0.0)
	}
}

func TestTransformIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newLakeFixture(t, 12, clock0)
	_, err := f.pipeline.RunStage(ctx, domain.StageIngesting)
	require.NoError(t, err)

	_, err = f.pipeline.RunStage(ctx, domain.StageTransforming)
	require.NoError(t, err)
	first := readFile(t, f.features.Path())

	_, err = f.pipeline.RunStage(ctx, domain.StageTransforming)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, readFile(t, f.features.Path())))
}

func TestTransformKeepsOneRowPerEntityAcrossRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newLakeFixture(t, 12, clock0)
	_, err := f.pipeline.RunStage(ctx, domain.StageIngesting)
	require.NoError(t, err)

	later := newLakeFixture(t, 12, clock0.Add(48*time.Hour))
	later.pipeline.collector.store = f.raw
	_, err = later.pipeline.RunStage(ctx, domain.StageIngesting)
	require.NoError(t, err)

	_, err = f.pipeline.RunStage(ctx, domain.StageTransforming)
	require.NoError(t, err)
	rows, err := f.features.Load(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 12)
	for _, r := range rows {
		assert.Equal(t, int64(2), r.ObservationCount)
		assert.True(t, r.ObservedAt.Equal(clock0.Add(48*time.Hour)))
		assert.True(t, r.FirstObservedAt.Equal(clock0))
	}
}

func TestTransformExclusionThresholdLeavesSilverUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newLakeFixture(t, 10, clock0)
	_, err := f.pipeline.RunStage(ctx, domain.StageIngesting)
	require.NoError(t, err)
	_, err = f.pipeline.RunStage(ctx, domain.StageTransforming)
	require.NoError(t, err)
	before := readFile(t, f.features.Path())

	published := clock0.Add(-72 * time.Hour)
	var bad []domain.RawRecord
	for _, id := range []string{"bad1", "bad2", "bad3"} {
		bad = append(bad, domain.RawRecord{
			EntityID: id, ObservedAt: clock0, PublishedAt: &published,
			RawPayload: `{"id":"` + id + `","contentDetails":{"duration":"forever"},"statistics":{"viewCount":"5"}}`,
			CaptureRunID: "manual",
		})
	}
	_, err = f.raw.Append(ctx, bad)
	require.NoError(t, err)

	_, err = f.pipeline.RunStage(ctx, domain.StageTransforming)
	var insufficient *domain.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "max_exclusion_rate", insufficient.Threshold)
	assert.InDelta(t, 3.0/13.0, insufficient.Observed, 1e-9)
	assert.Contains(t, err.Error(), "excluded 3 of 13 entities")
	assert.Equal(t, 3, f.recorder.excluded["bad_duration"])

	assert.True(t, bytes.Equal(before, readFile(t, f.features.Path())), "failed transform must not replace silver")
}

func TestTransformEmptyRawStoreIsFatal(t *testing.T) {
	t.Parallel()

	f := newLakeFixture(t, 1, clock0)
	result, err := f.pipeline.RunStage(context.Background(), domain.StageTransforming)

	var stageErr *domain.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, domain.StageTransforming, stageErr.Stage)
	assert.Equal(t, domain.StageFailed, result.State)

	var insufficient *domain.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "raw_records", insufficient.Threshold)
	assert.Error(t, f.recorder.stages[domain.StageTransforming])
}

func TestBuildIsByteIdentical(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newLakeFixture(t, 20, clock0)
	for _, stage := range []domain.Stage{domain.StageIngesting, domain.StageTransforming, domain.StageBuilding} {
		_, err := f.pipeline.RunStage(ctx, stage)
		require.NoError(t, err)
	}
	first := treeBytes(t, f.lake.Gold())
	require.Contains(t, first, "schema.json")

	_, err := f.pipeline.RunStage(ctx, domain.StageBuilding)
	require.NoError(t, err)
	second := treeBytes(t, f.lake.Gold())
	require.Len(t, second, len(first))
	for name, data := range first {
		assert.True(t, bytes.Equal(data, second[name]), name)
	}

	ds, err := f.datasets.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, ds.Overlap())
}

func TestBuildBelowMinRowsIsFatal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newLakeFixture(t, 5, clock0)
	for _, stage := range []domain.Stage{domain.StageIngesting, domain.StageTransforming} {
		_, err := f.pipeline.RunStage(ctx, stage)
		require.NoError(t, err)
	}

	_, err := f.pipeline.RunStage(ctx, domain.StageBuilding)
	var insufficient *domain.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "min_rows", insufficient.Threshold)
}

type staticDatasets struct {
	ds dataset.Dataset
}

func (s staticDatasets) Replace(context.Context, dataset.Dataset) error { return nil }
func (s staticDatasets) Load(context.Context) (dataset.Dataset, error) { return s.ds, nil }

func TestTrainEmptyTrainPartitionIsFatal(t *testing.T) {
	t.Parallel()

	lake := storage.NewLake(t.TempDir())
	ds := dataset.Dataset{
		Meta: dataset.Meta{Target: dataset.TargetColumn, Schema: domain.FeatureSchema{{Name: "age_days", Kind: domain.KindNumeric}}},
		Eval: dataset.Partition{EntityIDs: []string{"a"}, X: [][]float64{{1}}, Y: []float64{3}},
	}
	trainer := NewTrainer(TrainerDeps{
		Datasets: staticDatasets{ds: ds},
		Models:   storage.NewModelStore(lake),
		Config:   TrainerConfig{Backend: model.GBTName, TargetTransform: model.TransformRaw},
	})

	_, err := trainer.Train(context.Background())
	var insufficient *domain.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "train_rows", insufficient.Threshold)

	entries, err := os.ReadDir(lake.Models())
	assert.True(t, errors.Is(err, os.ErrNotExist) || len(entries) == 0, "no artifact is written")
}

func TestTrainRejectsNonFiniteFeatures(t *testing.T) {
	t.Parallel()

	ds := dataset.Dataset{
		Meta: dataset.Meta{Target: dataset.TargetColumn, Schema: domain.FeatureSchema{
			{Name: "age_days", Kind: domain.KindNumeric}, {Name: "likes", Kind: domain.KindNumeric},
		}},
		Train: dataset.Partition{EntityIDs: []string{"a", "b"}, X: [][]float64{{1, 2}, {2, posInf()}}, Y: []float64{3, 4}},
	}
	trainer := NewTrainer(TrainerDeps{
		Datasets: staticDatasets{ds: ds},
		Models:   storage.NewModelStore(storage.NewLake(t.TempDir())),
		Config:   TrainerConfig{Backend: model.RidgeName, TargetTransform: model.TransformRaw},
	})

	_, err := trainer.Train(context.Background())
	var schemaErr *domain.SchemaValidationError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, []string{"likes"}, schemaErr.Columns)
}

func TestTrainRequiresTargetTransform(t *testing.T) {
	t.Parallel()

	trainer := NewTrainer(TrainerDeps{Config: TrainerConfig{Backend: model.RidgeName}})
	_, err := trainer.Train(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target transform is not configured")
}

func TestTrainEmptyEvalLeavesMetricsUndefined(t *testing.T) {
	t.Parallel()

	ds := dataset.Dataset{
		Meta: dataset.Meta{Target: dataset.TargetColumn, Schema: domain.FeatureSchema{{Name: "age_days", Kind: domain.KindNumeric}}},
		Train: dataset.Partition{
			EntityIDs: []string{"a", "b", "c"},
			X:         [][]float64{{1}, {2}, {3}},
			Y:         []float64{10, 20, 30},
		},
	}
	trainer := NewTrainer(TrainerDeps{
		Datasets: staticDatasets{ds: ds},
		Models:   storage.NewModelStore(storage.NewLake(t.TempDir())),
		Config:   TrainerConfig{Backend: model.RidgeName, TargetTransform: model.TransformRaw},
		Now:      fixedClock(clock0),
	})

	report, err := trainer.Train(context.Background())
	require.NoError(t, err)
	assert.Nil(t, report.Model.Metrics.MAE)
	assert.Nil(t, report.Model.Metrics.R2)
	require.NotNil(t, report.Model.Metrics.TrainMAE)
	assert.Zero(t, report.Model.EvalRows)
}

func TestPlan(t *testing.T) {
	t.Parallel()

	p := NewPipeline(PipelineDeps{})
	assert.Equal(t, []domain.Stage{domain.StageBuilding, domain.StageTraining}, p.Plan(domain.StageBuilding))
	assert.Len(t, p.Plan(domain.StageIngesting), 4)

	_, err := p.RunStage(context.Background(), domain.StageDone)
	require.Error(t, err)
}
