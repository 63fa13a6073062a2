package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"StatVid/internal/domain"
	"StatVid/internal/model"
	"StatVid/internal/ports"
)

// EvaluatorDeps wires scoring of saved artifacts.
type EvaluatorDeps struct {
	Datasets ports.DatasetStore
	Models   ports.ModelStore
	Registry *model.Registry
	Logger   *slog.Logger
}

// Evaluator scores a persisted model against the current eval partition.
type Evaluator struct {
	datasets ports.DatasetStore
	models   ports.ModelStore
	registry *model.Registry
	logger   *slog.Logger
}

// EvaluationReport holds the metrics of one artifact on the current dataset.
type EvaluationReport struct {
	Artifact string
	Model    domain.TrainedModel
	Rows     int
	Metrics  domain.Metrics
}

// NewEvaluator constructs the scoring use case.
func NewEvaluator(deps EvaluatorDeps) *Evaluator {
	e := &Evaluator{
		datasets: deps.Datasets,
		models:   deps.Models,
		registry: deps.Registry,
		logger:   deps.Logger,
	}
	if e.registry == nil {
		e.registry = model.NewRegistry()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Evaluate restores the artifact at path and scores it on gold eval rows.
// The dataset's feature schema must equal the one the model was trained on.
func (e *Evaluator) Evaluate(ctx context.Context, path string) (EvaluationReport, error) {
	artifact, err := e.models.Load(ctx, path)
	if err != nil {
		return EvaluationReport{}, fmt.Errorf("load model %s: %w", path, err)
	}
	predictor, err := e.registry.Restore(artifact)
	if err != nil {
		return EvaluationReport{}, fmt.Errorf("restore model %s: %w", path, err)
	}
	ds, err := e.datasets.Load(ctx)
	if err != nil {
		return EvaluationReport{}, fmt.Errorf("load dataset: %w", err)
	}

	pred, err := predictor.Predict(ds.Meta.Schema, ds.Eval.X)
	if err != nil {
		return EvaluationReport{}, err
	}
	report := EvaluationReport{
		Artifact: path,
		Model:    artifact,
		Rows:     ds.Eval.Len(),
		Metrics:  scoreEval(pred, ds.Eval.Y, artifact.TargetTransform),
	}
	e.logger.Info("model evaluated", "artifact", path, "backend", artifact.Backend, "rows", report.Rows,
		"mae", formatMetric(report.Metrics.MAE), "r2", formatMetric(report.Metrics.R2))
	return report, nil
}
