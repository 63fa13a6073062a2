package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"StatVid/internal/dataset"
	"StatVid/internal/domain"
	"StatVid/internal/model"
	"StatVid/internal/ports"
)

// TrainerConfig selects the backend and its hyperparameters.
type TrainerConfig struct {
	Backend         string
	TargetTransform string
	Seed            int64
	Params          map[string]float64
}

// TrainerDeps wires the training stage.
type TrainerDeps struct {
	Datasets ports.DatasetStore
	Models   ports.ModelStore
	Registry *model.Registry
	Config   TrainerConfig
	Logger   *slog.Logger
	Now      func() time.Time
	NewRunID func() string
}

// Trainer fits a regressor on the gold train partition and evaluates it on eval.
type Trainer struct {
	datasets ports.DatasetStore
	models   ports.ModelStore
	registry *model.Registry
	cfg      TrainerConfig
	logger   *slog.Logger
	now      func() time.Time
	newRunID func() string
}

// TrainReport points at the persisted artifact.
type TrainReport struct {
	ArtifactDir string
	Model       domain.TrainedModel
}

// NewTrainer constructs the training stage.
func NewTrainer(deps TrainerDeps) *Trainer {
	t := &Trainer{
		datasets: deps.Datasets,
		models:   deps.Models,
		registry: deps.Registry,
		cfg:      deps.Config,
		logger:   deps.Logger,
		now:      deps.Now,
		newRunID: deps.NewRunID,
	}
	if t.registry == nil {
		t.registry = model.NewRegistry()
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.newRunID == nil {
		t.newRunID = uuid.NewString
	}
	return t
}

// Train fits, evaluates and saves a new model artifact.
func (t *Trainer) Train(ctx context.Context) (TrainReport, error) {
	if err := model.ValidateTransform(t.cfg.TargetTransform); err != nil {
		return TrainReport{}, err
	}
	reg, err := t.registry.Resolve(t.cfg.Backend, t.cfg.Params, t.cfg.Seed)
	if err != nil {
		return TrainReport{}, err
	}

	ds, err := t.datasets.Load(ctx)
	if err != nil {
		return TrainReport{}, fmt.Errorf("load dataset: %w", err)
	}
	if ds.Meta.Target != dataset.TargetColumn {
		return TrainReport{}, &domain.SchemaValidationError{
			Stage:   domain.StageTraining,
			Columns: []string{ds.Meta.Target},
			Reason:  "dataset target is not " + dataset.TargetColumn,
		}
	}
	if ds.Train.Len() == 0 {
		return TrainReport{}, &domain.InsufficientDataError{
			Stage:     domain.StageTraining,
			Threshold: "train_rows",
			Observed:  0,
			Required:  1,
			Detail:    "train partition is empty",
		}
	}
	if err := checkFinite(ds.Meta.Schema, ds.Train, ds.Eval); err != nil {
		return TrainReport{}, err
	}

	transform := t.cfg.TargetTransform
	if err := reg.Fit(ds.Train.X, model.Forward(transform, ds.Train.Y)); err != nil {
		return TrainReport{}, fmt.Errorf("fit %s: %w", reg.Name(), err)
	}

	metrics, err := evaluate(reg, transform, ds)
	if err != nil {
		return TrainReport{}, err
	}

	state, err := model.EncodeState(reg)
	if err != nil {
		return TrainReport{}, err
	}
	artifact := domain.TrainedModel{
		Backend:         reg.Name(),
		CreatedAt:       t.now().UTC(),
		RunID:           t.newRunID(),
		Schema:          ds.Meta.Schema,
		TargetTransform: transform,
		Seed:            t.cfg.Seed,
		Params:          reg.Params(),
		TrainRows:       ds.Train.Len(),
		EvalRows:        ds.Eval.Len(),
		Metrics:         metrics,
		State:           state,
	}

	dir, err := t.models.Save(ctx, artifact)
	if err != nil {
		return TrainReport{}, fmt.Errorf("save model: %w", err)
	}

	t.logger.Info("model trained", "backend", artifact.Backend, "artifact", dir,
		"train_rows", artifact.TrainRows, "eval_rows", artifact.EvalRows,
		"mae", formatMetric(metrics.MAE), "r2", formatMetric(metrics.R2))
	return TrainReport{ArtifactDir: dir, Model: artifact}, nil
}

func evaluate(reg model.Regressor, transform string, ds dataset.Dataset) (domain.Metrics, error) {
	var m domain.Metrics

	rawTrain, err := reg.Predict(ds.Train.X)
	if err != nil {
		return m, fmt.Errorf("predict train: %w", err)
	}
	m.TrainMAE = model.MAE(model.Inverse(transform, rawTrain), ds.Train.Y)

	if ds.Eval.Len() == 0 {
		return m, nil
	}
	rawEval, err := reg.Predict(ds.Eval.X)
	if err != nil {
		return m, fmt.Errorf("predict eval: %w", err)
	}
	scored := scoreEval(model.Inverse(transform, rawEval), ds.Eval.Y, transform)
	scored.TrainMAE = m.TrainMAE
	return scored, nil
}

// scoreEval computes eval metrics on predictions already in original units.
func scoreEval(pred, actual []float64, transform string) domain.Metrics {
	var m domain.Metrics
	m.MAE = model.MAE(pred, actual)
	m.R2 = model.R2(pred, actual)
	if transform == model.TransformLog1p {
		logY := model.Forward(transform, actual)
		logPred := model.Forward(transform, pred)
		m.LogMAE = model.MAE(logPred, logY)
		m.LogR2 = model.R2(logPred, logY)
	}
	return m
}

// checkFinite names every feature column holding NaN or Inf, plus the target if it does.
func checkFinite(schema domain.FeatureSchema, parts ...dataset.Partition) error {
	bad := map[string]struct{}{}
	for _, p := range parts {
		for i, row := range p.X {
			for j, v := range row {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					name := fmt.Sprintf("#%d", j)
					if j < len(schema) {
						name = schema[j].Name
					}
					bad[name] = struct{}{}
				}
			}
			if y := p.Y[i]; math.IsNaN(y) || math.IsInf(y, 0) {
				bad[dataset.TargetColumn] = struct{}{}
			}
		}
	}
	if len(bad) == 0 {
		return nil
	}
	cols := make([]string, 0, len(bad))
	for c := range bad {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return &domain.SchemaValidationError{Stage: domain.StageTraining, Columns: cols, Reason: "non-finite values"}
}

func formatMetric(v *float64) string {
	if v == nil {
		return "undefined"
	}
	return fmt.Sprintf("%.4f", *v)
}
