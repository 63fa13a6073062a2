package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"StatVid/internal/dataset"
	"StatVid/internal/domain"
	"StatVid/internal/ports"
	"StatVid/internal/query"
)

// PipelineDeps wires all stages into the orchestration pipeline.
type PipelineDeps struct {
	Collector   *Collector
	Transformer *Transformer
	Builder     *DatasetBuilder
	Trainer     *Trainer
	Recorder    ports.RunRecorder
	Logger      *slog.Logger
	Queries     []query.Query
	Limit       int
}

// Pipeline drives one run through Ingesting, Transforming, Building and Training.
type Pipeline struct {
	collector   *Collector
	transformer *Transformer
	builder     *DatasetBuilder
	trainer     *Trainer
	recorder    ports.RunRecorder
	logger      *slog.Logger
	queries     []query.Query
	limit       int
}

// RunResult carries the state a run ended in and whatever each stage reported.
type RunResult struct {
	State     domain.Stage
	Collect   CollectReport
	Transform TransformReport
	Dataset   dataset.Meta
	Train     TrainReport
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		collector:   deps.Collector,
		transformer: deps.Transformer,
		builder:     deps.Builder,
		trainer:     deps.Trainer,
		recorder:    deps.Recorder,
		logger:      deps.Logger,
		queries:     deps.Queries,
		limit:       deps.Limit,
	}
	if p.recorder == nil {
		p.recorder = ports.NopRecorder{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Plan lists the stages Run would execute starting at from.
func (p *Pipeline) Plan(from domain.Stage) []domain.Stage {
	var plan []domain.Stage
	for s := from; !s.Terminal(); s = s.Next() {
		plan = append(plan, s)
	}
	return plan
}

// Run executes every stage in order; the first failure moves the run to Failed.
func (p *Pipeline) Run(ctx context.Context) (RunResult, error) {
	return p.run(ctx, p.Plan(domain.StageIngesting))
}

// RunStage executes a single stage.
func (p *Pipeline) RunStage(ctx context.Context, stage domain.Stage) (RunResult, error) {
	return p.run(ctx, []domain.Stage{stage})
}

func (p *Pipeline) run(ctx context.Context, stages []domain.Stage) (RunResult, error) {
	var result RunResult
	for _, stage := range stages {
		result.State = stage
		p.logger.Info("stage started", "stage", stage)

		started := time.Now()
		err := p.execute(ctx, stage, &result)
		elapsed := time.Since(started)
		p.recorder.StageFinished(stage, elapsed.Seconds(), err)

		if err != nil {
			result.State = domain.StageFailed
			p.logger.Error("stage failed", "stage", stage, "elapsed", elapsed, "error", err)
			return result, &domain.StageError{Stage: stage, Err: err}
		}
		p.logger.Info("stage finished", "stage", stage, "elapsed", elapsed)
	}
	result.State = domain.StageDone
	return result, nil
}

func (p *Pipeline) execute(ctx context.Context, stage domain.Stage, result *RunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var err error
	switch stage {
	case domain.StageIngesting:
		if p.collector == nil {
			return fmt.Errorf("collector is not configured")
		}
		result.Collect, err = p.collector.Collect(ctx, p.queries, p.limit)
	case domain.StageTransforming:
		if p.transformer == nil {
			return fmt.Errorf("transformer is not configured")
		}
		result.Transform, err = p.transformer.Transform(ctx)
	case domain.StageBuilding:
		if p.builder == nil {
			return fmt.Errorf("dataset builder is not configured")
		}
		result.Dataset, err = p.builder.Build(ctx)
	case domain.StageTraining:
		if p.trainer == nil {
			return fmt.Errorf("trainer is not configured")
		}
		result.Train, err = p.trainer.Train(ctx)
	default:
		return fmt.Errorf("stage %s cannot be executed", stage)
	}
	return err
}
