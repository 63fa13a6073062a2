package app

import (
	"context"
	"log/slog"
	"net/http"

	"StatVid/internal/config"
	"StatVid/internal/dataset"
	"StatVid/internal/domain"
	"StatVid/internal/infrastructure/storage"
	"StatVid/internal/infrastructure/youtube"
	"StatVid/internal/logging"
	"StatVid/internal/metrics"
	"StatVid/internal/model"
	"StatVid/internal/query"
	"StatVid/internal/usecase"
)

// Options are per-invocation overrides coming from the command line.
type Options struct {
	Queries []query.Query
	Limit   int
}

// Application wires configs to use cases.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	recorder  *metrics.Recorder
	lake      storage.Lake
	pipeline  *usecase.Pipeline
	evaluator *usecase.Evaluator
}

// New builds every stage from configuration. httpClient may be nil.
func New(cfg config.Config, opts Options, httpClient *http.Client, baseLogger *slog.Logger) *Application {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	recorder := metrics.NewRecorder()
	lake := storage.NewLake(cfg.DataDir)

	client := youtube.NewClient(youtube.Config{
		BaseURL:           cfg.YouTube.APIURL,
		APIKey:            cfg.YouTube.APIKey,
		Timeout:           cfg.YouTube.Timeout,
		MaxRetries:        cfg.YouTube.MaxRetries,
		Backoff:           cfg.YouTube.Backoff,
		RequestsPerSecond: cfg.YouTube.RequestsPerSecond,
		BreakerFailures:   cfg.YouTube.BreakerFailures,
		BreakerCooldown:   cfg.YouTube.BreakerCooldown,
	}, httpClient, recorder, baseLogger.With("component", "youtube"))

	resolvers := query.NewRegistry()
	youtube.RegisterResolvers(resolvers, client)

	raw := storage.NewRawStore(lake)
	features := storage.NewFeatureStore(lake)
	datasets := storage.NewDatasetStore(lake)
	models := storage.NewModelStore(lake)
	registry := model.NewRegistry()

	queries := opts.Queries
	if len(queries) == 0 {
		queries = configuredQueries(cfg.Ingest.Queries)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = cfg.Ingest.MaxItems
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Collector: usecase.NewCollector(usecase.CollectorDeps{
			Resolvers:   resolvers,
			Client:      client,
			Store:       raw,
			Recorder:    recorder,
			Logger:      baseLogger.With("component", "collector"),
			Concurrency: cfg.Ingest.Concurrency,
			ChunkSize:   cfg.Ingest.ChunkSize,
		}),
		Transformer: usecase.NewTransformer(usecase.TransformerDeps{
			Raw:              raw,
			Features:         features,
			Recorder:         recorder,
			Logger:           baseLogger.With("component", "transformer"),
			MaxExclusionRate: cfg.Transform.MaxExclusionRate,
			Window:           cfg.Transform.Window,
		}),
		Builder: usecase.NewDatasetBuilder(features, datasets, dataset.Options{
			Features:   cfg.Dataset.Features,
			TrainRatio: cfg.Dataset.TrainRatio,
			SplitSalt:  cfg.Dataset.SplitSalt,
			MinRows:    cfg.Dataset.MinRows,
		}, baseLogger.With("component", "dataset")),
		Trainer: usecase.NewTrainer(usecase.TrainerDeps{
			Datasets: datasets,
			Models:   models,
			Registry: registry,
			Config: usecase.TrainerConfig{
				Backend:         cfg.Training.Backend,
				TargetTransform: cfg.Training.TargetTransform,
				Seed:            cfg.Training.Seed,
				Params:          cfg.Training.BackendParams(),
			},
			Logger: baseLogger.With("component", "trainer"),
		}),
		Recorder: recorder,
		Logger:   baseLogger.With("component", "pipeline"),
		Queries:  queries,
		Limit:    limit,
	})

	evaluator := usecase.NewEvaluator(usecase.EvaluatorDeps{
		Datasets: datasets,
		Models:   models,
		Registry: registry,
		Logger:   baseLogger.With("component", "evaluator"),
	})

	return &Application{cfg: cfg, logger: baseLogger, recorder: recorder, lake: lake, pipeline: pipeline, evaluator: evaluator}
}

func configuredQueries(cfg []config.QueryConfig) []query.Query {
	out := make([]query.Query, 0, len(cfg))
	for _, q := range cfg {
		out = append(out, query.Query{Name: q.Name, Kind: q.Kind, Params: q.Params, MaxItems: q.MaxItems})
	}
	return out
}

// Lake exposes the resolved data lake location.
func (a *Application) Lake() storage.Lake {
	return a.lake
}

// Plan lists the stages a full run executes.
func (a *Application) Plan() []domain.Stage {
	return a.pipeline.Plan(domain.StageIngesting)
}

// Run executes every stage in order.
func (a *Application) Run(ctx context.Context) (usecase.RunResult, error) {
	return a.finish(a.pipeline.Run(ctx))
}

// RunStage executes a single stage.
func (a *Application) RunStage(ctx context.Context, stage domain.Stage) (usecase.RunResult, error) {
	return a.finish(a.pipeline.RunStage(ctx, stage))
}

// Evaluate scores a saved model artifact on the current dataset.
func (a *Application) Evaluate(ctx context.Context, artifact string) (usecase.EvaluationReport, error) {
	return a.evaluator.Evaluate(ctx, artifact)
}

// finish flushes metrics whatever the outcome.
func (a *Application) finish(result usecase.RunResult, err error) (usecase.RunResult, error) {
	if werr := a.recorder.WriteTextfile(a.cfg.Metrics.Textfile); werr != nil {
		a.logger.Warn("metrics not written", "error", werr)
	}
	return result, err
}
