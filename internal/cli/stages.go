package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"StatVid/internal/app"
	"StatVid/internal/domain"
	"StatVid/internal/query"
)

func parseQueries(raw []string) ([]query.Query, error) {
	queries := make([]query.Query, 0, len(raw))
	for _, s := range raw {
		q, err := query.Parse(s)
		if err != nil {
			return nil, err
		}
		queries = append(queries, q)
	}
	return queries, nil
}

func newIngestCommand(opts *rootOptions) *cobra.Command {
	var (
		rawQueries []string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch video metadata and append it to the raw store",
		Long: `Resolve the configured queries (or --query overrides) into video ids, fetch them
with videos.list and append one raw record per video. Records already appended are
never modified; an aborted run keeps everything it appended.

Examples:
  statvid ingest
  statvid ingest --query category:28 --limit 500
  statvid ingest --query channel:UC_x5XG1OV2P6uZZ5FSM9Ttw --query videos:dQw4w9WgXcQ`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, err := parseQueries(rawQueries)
			if err != nil {
				return err
			}
			if err := opts.cfg.RequireAPIKey(); err != nil {
				return err
			}
			return opts.runStage(cmd.Context(), cmd.OutOrStdout(), domain.StageIngesting, app.Options{Queries: queries, Limit: limit})
		},
	}
	cmd.Flags().StringArrayVar(&rawQueries, "query", nil, "kind:value query (category:<id>, channel:<id>, videos:<id,id>); repeatable")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum ids per query (0 uses ingest.maxItems)")
	return cmd
}

func newTransformCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Rebuild the feature table from the raw store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("window") {
				opts.cfg.Transform.Window, _ = flags.GetDuration("window")
			}
			if flags.Changed("max-exclusion-rate") {
				opts.cfg.Transform.MaxExclusionRate, _ = flags.GetFloat64("max-exclusion-rate")
			}
			return opts.runStage(cmd.Context(), cmd.OutOrStdout(), domain.StageTransforming, app.Options{})
		},
	}
	cmd.Flags().Duration("window", 0, "only use observations newer than this (e.g. 720h)")
	cmd.Flags().Float64("max-exclusion-rate", 0, "fail when more than this share of entities is excluded")
	return cmd
}

func newBuildCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build-dataset",
		Short: "Encode features and split them into train and eval partitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("train-ratio") {
				opts.cfg.Dataset.TrainRatio, _ = flags.GetFloat64("train-ratio")
			}
			if flags.Changed("min-rows") {
				opts.cfg.Dataset.MinRows, _ = flags.GetInt("min-rows")
			}
			if flags.Changed("features") {
				opts.cfg.Dataset.Features, _ = flags.GetStringSlice("features")
			}
			return opts.runStage(cmd.Context(), cmd.OutOrStdout(), domain.StageBuilding, app.Options{})
		},
	}
	cmd.Flags().Float64("train-ratio", 0, "share of entities assigned to the train partition")
	cmd.Flags().Int("min-rows", 0, "minimum number of feature rows")
	cmd.Flags().StringSlice("features", nil, "feature columns to encode")
	return cmd
}

func newTrainCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit a model on the dataset and save a new artifact",
		Long: `Fit the configured backend (ridge or gbt) on the train partition of the current gold
build, evaluate it on the eval partition and write a new immutable artifact under models/.

The target transform (raw or log1p) has no default and must be configured
(training.targetTransform, TARGET_TRANSFORM or --target-transform).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("backend") {
				opts.cfg.Training.Backend, _ = flags.GetString("backend")
			}
			if flags.Changed("target-transform") {
				opts.cfg.Training.TargetTransform, _ = flags.GetString("target-transform")
			}
			if flags.Changed("seed") {
				opts.cfg.Training.Seed, _ = flags.GetInt64("seed")
			}
			if opts.cfg.Training.TargetTransform == "" {
				return fmt.Errorf("train: target transform is not configured (set training.targetTransform, TARGET_TRANSFORM or --target-transform to raw or log1p)")
			}
			return opts.runStage(cmd.Context(), cmd.OutOrStdout(), domain.StageTraining, app.Options{})
		},
	}
	cmd.Flags().String("backend", "", "ridge or gbt")
	cmd.Flags().String("target-transform", "", "raw or log1p")
	cmd.Flags().Int64("seed", 0, "seed for stochastic backends")
	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var (
		dryRun     bool
		rawQueries []string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run ingest, transform, build-dataset and train in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, err := parseQueries(rawQueries)
			if err != nil {
				return err
			}
			application, err := opts.application(app.Options{Queries: queries, Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dryRun {
				fmt.Fprintf(out, "dry run: data lake %s\n", application.Lake().Root)
				for i, stage := range application.Plan() {
					fmt.Fprintf(out, "  %d. %s\n", i+1, stage)
				}
				return nil
			}
			if err := opts.cfg.RequireAPIKey(); err != nil {
				return err
			}
			if opts.cfg.Training.TargetTransform == "" {
				return fmt.Errorf("run: target transform is not configured (set training.targetTransform or TARGET_TRANSFORM to raw or log1p)")
			}

			result, err := application.Run(cmd.Context())
			if err != nil {
				return err
			}
			for _, stage := range domain.Stages {
				printSummary(out, stage, result)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without executing it")
	cmd.Flags().StringArrayVar(&rawQueries, "query", nil, "kind:value query override; repeatable")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum ids per query")
	return cmd
}

func newEvaluateCommand(opts *rootOptions) *cobra.Command {
	var artifact string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a saved model on the current eval partition",
		Long: `Restore a model artifact and score it on the eval partition of the current gold
build. The dataset's feature schema must match the one the model was trained on.

Examples:
  statvid evaluate --model data/models/ridge/20250402T093000Z-01234567`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := opts.application(app.Options{})
			if err != nil {
				return err
			}
			report, err := application.Evaluate(cmd.Context(), artifact)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evaluate: %s model %s on %d eval rows (mae=%s r2=%s)\n",
				report.Model.Backend, report.Artifact, report.Rows, metric(report.Metrics.MAE), metric(report.Metrics.R2))
			return nil
		},
	}
	cmd.Flags().StringVar(&artifact, "model", "", "model artifact directory or model.json path")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}
