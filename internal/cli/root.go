// Package cli contains the statvid commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"StatVid/internal/app"
	"StatVid/internal/config"
	"StatVid/internal/domain"
	"StatVid/internal/logging"
	"StatVid/internal/usecase"
)

type rootOptions struct {
	configPath string
	dataDir    string
	logLevel   string
	logFormat  string
	metrics    string

	cfg    config.Config
	logger *slog.Logger
	// httpClient is swapped in tests.
	httpClient *http.Client
	logOutput  io.Writer
}

// NewRootCommand assembles the statvid command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&rootOptions{})
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "statvid",
		Short: "Predict YouTube views per day from catalog metadata",
		Long: `statvid captures video metadata from the YouTube Data API into a local data lake
and turns it into a views-per-day regression model.

Stages (each re-runnable on its own):
  statvid ingest          # append raw API snapshots to bronze/
  statvid transform       # rebuild silver/features.parquet from every raw record
  statvid build-dataset   # encode features and split into gold/train + gold/eval
  statvid train           # fit a model and write models/<backend>/<run>/model.json
  statvid run             # all of the above in order
  statvid evaluate        # score a saved model on the current eval partition

Configuration comes from statvid.yaml (or --config / STATVID_CONFIG), .env and the
environment (DATA_DIR, LOG_LEVEL, YOUTUBE_API_KEY, YOUTUBE_API_URL, MODEL_BACKEND,
TARGET_TRANSFORM, METRICS_TEXTFILE).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "settings file (default statvid.yaml)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "data lake root")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", "", "text or json")
	flags.StringVar(&opts.metrics, "metrics-textfile", "", "write Prometheus metrics to this file after the command")

	root.AddCommand(
		newIngestCommand(opts),
		newTransformCommand(opts),
		newBuildCommand(opts),
		newTrainCommand(opts),
		newRunCommand(opts),
		newEvaluateCommand(opts),
	)
	return root
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = o.dataDir
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = o.logFormat
	}
	if flags.Changed("metrics-textfile") {
		cfg.Metrics.Textfile = o.metrics
	}
	o.cfg = cfg
	return nil
}

// application validates the final configuration and builds the stages.
func (o *rootOptions) application(appOpts app.Options) (*app.Application, error) {
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if o.logOutput != nil {
		o.logger = logging.NewWithWriter(o.logOutput, o.cfg.Logging.Level, o.cfg.Logging.Format)
	} else {
		o.logger = logging.New(o.cfg.Logging.Level, o.cfg.Logging.Format)
	}
	return app.New(o.cfg, appOpts, o.httpClient, o.logger), nil
}

// runStage executes one stage and prints its summary.
func (o *rootOptions) runStage(ctx context.Context, out io.Writer, stage domain.Stage, appOpts app.Options) error {
	application, err := o.application(appOpts)
	if err != nil {
		return err
	}
	result, err := application.RunStage(ctx, stage)
	if err != nil {
		return err
	}
	printSummary(out, stage, result)
	return nil
}

func printSummary(out io.Writer, stage domain.Stage, r usecase.RunResult) {
	switch stage {
	case domain.StageIngesting:
		fmt.Fprintf(out, "ingest: run %s appended %d records (%d skipped) in %d files\n",
			r.Collect.RunID, r.Collect.Appended, r.Collect.Skipped, len(r.Collect.Files))
	case domain.StageTransforming:
		fmt.Fprintf(out, "transform: %d rows from %d entities (%d raw records, exclusion rate %.4f)\n",
			r.Transform.Rows, r.Transform.Groups, r.Transform.RawRecords, r.Transform.ExclusionRate)
	case domain.StageBuilding:
		fmt.Fprintf(out, "build-dataset: %d train rows, %d eval rows, %d features\n",
			r.Dataset.TrainRows, r.Dataset.EvalRows, len(r.Dataset.Schema))
	case domain.StageTraining:
		m := r.Train.Model.Metrics
		fmt.Fprintf(out, "train: %s model saved to %s (mae=%s r2=%s train_mae=%s)\n",
			r.Train.Model.Backend, r.Train.ArtifactDir, metric(m.MAE), metric(m.R2), metric(m.TrainMAE))
	}
}

func metric(v *float64) string {
	if v == nil {
		return "undefined"
	}
	return fmt.Sprintf("%.4f", *v)
}
