package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv      = "STATVID_CONFIG"
	dataDirEnv         = "DATA_DIR"
	logLevelEnv        = "LOG_LEVEL"
	logFormatEnv       = "LOG_FORMAT"
	apiKeyEnv          = "YOUTUBE_API_KEY"
	apiURLEnv          = "YOUTUBE_API_URL"
	backendEnv         = "MODEL_BACKEND"
	targetTransformEnv = "TARGET_TRANSFORM"
	metricsFileEnv     = "METRICS_TEXTFILE"

	defaultConfigPath = "statvid.yaml"
	dotenvPath        = ".env"
)

// Config holds every setting the pipeline stages need.
type Config struct {
	DataDir   string          `yaml:"dataDir" validate:"required"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	YouTube   YouTubeConfig   `yaml:"youtube"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Transform TransformConfig `yaml:"transform"`
	Dataset   DatasetConfig   `yaml:"dataset"`
	Training  TrainingConfig  `yaml:"training"`
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// MetricsConfig points at the textfile-collector output; empty disables it.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// YouTubeConfig describes how to reach the Data API.
type YouTubeConfig struct {
	APIURL            string        `yaml:"apiUrl" validate:"required,url"`
	APIKey            string        `yaml:"apiKey"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxRetries        int           `yaml:"maxRetries" validate:"gte=0,lte=10"`
	Backoff           time.Duration `yaml:"backoff" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" validate:"gte=0"`
	BreakerFailures   uint32        `yaml:"breakerFailures"`
	BreakerCooldown   time.Duration `yaml:"breakerCooldown" validate:"gte=0"`
}

// IngestConfig lists the queries a collector run executes.
type IngestConfig struct {
	Queries     []QueryConfig `yaml:"queries" validate:"dive"`
	MaxItems    int           `yaml:"maxItems" validate:"gte=0"`
	Concurrency int           `yaml:"concurrency" validate:"gte=1"`
	ChunkSize   int           `yaml:"chunkSize" validate:"gte=1,lte=50"`
}

// QueryConfig is one catalog query resolved through the strategy registry.
type QueryConfig struct {
	Name     string            `yaml:"name"`
	Kind     string            `yaml:"kind" validate:"required,oneof=category channel videos"`
	Params   map[string]string `yaml:"params"`
	MaxItems int               `yaml:"maxItems" validate:"gte=0"`
}

// TransformConfig bounds the silver stage.
type TransformConfig struct {
	Window           time.Duration `yaml:"window" validate:"gte=0"`
	MaxExclusionRate float64       `yaml:"maxExclusionRate" validate:"gte=0,lte=1"`
}

// DatasetConfig controls feature selection and the entity split.
type DatasetConfig struct {
	Features   []string `yaml:"features"`
	TrainRatio float64  `yaml:"trainRatio" validate:"gt=0,lt=1"`
	SplitSalt  string   `yaml:"splitSalt" validate:"required"`
	MinRows    int      `yaml:"minRows" validate:"gte=1"`
}

// TrainingConfig selects the regressor. TargetTransform has no default and
// must be set before training.
type TrainingConfig struct {
	Backend         string                        `yaml:"backend" validate:"required,oneof=ridge gbt"`
	TargetTransform string                        `yaml:"targetTransform" validate:"omitempty,oneof=raw log1p"`
	Seed            int64                         `yaml:"seed"`
	Params          map[string]map[string]float64 `yaml:"params"`
}

// BackendParams returns the hyperparameters configured for the selected backend.
func (t TrainingConfig) BackendParams() map[string]float64 {
	return t.Params[t.Backend]
}

// Load builds the configuration: defaults, then the YAML file, then .env and
// environment overrides. An explicit path must exist; the default one may not.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(configPathEnv)
		explicit = path != ""
	}
	if path == "" {
		path = defaultConfigPath
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: cannot parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("config: cannot read %s: %w", path, err)
	}

	if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: cannot load %s: %w", dotenvPath, err)
	}
	cfg.applyEnvOverrides()

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(dataDirEnv); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(logFormatEnv); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv(apiKeyEnv); v != "" {
		c.YouTube.APIKey = v
	}
	if v := os.Getenv(apiURLEnv); v != "" {
		c.YouTube.APIURL = v
	}
	if v := os.Getenv(backendEnv); v != "" {
		c.Training.Backend = v
	}
	if v := os.Getenv(targetTransformEnv); v != "" {
		c.Training.TargetTransform = v
	}
	if v := os.Getenv(metricsFileEnv); v != "" {
		c.Metrics.Textfile = v
	}
}

// Validate checks every field constraint and reports all violations at once.
func (c Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s fails %s", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("config: invalid settings: %s", strings.Join(msgs, "; "))
}

// RequireAPIKey fails when no YouTube API key is configured. Only stages that
// reach the catalog need one.
func (c Config) RequireAPIKey() error {
	if strings.TrimSpace(c.YouTube.APIKey) == "" {
		return fmt.Errorf("config: %s is required to query the YouTube Data API (or set youtube.apiKey)", apiKeyEnv)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		DataDir: "data",
		Logging: LoggingConfig{Level: "info", Format: "text"},
		YouTube: YouTubeConfig{
			APIURL:            "https://www.googleapis.com/youtube/v3",
			Timeout:           20 * time.Second,
			MaxRetries:        4,
			Backoff:           time.Second,
			RequestsPerSecond: 5,
			BreakerFailures:   5,
			BreakerCooldown:   30 * time.Second,
		},
		Ingest: IngestConfig{
			Concurrency: 2,
			ChunkSize:   50,
			Queries: []QueryConfig{
				{Name: "science-tech", Kind: "category", Params: map[string]string{"categoryId": "28", "regionCode": "US"}},
			},
		},
		Transform: TransformConfig{MaxExclusionRate: 0.2},
		Dataset:   DatasetConfig{TrainRatio: 0.8, SplitSalt: "statvid", MinRows: 50},
		Training: TrainingConfig{
			Backend: "ridge",
			Seed:    42,
			Params: map[string]map[string]float64{
				"ridge": {"lambda": 1},
				"gbt":   {"num_trees": 200, "learning_rate": 0.1, "max_depth": 4, "min_samples_leaf": 5, "subsample": 0.8},
			},
		},
	}
}
