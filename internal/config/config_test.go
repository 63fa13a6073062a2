package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "statvid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Empty(t, cfg.Training.TargetTransform, "target transform has no default")
	assert.Equal(t, map[string]float64{"lambda": 1}, cfg.Training.BackendParams())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
dataDir: /srv/statvid
youtube:
  backoff: 250ms
ingest:
  queries:
    - name: music
      kind: category
      params: {categoryId: "10"}
      maxItems: 200
transform:
  window: 720h
training:
  backend: gbt
  targetTransform: log1p
  params:
    gbt: {num_trees: 50}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/srv/statvid", cfg.DataDir)
	assert.Equal(t, 250*time.Millisecond, cfg.YouTube.Backoff)
	assert.Equal(t, 4, cfg.YouTube.MaxRetries, "unset fields keep their default")
	require.Len(t, cfg.Ingest.Queries, 1)
	assert.Equal(t, "10", cfg.Ingest.Queries[0].Params["categoryId"])
	assert.Equal(t, 720*time.Hour, cfg.Transform.Window)
	assert.Equal(t, "log1p", cfg.Training.TargetTransform)
	assert.Equal(t, 50.0, cfg.Training.BackendParams()["num_trees"])
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "dataDir: /from/file\n")
	t.Setenv("DATA_DIR", "/from/env")
	t.Setenv("YOUTUBE_API_KEY", "secret")
	t.Setenv("TARGET_TRANSFORM", "raw")
	t.Setenv("MODEL_BACKEND", "gbt")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.DataDir)
	assert.Equal(t, "secret", cfg.YouTube.APIKey)
	assert.Equal(t, "raw", cfg.Training.TargetTransform)
	assert.Equal(t, "gbt", cfg.Training.Backend)
}

func TestConfigPathFromEnv(t *testing.T) {
	t.Setenv("STATVID_CONFIG", writeConfig(t, "dataDir: /via/env/path\n"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/via/env/path", cfg.DataDir)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err, "an explicit path must exist")

	_, err = Load(writeConfig(t, "dataDir: [unterminated\n"))
	require.Error(t, err)
}

func TestValidateNamesEveryViolation(t *testing.T) {
	cfg := defaultConfig()
	cfg.Dataset.TrainRatio = 1.5
	cfg.Training.Backend = "svm"
	cfg.Training.TargetTransform = "sqrt"
	cfg.Ingest.Queries = []QueryConfig{{Kind: "playlist"}}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"TrainRatio", "Backend", "TargetTransform", "Queries[0].Kind"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestRequireAPIKey(t *testing.T) {
	cfg := defaultConfig()
	err := cfg.RequireAPIKey()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YOUTUBE_API_KEY is required")

	cfg.YouTube.APIKey = "  "
	require.Error(t, cfg.RequireAPIKey())

	cfg.YouTube.APIKey = "key"
	assert.NoError(t, cfg.RequireAPIKey())
}
