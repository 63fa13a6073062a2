package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"StatVid/internal/domain"
	"StatVid/internal/ports"
)

const modelFile = "model.json"

// ModelStore keeps one directory per training run under models/<backend>/.
type ModelStore struct {
	dir string
}

var _ ports.ModelStore = (*ModelStore)(nil)

// NewModelStore roots the model artifacts inside the lake.
func NewModelStore(lake Lake) *ModelStore {
	return &ModelStore{dir: lake.Models()}
}

// Save writes a new artifact directory and fails if one with the same name exists.
func (s *ModelStore) Save(ctx context.Context, model domain.TrainedModel) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if model.Backend == "" || model.RunID == "" {
		return "", fmt.Errorf("save model: backend and run id are required")
	}

	runPrefix := model.RunID
	if len(runPrefix) > 8 {
		runPrefix = runPrefix[:8]
	}
	parent := filepath.Join(s.dir, model.Backend)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}
	dir := filepath.Join(parent, model.CreatedAt.UTC().Format("20060102T150405Z")+"-"+runPrefix)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("save model: artifact %s already exists", dir)
		}
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	payload, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal model: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, modelFile), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		return "", fmt.Errorf("create model file: %w", err)
	}
	if _, err := f.Write(append(payload, '\n')); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write model file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close model file: %w", err)
	}
	return dir, nil
}

// Load reads an artifact from its directory (or the model.json path itself).
func (s *ModelStore) Load(ctx context.Context, path string) (domain.TrainedModel, error) {
	if err := ctx.Err(); err != nil {
		return domain.TrainedModel{}, err
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, modelFile)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.TrainedModel{}, fmt.Errorf("read model: %w", err)
	}
	var model domain.TrainedModel
	if err := json.Unmarshal(raw, &model); err != nil {
		return domain.TrainedModel{}, fmt.Errorf("decode model: %w", err)
	}
	return model, nil
}
