package model

import (
	"fmt"

	"github.com/goccy/go-json"

	"StatVid/internal/domain"
)

// Predictor serves a persisted artifact.
type Predictor struct {
	model domain.TrainedModel
	reg   Regressor
}

// Restore rebuilds the fitted regressor stored in an artifact.
func (r *Registry) Restore(m domain.TrainedModel) (*Predictor, error) {
	if err := ValidateTransform(m.TargetTransform); err != nil {
		return nil, err
	}
	reg, err := r.Resolve(m.Backend, m.Params, m.Seed)
	if err != nil {
		return nil, err
	}
	if len(m.State) == 0 {
		return nil, fmt.Errorf("model %s has no fitted state", m.Backend)
	}
	if err := json.Unmarshal(m.State, reg); err != nil {
		return nil, fmt.Errorf("decode %s state: %w", m.Backend, err)
	}
	return &Predictor{model: m, reg: reg}, nil
}

// Model returns the artifact metadata.
func (p *Predictor) Model() domain.TrainedModel { return p.model }

// Predict scores rows laid out by schema, which must equal the training schema.
func (p *Predictor) Predict(schema domain.FeatureSchema, X [][]float64) ([]float64, error) {
	if !schema.Equal(p.model.Schema) {
		return nil, &domain.SchemaValidationError{
			Stage:   domain.StageTraining,
			Columns: schemaDiff(p.model.Schema, schema),
			Reason:  "feature schema differs from the one the model was trained on",
		}
	}
	raw, err := p.reg.Predict(X)
	if err != nil {
		return nil, err
	}
	return Inverse(p.model.TargetTransform, raw), nil
}

func schemaDiff(want, have domain.FeatureSchema) []string {
	var diff []string
	for i := 0; i < max(len(want), len(have)); i++ {
		switch {
		case i >= len(want):
			diff = append(diff, have[i].Name)
		case i >= len(have):
			diff = append(diff, want[i].Name)
		case want[i] != have[i]:
			diff = append(diff, have[i].Name)
		}
	}
	return diff
}

// EncodeState serialises a fitted regressor for persistence.
func EncodeState(reg Regressor) (json.RawMessage, error) {
	raw, err := json.Marshal(reg)
	if err != nil {
		return nil, fmt.Errorf("encode %s state: %w", reg.Name(), err)
	}
	return raw, nil
}
