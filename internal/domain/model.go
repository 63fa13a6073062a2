package domain

import (
	"time"

	"github.com/goccy/go-json"
)

// FeatureKind describes how a model-ready column was produced.
type FeatureKind string

const (
	KindNumeric   FeatureKind = "numeric"
	KindIndicator FeatureKind = "indicator"
	KindOneHot    FeatureKind = "onehot"
)

// Feature is one column of a model-ready dataset.
type Feature struct {
	Name string      `json:"name"`
	Kind FeatureKind `json:"kind"`
}

// FeatureSchema is the ordered list of model-ready columns.
type FeatureSchema []Feature

// Names returns the column names in order.
func (s FeatureSchema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Equal reports whether both schemas list the same features in the same order.
func (s FeatureSchema) Equal(other FeatureSchema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Metrics holds evaluation results; nil values are undefined (e.g. empty evaluation partition).
type Metrics struct {
	TrainMAE *float64 `json:"train_mae"`
	MAE      *float64 `json:"mae"`
	R2       *float64 `json:"r2"`
	LogMAE   *float64 `json:"log_mae,omitempty"`
	LogR2    *float64 `json:"log_r2,omitempty"`
}

// TrainedModel is a persisted, immutable training artifact.
type TrainedModel struct {
	Backend         string             `json:"backend"`
	CreatedAt       time.Time          `json:"created_at"`
	RunID           string             `json:"run_id"`
	Schema          FeatureSchema      `json:"schema"`
	TargetTransform string             `json:"target_transform"`
	Seed            int64              `json:"seed"`
	Params          map[string]float64 `json:"params"`
	TrainRows       int                `json:"train_rows"`
	EvalRows        int                `json:"eval_rows"`
	Metrics         Metrics            `json:"metrics"`
	State           json.RawMessage    `json:"state"`
}
