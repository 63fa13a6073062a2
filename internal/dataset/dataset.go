package dataset

import (
	"StatVid/internal/domain"
)

// TargetColumn is the regression label of every model-ready dataset.
const TargetColumn = "views_per_day"

// Partition is an ordered set of model-ready rows.
type Partition struct {
	EntityIDs []string
	X         [][]float64
	Y         []float64
}

// Len returns the number of rows.
func (p Partition) Len() int {
	return len(p.Y)
}

// Meta is the persisted description of a dataset (gold/schema.json).
type Meta struct {
	Schema     domain.FeatureSchema `json:"schema"`
	Target     string               `json:"target"`
	TrainRatio float64              `json:"train_ratio"`
	SplitSalt  string               `json:"split_salt"`
	Categories []string             `json:"categories"`
	TrainRows  int                  `json:"train_rows"`
	EvalRows   int                  `json:"eval_rows"`
}

// Dataset is a model-ready train/evaluation split.
type Dataset struct {
	Meta  Meta
	Train Partition
	Eval  Partition
}

// Overlap returns entity ids present in both partitions.
func (d Dataset) Overlap() []string {
	seen := make(map[string]struct{}, len(d.Train.EntityIDs))
	for _, id := range d.Train.EntityIDs {
		seen[id] = struct{}{}
	}
	var shared []string
	for _, id := range d.Eval.EntityIDs {
		if _, ok := seen[id]; ok {
			shared = append(shared, id)
		}
	}
	return shared
}
