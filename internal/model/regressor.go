package model

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Regressor is the fit/predict contract shared by every backend.
type Regressor interface {
	Name() string
	Fit(X [][]float64, y []float64) error
	Predict(X [][]float64) ([]float64, error)
	Params() map[string]float64
}

// Factory builds an unfitted regressor from hyperparameters and a seed.
type Factory func(params map[string]float64, seed int64) (Regressor, error)

// Registry maps backend names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in backends.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}
	r.Register(RidgeName, NewRidgeFromParams)
	r.Register(GBTName, NewGBTFromParams)
	return r
}

// Register adds or replaces a backend.
func (r *Registry) Register(name string, f Factory) {
	if r.factories == nil {
		r.factories = map[string]Factory{}
	}
	r.factories[name] = f
}

// Resolve builds a regressor for name or fails if the backend is unknown.
func (r *Registry) Resolve(name string, params map[string]float64, seed int64) (Regressor, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("model backend %s is not registered (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return f(params, seed)
}

// Names lists registered backends.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// checkMatrix verifies X is rectangular, finite and matches y.
func checkMatrix(X [][]float64, y []float64) (int, error) {
	if len(X) == 0 {
		return 0, fmt.Errorf("empty training matrix")
	}
	if y != nil && len(y) != len(X) {
		return 0, fmt.Errorf("matrix has %d rows but target has %d", len(X), len(y))
	}
	width := len(X[0])
	for i, row := range X {
		if len(row) != width {
			return 0, fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, fmt.Errorf("row %d feature %d is not finite", i, j)
			}
		}
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("target %d is not finite", i)
		}
	}
	return width, nil
}

func param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}
