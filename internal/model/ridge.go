package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// RidgeName is the registry name of the linear backend.
const RidgeName = "ridge"

// Ridge is an L2-regularised linear regressor fit in closed form on standardised features.
// The intercept is not penalised.
type Ridge struct {
	Lambda    float64   `json:"lambda"`
	Intercept float64   `json:"intercept"`
	Coef      []float64 `json:"coef"`
	Mean      []float64 `json:"mean"`
	Scale     []float64 `json:"scale"`
}

var _ Regressor = (*Ridge)(nil)

// NewRidgeFromParams reads "lambda" (default 1). The seed is unused; the fit is deterministic.
func NewRidgeFromParams(params map[string]float64, _ int64) (Regressor, error) {
	lambda := param(params, "lambda", 1)
	if lambda < 0 || math.IsNaN(lambda) {
		return nil, fmt.Errorf("ridge: lambda must be >= 0, got %v", lambda)
	}
	return &Ridge{Lambda: lambda}, nil
}

func (r *Ridge) Name() string { return RidgeName }

func (r *Ridge) Params() map[string]float64 {
	return map[string]float64{"lambda": r.Lambda}
}

func (r *Ridge) Fit(X [][]float64, y []float64) error {
	p, err := checkMatrix(X, y)
	if err != nil {
		return fmt.Errorf("ridge: %w", err)
	}
	n := len(X)

	r.Mean = make([]float64, p)
	r.Scale = make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		r.Mean[j] = stat.Mean(col, nil)
		sd := math.Sqrt(stat.PopVariance(col, nil))
		if sd < 1e-12 || math.IsNaN(sd) {
			sd = 1
		}
		r.Scale[j] = sd
	}

	yMean := stat.Mean(y, nil)
	r.Coef = make([]float64, p)
	r.Intercept = yMean
	if p == 0 {
		return nil
	}

	z := mat.NewDense(n, p, nil)
	yc := mat.NewVecDense(n, nil)
	for i := range X {
		for j := 0; j < p; j++ {
			z.Set(i, j, (X[i][j]-r.Mean[j])/r.Scale[j])
		}
		yc.SetVec(i, y[i]-yMean)
	}

	gram := mat.NewSymDense(p, nil)
	gram.SymOuterK(1, z.T())
	for j := 0; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+r.Lambda)
	}
	rhs := mat.NewVecDense(p, nil)
	rhs.MulVec(z.T(), yc)

	w := mat.NewVecDense(p, nil)
	var chol mat.Cholesky
	if chol.Factorize(gram) {
		if err := chol.SolveVecTo(w, rhs); err != nil {
			return fmt.Errorf("ridge: solve: %w", err)
		}
	} else if err := w.SolveVec(gram, rhs); err != nil {
		return fmt.Errorf("ridge: normal equations are singular (lambda=%v): %w", r.Lambda, err)
	}

	for j := 0; j < p; j++ {
		r.Coef[j] = w.AtVec(j) / r.Scale[j]
		r.Intercept -= r.Coef[j] * r.Mean[j]
	}
	return nil
}

func (r *Ridge) Predict(X [][]float64) ([]float64, error) {
	if r.Coef == nil {
		return nil, fmt.Errorf("ridge: model is not fitted")
	}
	out := make([]float64, len(X))
	for i, row := range X {
		if len(row) != len(r.Coef) {
			return nil, fmt.Errorf("ridge: row %d has %d features, want %d", i, len(row), len(r.Coef))
		}
		v := r.Intercept
		for j, x := range row {
			v += r.Coef[j] * x
		}
		out[i] = v
	}
	return out, nil
}
