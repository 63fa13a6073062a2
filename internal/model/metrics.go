package model

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MAE is the mean absolute error; nil when there is nothing to compare.
func MAE(pred, actual []float64) *float64 {
	if len(pred) == 0 || len(pred) != len(actual) {
		return nil
	}
	var sum float64
	for i := range pred {
		sum += math.Abs(pred[i] - actual[i])
	}
	v := sum / float64(len(pred))
	return &v
}

// R2 is the coefficient of determination; nil when undefined (fewer than two
// rows or a constant target).
func R2(pred, actual []float64) *float64 {
	if len(pred) < 2 || len(pred) != len(actual) {
		return nil
	}
	v := stat.RSquaredFrom(pred, actual, nil)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
