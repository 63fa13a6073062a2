package model

import (
	"fmt"
	"math"
)

// Target transforms applied before fitting and inverted at prediction time.
const (
	TransformRaw   = "raw"
	TransformLog1p = "log1p"
)

// ValidateTransform rejects anything but the supported transforms.
func ValidateTransform(name string) error {
	switch name {
	case TransformRaw, TransformLog1p:
		return nil
	case "":
		return fmt.Errorf("target transform is not configured (want %s or %s)", TransformRaw, TransformLog1p)
	default:
		return fmt.Errorf("unknown target transform %q (want %s or %s)", name, TransformRaw, TransformLog1p)
	}
}

// Forward maps targets into the space the regressor is fit in.
func Forward(name string, y []float64) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		if name == TransformLog1p {
			out[i] = math.Log1p(math.Max(v, 0))
		} else {
			out[i] = v
		}
	}
	return out
}

// Inverse maps predictions back to views per day, clamped at zero.
func Inverse(name string, p []float64) []float64 {
	out := make([]float64, len(p))
	for i, v := range p {
		if name == TransformLog1p {
			v = math.Expm1(v)
		}
		out[i] = math.Max(v, 0)
	}
	return out
}
