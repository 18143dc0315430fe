package authi

import (
	"fmt"
	"math"
)

// CosineSimilarity returns the cosine of the angle between a and b, accumulated
// in float64. Inputs are never modified.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, ErrZeroVector
	}
	var dot, na, nb float64
	for i := range a {
		fa := float64(a[i])
		fb := float64(b[i])
		dot += fa * fb
		na += fa * fa
		nb += fb * fb
	}
	if na == 0 || nb == 0 {
		return 0, ErrZeroVector
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, sim)), nil
}

// checkVector reports why v cannot be scored against vectors of length dim.
func checkVector(v []float32, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(v), dim)
	}
	for _, x := range v {
		if x != 0 {
			return nil
		}
	}
	return ErrZeroVector
}
