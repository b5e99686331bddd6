// Package similarity scores how close two voice feature mappings are.
package similarity

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"voice-auth/internal/domain"
)

// MinNorm is the Euclidean norm below which a feature vector is treated as
// degenerate.
const MinNorm = 1e-8

// Score returns the cosine similarity of a and b restricted to the keys both
// mappings share, clamped to [0, 1]. Comparisons without shared keys or with a
// zero or near-zero vector score 0.
func Score(a, b domain.Features) float64 {
	keys := commonKeys(a, b)
	if len(keys) == 0 {
		return 0
	}

	va := make([]float64, len(keys))
	vb := make([]float64, len(keys))
	for i, k := range keys {
		va[i] = a[k]
		vb[i] = b[k]
	}

	na, ok := unit(va)
	if !ok {
		return 0
	}
	nb, ok := unit(vb)
	if !ok {
		return 0
	}

	sim := floats.Dot(na, nb)
	if math.IsNaN(sim) {
		return 0
	}
	return math.Max(0, math.Min(1, sim))
}

func commonKeys(a, b domain.Features) []string {
	if len(a) > len(b) {
		a, b = b, a
	}
	keys := make([]string, 0, len(a))
	for _, k := range a.Keys() {
		if _, ok := b[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// unit scales v to unit length in place. It reports false for all-zero,
// near-zero or non-finite vectors.
func unit(v []float64) ([]float64, bool) {
	maxAbs := 0.0
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, false
		}
		maxAbs = math.Max(maxAbs, math.Abs(x))
	}
	if maxAbs == 0 {
		return nil, false
	}

	// Pre-scale so the norm cannot overflow for very large components.
	for i := range v {
		v[i] /= maxAbs
	}
	norm := floats.Norm(v, 2)
	if norm*maxAbs < MinNorm {
		return nil, false
	}
	floats.Scale(1/norm, v)
	return v, true
}
