package memory

import "math"

// CosineSimilarity returns dot(a,b)/(|a||b|) computed in float64. It is 0
// for empty vectors, zero magnitude or mismatched lengths.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / math.Sqrt(normA*normB)
	// Rounding can push parallel vectors just past the bounds
	return math.Max(-1, math.Min(1, sim))
}
