package memory

import (
	"fmt"
	"math"
)

// Cosine returns dot(a,b) / (|a|*|b|), or 0 when either vector is zero.
// Vectors of different length are a programmer error and panic.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		panic(fmt.Sprintf("memory: cosine of vectors with different dimensions (%d vs %d)", len(a), len(b)))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
