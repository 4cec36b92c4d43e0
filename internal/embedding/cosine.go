package embedding

import (
	"errors"
	"math"
)

// ErrDimensionMismatch is returned when two vectors of different length
// are compared. Callers treat it as a verification failure on the
// attempt, never as a reason to stop the decision loop.
var ErrDimensionMismatch = errors.New("embedding vectors have different dimensions")

// ErrZeroVector is returned when either vector has zero magnitude.
var ErrZeroVector = errors.New("embedding vector has zero magnitude")

// CosineSimilarity computes the cosine of the angle between two
// embedding vectors, in [-1, 1]. Higher means more similar.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	if len(a) == 0 {
		return 0, ErrZeroVector
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, ErrZeroVector
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
