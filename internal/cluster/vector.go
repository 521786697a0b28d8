package cluster

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Cosine returns the cosine similarity of two vectors, 0 if either has zero
// norm or the lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
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

// CosineDistance is 1 - cosine similarity.
func CosineDistance(a, b []float64) float64 {
	return 1 - Cosine(a, b)
}

// Mean returns the element-wise mean of the given vectors. With no vectors
// it returns a zero vector of the given dimension — the documented fallback
// for users with no embedded values.
func Mean(vectors [][]float64, dim int) []float64 {
	mean := make([]float64, dim)
	if len(vectors) == 0 {
		return mean
	}
	n := 0
	for _, v := range vectors {
		if len(v) != dim {
			continue
		}
		for i, f := range v {
			mean[i] += f
		}
		n++
	}
	if n == 0 {
		return mean
	}
	for i := range mean {
		mean[i] /= float64(n)
	}
	return mean
}

// ParseVector parses a pgvector literal like "[0.1,0.2,0.3]" into []float64.
func ParseVector(s string) ([]float64, error) {
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("invalid vector format")
	}

	s = s[1 : len(s)-1]
	if s == "" {
		return []float64{}, nil
	}

	parts := strings.Split(s, ",")
	result := make([]float64, len(parts))
	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("parse float %q: %w", part, err)
		}
		result[i] = val
	}
	return result, nil
}

// FormatVector formats a float64 slice as a pgvector-compatible string
// literal, e.g. "[0.1,0.2,0.3]", suitable for a parameterized query
// targeting a vector column.
func FormatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = fmt.Sprintf("%g", f)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
