// Package similarity selects candidate chunk pairs by cosine similarity of their
// embeddings.
package similarity

import "math"

// DefaultThreshold is the minimum cosine similarity for a candidate pair.
const DefaultThreshold = 0.75

// Pair is an index pair (I into the first set, J into the second).
type Pair struct {
	I int
	J int
}

// Cosine returns dot(a,b) / (|a|*|b|). Mismatched, empty or zero vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Match returns every (i, j) with Cosine(a[i], b[j]) >= threshold in row-major
// order. Zero vectors never match, whatever the threshold.
func Match(a, b [][]float32, threshold float64) []Pair {
	normsA := norms(a)
	normsB := norms(b)

	var pairs []Pair
	for i, u := range a {
		if normsA[i] == 0 {
			continue
		}
		for j, v := range b {
			if normsB[j] == 0 || len(u) != len(v) {
				continue
			}
			var dot float64
			for k := range u {
				dot += float64(u[k]) * float64(v[k])
			}
			if dot/(normsA[i]*normsB[j]) >= threshold {
				pairs = append(pairs, Pair{I: i, J: j})
			}
		}
	}
	return pairs
}

func norms(vs [][]float32) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		out[i] = math.Sqrt(sum)
	}
	return out
}
