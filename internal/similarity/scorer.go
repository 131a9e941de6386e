package similarity

import (
	"hivemind/internal/types"
)

// Scorer measures overlap between two identifier sets. Implementations must
// return a value in [0,1], 1 for identical non-empty sets and 0 for
// disjoint or empty sets.
type Scorer interface {
	Score(a, b []string) float64
}

// ScorerFunc adapts a plain function to the Scorer interface.
type ScorerFunc func(a, b []string) float64

// Score calls f(a, b).
func (f ScorerFunc) Score(a, b []string) float64 { return f(a, b) }

// Jaccard is |A∩B| / |A∪B| over normalized identifiers.
type Jaccard struct{}

// Score implements Scorer.
func (Jaccard) Score(a, b []string) float64 {
	setA := types.NormalizeSet(a)
	setB := types.NormalizeSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	inA := make(map[string]struct{}, len(setA))
	for _, s := range setA {
		inA[s] = struct{}{}
	}
	shared := 0
	for _, s := range setB {
		if _, ok := inA[s]; ok {
			shared++
		}
	}
	union := len(setA) + len(setB) - shared
	return float64(shared) / float64(union)
}

// Intersect returns the sorted normalized identifiers present in both sets.
func Intersect(a, b []string) []string {
	setB := make(map[string]struct{})
	for _, s := range types.NormalizeSet(b) {
		setB[s] = struct{}{}
	}
	var out []string
	for _, s := range types.NormalizeSet(a) {
		if _, ok := setB[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
