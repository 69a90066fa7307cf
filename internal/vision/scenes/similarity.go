package scenes

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Component weights of the similarity score.
const (
	TypeWeight         = 0.4
	SpatialWeight      = 0.4
	RelationshipWeight = 0.2
)

// DefaultRelationshipTolerance is the relative distance difference under
// which two rank-paired relationships agree.
const DefaultRelationshipTolerance = 0.2

// Similarity scores two fingerprints in [0, 1]. It is symmetric.
func Similarity(a, b Fingerprint) float64 {
	return SimilarityWithTolerance(a, b, DefaultRelationshipTolerance)
}

// SimilarityWithTolerance is Similarity with an explicit relationship
// tolerance.
func SimilarityWithTolerance(a, b Fingerprint, tolerance float64) float64 {
	return TypeWeight*TypeSimilarity(a.TypeCounts, b.TypeCounts) +
		SpatialWeight*SpatialSimilarity(a.Histogram, b.Histogram) +
		RelationshipWeight*RelationshipSimilarity(a.Relationships, b.Relationships, tolerance)
}

// TypeSimilarity averages min/max count ratios over the union of types.
// Ratios are summed in type-name order so the result is independent of
// argument order and map iteration.
func TypeSimilarity(a, b map[string]int) float64 {
	union := make([]string, 0, len(a)+len(b))
	for t := range a {
		union = append(union, t)
	}
	for t := range b {
		if _, ok := a[t]; !ok {
			union = append(union, t)
		}
	}
	if len(union) == 0 {
		return 1
	}
	sort.Strings(union)

	var total float64
	for _, t := range union {
		ca, cb := float64(a[t]), float64(b[t])
		hi := math.Max(ca, cb)
		if hi == 0 {
			total++
			continue
		}
		total += math.Min(ca, cb) / hi
	}
	return total / float64(len(union))
}

// SpatialSimilarity is the Pearson correlation of the two histograms,
// clamped to [0, 1]. A flat histogram has no correlation, so it scores 1
// only against an identical histogram.
func SpatialSimilarity(a, b Histogram) float64 {
	fa, fb := a.Flat(), b.Flat()
	if flat(fa) || flat(fb) {
		if floats.Equal(fa, fb) {
			return 1
		}
		return 0
	}
	r := stat.Correlation(fa, fb, nil)
	if math.IsNaN(r) || r < 0 {
		return 0
	}
	return math.Min(r, 1)
}

func flat(v []float64) bool {
	return floats.Max(v) == floats.Min(v)
}

// RelationshipSimilarity pairs relationships by distance rank and returns
// the share of pairs whose distances agree within tolerance.
func RelationshipSimilarity(a, b []Relationship, tolerance float64) float64 {
	switch {
	case len(a) == 0 && len(b) == 0:
		return 1
	case len(a) == 0 || len(b) == 0:
		return 0
	}

	da, db := sortedDistances(a), sortedDistances(b)
	n := min(len(da), len(db))
	agree := 0
	for i := 0; i < n; i++ {
		hi := math.Max(da[i], db[i])
		if math.Abs(da[i]-db[i]) <= tolerance*hi {
			agree++
		}
	}
	return float64(agree) / float64(max(len(da), len(db)))
}

func sortedDistances(rels []Relationship) []float64 {
	out := make([]float64, len(rels))
	for i, r := range rels {
		out[i] = r.Distance
	}
	sort.Float64s(out)
	return out
}
