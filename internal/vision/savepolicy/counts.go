package savepolicy

import (
	"sort"

	"github.com/banshee-data/sightline.report/internal/vision/detect"
)

// DefaultMaxTypes bounds the number of distinct types a TypeCounts holds.
const DefaultMaxTypes = 50

// TypeCounts maps an object type to how many were seen in one frame.
type TypeCounts map[string]int

// CountDetections tallies dets by class. Once maxTypes distinct classes are
// present, further new classes are ignored. maxTypes <= 0 means
// DefaultMaxTypes.
func CountDetections(dets []detect.Detection, maxTypes int) TypeCounts {
	if maxTypes <= 0 {
		maxTypes = DefaultMaxTypes
	}
	counts := make(TypeCounts)
	for _, d := range dets {
		if _, ok := counts[d.Class]; !ok && len(counts) >= maxTypes {
			continue
		}
		counts[d.Class]++
	}
	return counts
}

// Types returns the type names in sorted order.
func (c TypeCounts) Types() []string {
	out := make([]string, 0, len(c))
	for t := range c {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Total returns the sum of all counts.
func (c TypeCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Clone returns an independent copy.
func (c TypeCounts) Clone() TypeCounts {
	out := make(TypeCounts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// HasNovelty reports whether current holds a type absent from previous or a
// type whose count went up. Decreases are not novel.
func (c TypeCounts) HasNovelty(previous TypeCounts) bool {
	for t, n := range c {
		prev, ok := previous[t]
		if !ok || n > prev {
			return true
		}
	}
	return false
}
