package scenes

import (
	"fmt"
	"image/color"
	"math"
	"sort"
	"strings"

	"github.com/banshee-data/sightline.report/internal/vision/detect"
)

// GridSize is the side of the spatial histogram.
const GridSize = 4

// Histogram is the normalised object occupancy of a GridSize x GridSize
// grid laid over the frame, indexed [row][col].
type Histogram [GridSize][GridSize]float64

// Flat returns the cells in row-major order.
func (h Histogram) Flat() []float64 {
	out := make([]float64, 0, GridSize*GridSize)
	for r := 0; r < GridSize; r++ {
		out = append(out, h[r][:]...)
	}
	return out
}

// ObjectFeature describes one stationary object within a fingerprint.
type ObjectFeature struct {
	Type        string       `json:"type"`
	Position    detect.Point `json:"position"`
	Color       color.RGBA   `json:"color"`
	Width       float64      `json:"width"`
	Height      float64      `json:"height"`
	Orientation float64      `json:"orientation"` // degrees
}

// Relationship is the geometry between objects I and J, I < J.
type Relationship struct {
	I        int     `json:"i"`
	J        int     `json:"j"`
	Distance float64 `json:"distance"`
	Angle    float64 `json:"angle"` // degrees, atan2(dy, dx)
}

// Fingerprint is the comparable summary of a scene. It is a value and is
// never modified after NewFingerprint returns it.
type Fingerprint struct {
	Objects       []ObjectFeature `json:"objects"`
	TypeCounts    map[string]int  `json:"type_counts"`
	Histogram     Histogram       `json:"spatial_histogram"`
	Relationships []Relationship  `json:"relationships"`
	FrameWidth    int             `json:"frame_width"`
	FrameHeight   int             `json:"frame_height"`
}

// NewFingerprint derives the counts, histogram and relationships for
// objects observed in a width x height frame.
func NewFingerprint(objects []ObjectFeature, width, height int) Fingerprint {
	fp := Fingerprint{
		Objects:     append([]ObjectFeature(nil), objects...),
		TypeCounts:  make(map[string]int),
		FrameWidth:  width,
		FrameHeight: height,
	}

	for _, o := range objects {
		fp.TypeCounts[o.Type]++
		row := gridIndex(o.Position.Y, height)
		col := gridIndex(o.Position.X, width)
		fp.Histogram[row][col]++
	}
	if n := float64(len(objects)); n > 0 {
		for r := range fp.Histogram {
			for c := range fp.Histogram[r] {
				fp.Histogram[r][c] /= n
			}
		}
	}

	for i := 0; i < len(objects); i++ {
		for j := i + 1; j < len(objects); j++ {
			dx := objects[j].Position.X - objects[i].Position.X
			dy := objects[j].Position.Y - objects[i].Position.Y
			fp.Relationships = append(fp.Relationships, Relationship{
				I:        i,
				J:        j,
				Distance: math.Hypot(dx, dy),
				Angle:    math.Atan2(dy, dx) * 180 / math.Pi,
			})
		}
	}
	return fp
}

// gridIndex buckets v over [0, extent) and clamps to the grid.
func gridIndex(v float64, extent int) int {
	if extent <= 0 {
		return 0
	}
	idx := int(math.Floor(v / float64(extent) * GridSize))
	if idx < 0 {
		return 0
	}
	if idx > GridSize-1 {
		return GridSize - 1
	}
	return idx
}

// Describe renders type counts as "2x car, 1x person", types sorted by name.
func Describe(counts map[string]int) string {
	if len(counts) == 0 {
		return "empty scene"
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%dx %s", counts[t], t))
	}
	return strings.Join(parts, ", ")
}
