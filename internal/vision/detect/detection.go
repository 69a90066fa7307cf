package detect

import (
	"context"
	"fmt"
	"image"
	"math"
)

// Point is a pixel-space position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// BoundingBox is an axis-aligned box in pixel space.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the box centroid.
func (b BoundingBox) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Rect converts the box to an integer image rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(b.X)), int(math.Floor(b.Y)),
		int(math.Ceil(b.X+b.Width)), int(math.Ceil(b.Y+b.Height)),
	)
}

// Detection is one model output for one object in one frame.
type Detection struct {
	Class      string      `json:"class"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"box"`
}

// Validate reports why a detection cannot be tracked, or nil.
func (d Detection) Validate() error {
	if d.Class == "" {
		return fmt.Errorf("empty class label")
	}
	for _, v := range []float64{d.Confidence, d.Box.X, d.Box.Y, d.Box.Width, d.Box.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s: non-finite value in detection", d.Class)
		}
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%s: confidence %.3f outside [0, 1]", d.Class, d.Confidence)
	}
	if d.Box.Width <= 0 || d.Box.Height <= 0 {
		return fmt.Errorf("%s: malformed bounding box %.1fx%.1f", d.Class, d.Box.Width, d.Box.Height)
	}
	return nil
}

// Detector is the external inference backend. Implementations are called
// once per queued frame and may block for an unspecified time.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]Detection, error)
}

// Capabilities is optionally implemented by a Detector to expose model
// specific switches. Callers discover it with a type assertion on the
// interface and never depend on a concrete backend type.
type Capabilities interface {
	Name() string
	SupportsGPU() bool
	SetGPU(enabled bool) error
}

// Describe names d and its acceleration for startup logs.
func Describe(d Detector) string {
	c, ok := d.(Capabilities)
	if !ok {
		return fmt.Sprintf("%T", d)
	}
	if c.SupportsGPU() {
		return c.Name() + " (gpu capable)"
	}
	return c.Name() + " (cpu only)"
}

// ConfigureGPU switches GPU execution on d. Asking for the GPU on a
// detector that cannot use one is an error and leaves it on the CPU.
func ConfigureGPU(d Detector, enabled bool) error {
	c, ok := d.(Capabilities)
	if !ok || !c.SupportsGPU() {
		if enabled {
			return fmt.Errorf("detector %s has no GPU support", Describe(d))
		}
		return nil
	}
	return c.SetGPU(enabled)
}
