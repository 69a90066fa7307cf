package tracks

import (
	"time"

	"github.com/banshee-data/sightline.report/internal/vision/detect"
)

// TrackedObject is the engine's identity for one object across frames.
type TrackedObject struct {
	ID             int64
	Type           string
	Center         detect.Point
	PreviousCenter detect.Point
	Box            detect.BoundingBox // Most recent matched box
	Confidence     float64

	FramesSinceLastSeen int
	IsNew               bool // True only in the frame the object was created
	IsStationary        bool
	StationarySince     time.Time // Zero unless IsStationary
	WasPresentLastFrame bool

	FirstSeen time.Time
	LastSeen  time.Time

	history positionHistory
}

// History returns the retained centers, oldest first.
func (o *TrackedObject) History() []detect.Point {
	return o.history.points()
}

// HistoryLen returns the number of retained centers.
func (o *TrackedObject) HistoryLen() int {
	return o.history.size()
}

// StationaryFor returns how long the object has been stationary at now, or
// zero when it is moving.
func (o *TrackedObject) StationaryFor(now time.Time) time.Duration {
	if !o.IsStationary || o.StationarySince.IsZero() {
		return 0
	}
	return now.Sub(o.StationarySince)
}

// clone returns a deep copy safe to hand to other goroutines.
func (o *TrackedObject) clone() TrackedObject {
	c := *o
	c.history = o.history.clone()
	return c
}

// updateStationary recomputes the stationary flag from the position history.
// An object that stays within threshold keeps its original StationarySince.
func (o *TrackedObject) updateStationary(threshold float64, now time.Time) {
	if o.history.size() < 3 {
		o.IsStationary = false
		o.StationarySince = time.Time{}
		return
	}
	mean := o.history.meanStep()
	switch {
	case mean <= threshold && !o.IsStationary:
		o.IsStationary = true
		o.StationarySince = now
	case mean > threshold && o.IsStationary:
		o.IsStationary = false
		o.StationarySince = time.Time{}
	}
}
