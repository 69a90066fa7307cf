package scenes

import (
	"image"
	"math"
	"time"

	"github.com/banshee-data/sightline.report/internal/config"
	"github.com/banshee-data/sightline.report/internal/vision/tracks"
)

// Builder turns a tracker snapshot and the current frame into a Fingerprint.
type Builder struct {
	Sampler        ColorSampler
	DefaultROISize int // Side of the box sampled when an object's box is empty
}

// NewBuilder returns a Builder using ImageSampler.
func NewBuilder(defaultROISize int) *Builder {
	return &Builder{Sampler: ImageSampler{}, DefaultROISize: defaultROISize}
}

// Build fingerprints the present stationary objects in objects.
func (b *Builder) Build(frame image.Image, objects []tracks.TrackedObject) Fingerprint {
	var width, height int
	if frame != nil {
		width, height = frame.Bounds().Dx(), frame.Bounds().Dy()
	}
	sampler := b.Sampler
	if sampler == nil {
		sampler = ImageSampler{}
	}

	features := make([]ObjectFeature, 0, len(objects))
	for _, o := range objects {
		if !o.WasPresentLastFrame || !o.IsStationary {
			continue
		}
		roi := b.roi(frame, o)
		features = append(features, ObjectFeature{
			Type:        o.Type,
			Position:    o.Center,
			Color:       sampler.SampleColor(frame, roi),
			Width:       o.Box.Width,
			Height:      o.Box.Height,
			Orientation: Orientation(frame, roi),
		})
	}
	return NewFingerprint(features, width, height)
}

// roi clamps the object's box to the frame, falling back to a default
// square around the center when nothing is left.
func (b *Builder) roi(frame image.Image, o tracks.TrackedObject) image.Rectangle {
	if frame == nil {
		return image.Rectangle{}
	}
	bounds := frame.Bounds()
	r := o.Box.Rect().Intersect(bounds)
	if !r.Empty() {
		return r
	}
	half := b.DefaultROISize / 2
	if half < 1 {
		half = 1
	}
	cx, cy := int(math.Round(o.Center.X)), int(math.Round(o.Center.Y))
	return image.Rect(cx-half, cy-half, cx+half, cy+half).Intersect(bounds)
}

// AnalysisTrigger decides when a scene has been settled long enough to
// fingerprint. It holds no lock; callers serialise access with the tracking
// state it observes.
type AnalysisTrigger struct {
	Interval time.Duration

	lastAnalysis time.Time
}

// NewAnalysisTrigger creates a trigger firing at most once per interval.
func NewAnalysisTrigger(interval time.Duration) *AnalysisTrigger {
	return &AnalysisTrigger{Interval: interval}
}

// TriggerFromTuning builds an AnalysisTrigger from a loaded TuningConfig.
func TriggerFromTuning(cfg *config.TuningConfig) *AnalysisTrigger {
	return NewAnalysisTrigger(cfg.GetSceneAnalysisInterval())
}

// ShouldAnalyze reports whether every present object has been stationary for
// at least Interval and the previous analysis is at least Interval old.
func (t *AnalysisTrigger) ShouldAnalyze(objects []tracks.TrackedObject, now time.Time) bool {
	if !t.lastAnalysis.IsZero() && now.Sub(t.lastAnalysis) < t.Interval {
		return false
	}
	present := 0
	for _, o := range objects {
		if !o.WasPresentLastFrame {
			continue
		}
		present++
		if !o.IsStationary || o.StationaryFor(now) < t.Interval {
			return false
		}
	}
	return present > 0
}

// MarkAnalyzed records an analysis pass at now.
func (t *AnalysisTrigger) MarkAnalyzed(now time.Time) {
	t.lastAnalysis = now
}

// LastAnalysis returns the time of the previous pass, or zero.
func (t *AnalysisTrigger) LastAnalysis() time.Time { return t.lastAnalysis }
