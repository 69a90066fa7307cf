package scenes

import (
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sightline.report/internal/vision/detect"
	"github.com/banshee-data/sightline.report/internal/vision/tracks"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func settled(id int64, class string, x, y float64, since time.Time) tracks.TrackedObject {
	return tracks.TrackedObject{
		ID:                  id,
		Type:                class,
		Center:              detect.Point{X: x, Y: y},
		Box:                 detect.BoundingBox{X: x - 20, Y: y - 15, Width: 40, Height: 30},
		IsStationary:        true,
		StationarySince:     since,
		WasPresentLastFrame: true,
	}
}

// ---------------------------------------------------------------------------
// Sampling
// ---------------------------------------------------------------------------

func TestImageSampler_SampleColor(t *testing.T) {
	t.Parallel()

	img := solid(20, 20, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	draw.Draw(img, image.Rect(10, 0, 20, 20), &image.Uniform{C: color.RGBA{A: 255}}, image.Point{}, draw.Src)

	s := ImageSampler{}
	assert.Equal(t, color.RGBA{R: 200, G: 100, B: 50, A: 255}, s.SampleColor(img, image.Rect(0, 0, 10, 20)))
	assert.Equal(t, color.RGBA{R: 100, G: 50, B: 25, A: 255}, s.SampleColor(img, image.Rect(0, 0, 20, 20)))
	assert.Equal(t, color.RGBA{R: 200, G: 100, B: 50, A: 255}, s.SampleColor(img, image.Rect(-50, -50, 10, 20)), "clamped to frame")
	assert.Equal(t, color.RGBA{}, s.SampleColor(img, image.Rect(30, 30, 40, 40)))
	assert.Equal(t, color.RGBA{}, s.SampleColor(nil, image.Rect(0, 0, 1, 1)))
}

func TestOrientation(t *testing.T) {
	t.Parallel()

	white := &image.Uniform{C: color.White}

	horizontal := solid(20, 20, color.RGBA{A: 255})
	draw.Draw(horizontal, image.Rect(0, 9, 20, 11), white, image.Point{}, draw.Src)
	assert.InDelta(t, 0, Orientation(horizontal, horizontal.Bounds()), 1e-6)

	vertical := solid(20, 20, color.RGBA{A: 255})
	draw.Draw(vertical, image.Rect(9, 0, 11, 20), white, image.Point{}, draw.Src)
	assert.InDelta(t, 90, Orientation(vertical, vertical.Bounds()), 1e-6)

	diagonal := solid(20, 20, color.RGBA{A: 255})
	for i := 0; i < 20; i++ {
		diagonal.Set(i, i, color.White)
	}
	assert.InDelta(t, 45, Orientation(diagonal, diagonal.Bounds()), 1e-6)

	black := solid(10, 10, color.RGBA{A: 255})
	assert.Zero(t, Orientation(black, black.Bounds()))
	assert.Zero(t, Orientation(nil, image.Rect(0, 0, 5, 5)))
}

// ---------------------------------------------------------------------------
// Builder
// ---------------------------------------------------------------------------

func TestBuilder_UsesOnlyPresentStationaryObjects(t *testing.T) {
	t.Parallel()

	frame := solid(640, 480, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	moving := settled(3, "person", 500, 400, t0)
	moving.IsStationary = false
	gone := settled(4, "dog", 50, 50, t0)
	gone.WasPresentLastFrame = false

	b := NewBuilder(100)
	fp := b.Build(frame, []tracks.TrackedObject{
		settled(1, "car", 100, 100, t0),
		settled(2, "car", 300, 200, t0),
		moving,
		gone,
	})

	require.Len(t, fp.Objects, 2)
	assert.Equal(t, map[string]int{"car": 2}, fp.TypeCounts)
	assert.Equal(t, 640, fp.FrameWidth)
	assert.Equal(t, 480, fp.FrameHeight)
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, fp.Objects[0].Color)
	assert.Equal(t, 40.0, fp.Objects[0].Width)
	assert.Equal(t, 30.0, fp.Objects[0].Height)
	assert.Len(t, fp.Relationships, 1)
}

type recordingSampler struct{ rects []image.Rectangle }

func (r *recordingSampler) SampleColor(_ image.Image, rect image.Rectangle) color.RGBA {
	r.rects = append(r.rects, rect)
	return color.RGBA{}
}

func TestBuilder_FallsBackToDefaultROI(t *testing.T) {
	t.Parallel()

	frame := solid(640, 480, color.RGBA{A: 255})
	rec := &recordingSampler{}
	b := &Builder{Sampler: rec, DefaultROISize: 100}

	offFrame := settled(1, "car", 320, 240, t0)
	offFrame.Box = detect.BoundingBox{X: 1000, Y: 1000, Width: 10, Height: 10}
	edge := settled(2, "car", 10, 10, t0)
	edge.Box = detect.BoundingBox{}

	b.Build(frame, []tracks.TrackedObject{offFrame, edge})
	require.Len(t, rec.rects, 2)
	assert.Equal(t, image.Rect(270, 190, 370, 290), rec.rects[0])
	assert.Equal(t, image.Rect(0, 0, 60, 60), rec.rects[1])
}

// ---------------------------------------------------------------------------
// AnalysisTrigger
// ---------------------------------------------------------------------------

func TestAnalysisTrigger(t *testing.T) {
	t.Parallel()

	interval := time.Minute
	now := t0.Add(10 * time.Minute)

	tests := []struct {
		name    string
		objects []tracks.TrackedObject
		want    bool
	}{
		{"no objects", nil, false},
		{"all settled", []tracks.TrackedObject{settled(1, "car", 1, 1, now.Add(-2 * time.Minute)), settled(2, "car", 9, 9, now.Add(-time.Minute))}, true},
		{"one settled too recently", []tracks.TrackedObject{settled(1, "car", 1, 1, now.Add(-2 * time.Minute)), settled(2, "car", 9, 9, now.Add(-59 * time.Second))}, false},
		{"one moving", []tracks.TrackedObject{settled(1, "car", 1, 1, t0), func() tracks.TrackedObject {
			o := settled(2, "car", 9, 9, t0)
			o.IsStationary = false
			return o
		}()}, false},
		{"absent objects ignored", []tracks.TrackedObject{settled(1, "car", 1, 1, t0), func() tracks.TrackedObject {
			o := settled(2, "car", 9, 9, now)
			o.IsStationary = false
			o.WasPresentLastFrame = false
			return o
		}()}, true},
		{"only absent objects", []tracks.TrackedObject{func() tracks.TrackedObject {
			o := settled(1, "car", 1, 1, t0)
			o.WasPresentLastFrame = false
			return o
		}()}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trig := NewAnalysisTrigger(interval)
			assert.Equal(t, tt.want, trig.ShouldAnalyze(tt.objects, now))
		})
	}
}

func TestAnalysisTrigger_RespectsInterval(t *testing.T) {
	t.Parallel()

	trig := NewAnalysisTrigger(time.Minute)
	objs := []tracks.TrackedObject{settled(1, "car", 1, 1, t0)}
	now := t0.Add(5 * time.Minute)

	require.True(t, trig.ShouldAnalyze(objs, now))
	trig.MarkAnalyzed(now)
	assert.Equal(t, now, trig.LastAnalysis())
	assert.False(t, trig.ShouldAnalyze(objs, now.Add(59*time.Second)))
	assert.True(t, trig.ShouldAnalyze(objs, now.Add(time.Minute)))
}
