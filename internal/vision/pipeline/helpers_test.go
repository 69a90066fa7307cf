package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sightline.report/internal/monitoring"
	"github.com/banshee-data/sightline.report/internal/timeutil"
	"github.com/banshee-data/sightline.report/internal/vision/detect"
	"github.com/banshee-data/sightline.report/internal/vision/savepolicy"
	"github.com/banshee-data/sightline.report/internal/vision/scenes"
	"github.com/banshee-data/sightline.report/internal/vision/tracks"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		QueueCapacity:       10,
		WorkerCount:         1,
		TrackingLockTimeout: 50 * time.Millisecond,
		DrainOnShutdown:     true,
		MaxTypes:            50,
	}
}

func car(x, y float64) detect.Detection {
	return detect.Detection{Class: "car", Confidence: 0.9, Box: detect.BoundingBox{X: x - 20, Y: y - 15, Width: 40, Height: 30}}
}

func person(x, y float64) detect.Detection {
	return detect.Detection{Class: "person", Confidence: 0.8, Box: detect.BoundingBox{X: x - 10, Y: y - 25, Width: 20, Height: 50}}
}

// replay builds a ReplayDetector serving frames in order.
func replay(t *testing.T, frames ...[]detect.Detection) *detect.ReplayDetector {
	t.Helper()
	var buf bytes.Buffer
	for _, f := range frames {
		if f == nil {
			f = []detect.Detection{}
		}
		line, err := json.Marshal(f)
		require.NoError(t, err)
		buf.Write(line)
		buf.WriteByte('\n')
	}
	d, err := detect.NewReplayDetector(&buf)
	require.NoError(t, err)
	return d
}

type recordingSaves struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (r *recordingSaves) Save(_ context.Context, f Frame, _ []detect.Detection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recordingSaves) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []tracks.Event
}

func (r *recordingEvents) OnTrackingEvents(evs []tracks.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evs...)
}

type recordingScenes struct {
	mu     sync.Mutex
	events []scenes.Event
}

func (r *recordingScenes) OnSceneEvent(ev scenes.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type fixedAdvisor struct{ level monitoring.Level }

func (a fixedAdvisor) Advisory() monitoring.Advisory {
	return monitoring.Advisory{Level: a.level, Reasons: []string{"test"}}
}

type harness struct {
	proc   *Processor
	saves  *recordingSaves
	events *recordingEvents
	scenes *recordingScenes
	clock  *timeutil.MockClock
}

func newHarness(t *testing.T, det detect.Detector, mutate func(*Components)) *harness {
	t.Helper()
	h := &harness{
		saves:  &recordingSaves{},
		events: &recordingEvents{},
		scenes: &recordingScenes{},
		clock:  timeutil.NewMockClock(t0),
	}
	c := Components{
		Detector: det,
		Filter:   detect.NewFilter([]string{"car", "person"}, 0.5),
		Tracker:  tracks.NewTracker(tracks.DefaultTrackerConfig()),
		Policy: savepolicy.NewPolicy(savepolicy.Config{
			MinSaveInterval:   10 * time.Second,
			StationaryTimeout: 120 * time.Second,
			MaxTypes:          50,
		}),
		Trigger: scenes.NewAnalysisTrigger(time.Minute),
		Events:  h.events,
		Saves:   h.saves,
		Scenes:  h.scenes,
		Perf:    monitoring.NewPerformanceMonitor(monitoring.PerfConfig{CounterCeiling: 1000000, CounterResetValue: 100, MaxTypeEntries: 50, FPSWindow: 10 * time.Second}, h.clock),
		Clock:   h.clock,
	}
	if mutate != nil {
		mutate(&c)
	}
	proc, err := NewProcessor(testConfig(), c)
	require.NoError(t, err)
	h.proc = proc
	return h
}

// frameAt returns frame seq captured seq seconds after t0.
func frameAt(seq int) Frame {
	return NewFrame(uint64(seq), BlankImage(640, 480), t0.Add(time.Duration(seq)*time.Second))
}

var errBoom = errors.New("boom")

// blockingSaves holds every Save until release is closed.
type blockingSaves struct {
	recordingSaves
	entered chan struct{}
	release chan struct{}
}

func newBlockingSaves() *blockingSaves {
	return &blockingSaves{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingSaves) Save(ctx context.Context, f Frame, dets []detect.Detection) error {
	b.entered <- struct{}{}
	<-b.release
	return b.recordingSaves.Save(ctx, f, dets)
}

// slowSaves sleeps for delay on every Save.
type slowSaves struct {
	recordingSaves
	delay time.Duration
}

func (s *slowSaves) Save(ctx context.Context, f Frame, dets []detect.Detection) error {
	time.Sleep(s.delay)
	return s.recordingSaves.Save(ctx, f, dets)
}
