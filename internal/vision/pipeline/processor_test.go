package pipeline

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sightline.report/internal/monitoring"
	"github.com/banshee-data/sightline.report/internal/vision/detect"
	"github.com/banshee-data/sightline.report/internal/vision/scenes"
	"github.com/banshee-data/sightline.report/internal/vision/tracks"
)

// --------------------------------------------------------------------------
// Construction
// --------------------------------------------------------------------------

func TestNewProcessor_RequiresDetectorAndTracker(t *testing.T) {
	_, err := NewProcessor(testConfig(), Components{Tracker: tracks.NewTracker(tracks.DefaultTrackerConfig())})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detector")

	_, err = NewProcessor(testConfig(), Components{Detector: replay(t, nil)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracker")
}

func TestNewProcessor_FillsOptionalComponents(t *testing.T) {
	p, err := NewProcessor(Config{}, Components{
		Detector: replay(t, []detect.Detection{car(100, 100)}),
		Tracker:  tracks.NewTracker(tracks.DefaultTrackerConfig()),
	})
	require.NoError(t, err)

	require.NoError(t, p.Process(context.Background(), frameAt(0)))
	st := p.Stats()
	assert.Equal(t, int64(1), st.Processed)
	assert.Equal(t, int64(1), st.Saved, "a nil save sink still commits the decision")
	assert.Equal(t, 5*time.Second, p.cfg.TrackingLockTimeout)
}

// --------------------------------------------------------------------------
// Save decisions
// --------------------------------------------------------------------------

func TestProcess_SavesNoveltyThenRateLimits(t *testing.T) {
	h := newHarness(t, replay(t, []detect.Detection{car(100, 100)}), nil)
	ctx := context.Background()

	require.NoError(t, h.proc.Process(ctx, frameAt(0)))
	assert.Equal(t, 1, h.saves.count(), "first sighting is novel")

	require.NoError(t, h.proc.Process(ctx, frameAt(1)))
	require.NoError(t, h.proc.Process(ctx, frameAt(5)))
	assert.Equal(t, 1, h.saves.count(), "unchanged counts inside the interval are rate limited")

	require.NoError(t, h.proc.Process(ctx, frameAt(11)))
	assert.Equal(t, 2, h.saves.count(), "interval elapsed")

	state, err := h.proc.SaveState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.TotalImagesSaved)
	assert.Equal(t, t0.Add(11*time.Second), state.LastSavedTime)
	assert.Equal(t, 1, state.LastSavedCounts["car"])

	st := h.proc.Stats()
	assert.Equal(t, int64(4), st.Processed)
	assert.Equal(t, int64(2), st.Saved)
}

func TestProcess_SaveFailureIsNotCommitted(t *testing.T) {
	h := newHarness(t, replay(t, []detect.Detection{car(100, 100)}), nil)
	ctx := context.Background()

	h.saves.err = errBoom
	require.NoError(t, h.proc.Process(ctx, frameAt(0)), "save failures are absorbed")

	state, err := h.proc.SaveState(ctx)
	require.NoError(t, err)
	assert.Zero(t, state.TotalImagesSaved)
	assert.True(t, state.LastSavedTime.IsZero())
	assert.Equal(t, int64(1), h.proc.Stats().SaveFailures)

	// Nothing was committed, so the next frame is still novel.
	h.saves.err = nil
	require.NoError(t, h.proc.Process(ctx, frameAt(1)))
	assert.Equal(t, 1, h.saves.count())
	assert.Equal(t, int64(1), h.proc.Stats().Saved)
}

func TestProcess_SaveRunsOutsideTrackingLock(t *testing.T) {
	saves := newBlockingSaves()
	det := replay(t,
		[]detect.Detection{car(100, 100)},
		[]detect.Detection{car(100, 100), person(300, 200)},
		[]detect.Detection{car(100, 100), person(300, 200)},
	)
	h := newHarness(t, det, func(c *Components) { c.Saves = saves })
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- h.proc.Process(ctx, frameAt(0)) }()
	<-saves.entered

	// The write is in flight; tracking must still be available.
	require.NoError(t, h.proc.Process(ctx, frameAt(1)))
	objs, err := h.proc.TrackedObjects(ctx)
	require.NoError(t, err)
	assert.Len(t, objs, 2)

	state, err := h.proc.SaveState(ctx)
	require.NoError(t, err)
	assert.Zero(t, state.TotalImagesSaved, "nothing is committed before the write finishes")

	close(saves.release)
	require.NoError(t, <-first)

	assert.Equal(t, 1, saves.count(), "the novel frame seen mid-write does not start a second save")
	state, err = h.proc.SaveState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.TotalImagesSaved)
	assert.Equal(t, t0, state.LastSavedTime)
	assert.Equal(t, int64(2), h.proc.Stats().Processed)

	// The person was never saved, so the next frame is novel again.
	require.NoError(t, h.proc.Process(ctx, frameAt(2)))
	assert.Equal(t, 2, saves.count())
}

func TestProcess_FailedSaveReleasesReservation(t *testing.T) {
	h := newHarness(t, replay(t, []detect.Detection{car(100, 100)}), func(c *Components) {
		c.Advisor = fixedAdvisor{level: monitoring.LevelCritical}
	})
	ctx := context.Background()
	require.NoError(t, h.proc.Process(ctx, frameAt(0)))

	h.proc.c.Advisor = nil
	require.NoError(t, h.proc.Process(ctx, frameAt(1)))
	assert.Equal(t, 1, h.saves.count(), "a vetoed save leaves no reservation behind")
}

func TestProcess_CriticalAdvisoryVetoesSave(t *testing.T) {
	h := newHarness(t, replay(t, []detect.Detection{car(100, 100)}), func(c *Components) {
		c.Advisor = fixedAdvisor{level: monitoring.LevelCritical}
	})
	require.NoError(t, h.proc.Process(context.Background(), frameAt(0)))

	assert.Zero(t, h.saves.count())
	st := h.proc.Stats()
	assert.Equal(t, int64(1), st.SavesVetoed)
	assert.Zero(t, st.Saved)
}

func TestProcess_WarningAdvisoryAllowsSave(t *testing.T) {
	h := newHarness(t, replay(t, []detect.Detection{car(100, 100)}), func(c *Components) {
		c.Advisor = fixedAdvisor{level: monitoring.LevelWarning}
	})
	require.NoError(t, h.proc.Process(context.Background(), frameAt(0)))
	assert.Equal(t, 1, h.saves.count())
}

func TestProcess_EmptyFrameNeverSaves(t *testing.T) {
	h := newHarness(t, replay(t, nil), nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, h.proc.Process(context.Background(), frameAt(i*20)))
	}
	assert.Zero(t, h.saves.count())
	assert.Equal(t, int64(3), h.proc.Stats().Processed)
}

func TestProcess_FilterDropsOffTargetClasses(t *testing.T) {
	dog := detect.Detection{Class: "dog", Confidence: 0.9, Box: detect.BoundingBox{X: 10, Y: 10, Width: 20, Height: 20}}
	faint := car(300, 300)
	faint.Confidence = 0.2
	h := newHarness(t, replay(t, []detect.Detection{dog, faint}), nil)

	require.NoError(t, h.proc.Process(context.Background(), frameAt(0)))
	objs, err := h.proc.TrackedObjects(context.Background())
	require.NoError(t, err)
	assert.Empty(t, objs)
	assert.Zero(t, h.saves.count())
}

// --------------------------------------------------------------------------
// Failure handling
// --------------------------------------------------------------------------

func TestProcess_DetectorErrorIsAbsorbed(t *testing.T) {
	det := replay(t, []detect.Detection{car(100, 100)})
	det.DetectError = errBoom
	h := newHarness(t, det, nil)

	require.NoError(t, h.proc.Process(context.Background(), frameAt(0)))
	st := h.proc.Stats()
	assert.Equal(t, int64(1), st.DetectErrors)
	assert.Zero(t, st.Processed)

	objs, err := h.proc.TrackedObjects(context.Background())
	require.NoError(t, err)
	assert.Empty(t, objs, "tracking state is untouched")
}

func TestProcess_TrackingLockTimeout(t *testing.T) {
	h := newHarness(t, replay(t, []detect.Detection{car(100, 100)}), nil)
	h.proc.trackLock <- struct{}{}

	err := h.proc.Process(context.Background(), frameAt(0))
	require.ErrorIs(t, err, ErrTrackingLockTimeout)

	_, err = h.proc.TrackedObjects(context.Background())
	require.ErrorIs(t, err, ErrTrackingLockTimeout)

	<-h.proc.trackLock
	require.NoError(t, h.proc.Process(context.Background(), frameAt(1)))
	assert.Equal(t, int64(1), h.proc.Stats().Processed)
}

func TestProcess_LockWaitHonoursContext(t *testing.T) {
	h := newHarness(t, replay(t, []detect.Detection{car(100, 100)}), nil)
	h.proc.cfg.TrackingLockTimeout = time.Hour
	h.proc.trackLock <- struct{}{}
	defer func() { <-h.proc.trackLock }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.proc.SaveState(ctx)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("lock wait ignored cancellation")
	}
}

// --------------------------------------------------------------------------
// Events, bursts and scenes
// --------------------------------------------------------------------------

func TestProcess_EmitsTrackingEvents(t *testing.T) {
	h := newHarness(t, replay(t,
		[]detect.Detection{car(100, 100), person(400, 300)},
		[]detect.Detection{car(110, 100), person(400, 300)},
	), nil)

	require.NoError(t, h.proc.Process(context.Background(), frameAt(0)))
	require.NoError(t, h.proc.Process(context.Background(), frameAt(1)))

	require.Len(t, h.events.events, 4)
	assert.Equal(t, tracks.EventEntered, h.events.events[0].Kind)
	assert.Equal(t, tracks.EventEntered, h.events.events[1].Kind)
	assert.Equal(t, tracks.EventMoved, h.events.events[2].Kind)
	assert.InDelta(t, 10, h.events.events[2].Distance, 1e-9)
}

func TestProcess_BurstFollowsActivity(t *testing.T) {
	h := newHarness(t, replay(t, []detect.Detection{car(100, 100)}), nil)
	ctx := context.Background()

	require.NoError(t, h.proc.Process(ctx, frameAt(0)))
	assert.True(t, h.proc.Stats().BurstActive, "a new object starts a burst")

	require.NoError(t, h.proc.Process(ctx, frameAt(1)))
	assert.True(t, h.proc.Stats().BurstActive, "still moving by history length")

	require.NoError(t, h.proc.Process(ctx, frameAt(2)))
	assert.False(t, h.proc.Stats().BurstActive, "everything settled")
}

func TestProcess_SceneAnalysisNewThenRecognized(t *testing.T) {
	store := scenes.NewMemoryStore()
	h := newHarness(t, replay(t, []detect.Detection{car(100, 100), person(400, 300)}), func(c *Components) {
		c.Matcher = scenes.NewMatcher(scenes.MatcherConfig{
			MatchThreshold:        0.75,
			RelationshipTolerance: 0.2,
			DefaultROISize:        50,
		}, store)
	})
	ctx := context.Background()

	// Objects settle at frame 20 and need a minute of stillness.
	for seq := 0; seq <= 70; seq += 10 {
		require.NoError(t, h.proc.Process(ctx, frameAt(seq)))
	}
	assert.Empty(t, h.scenes.events)

	require.NoError(t, h.proc.Process(ctx, frameAt(80)))
	require.Len(t, h.scenes.events, 1)
	first := h.scenes.events[0]
	assert.Equal(t, scenes.NewScene, first.Kind)
	assert.Equal(t, "1x car, 1x person", first.Description)

	for seq := 90; seq <= 130; seq += 10 {
		require.NoError(t, h.proc.Process(ctx, frameAt(seq)))
	}
	assert.Len(t, h.scenes.events, 1, "analysis waits for the interval")

	require.NoError(t, h.proc.Process(ctx, frameAt(140)))
	require.Len(t, h.scenes.events, 2)
	second := h.scenes.events[1]
	assert.Equal(t, scenes.RecognizedScene, second.Kind)
	assert.Equal(t, first.SceneID, second.SceneID)
	assert.InDelta(t, 1.0, second.Score, 1e-9)

	st := h.proc.Stats()
	assert.Equal(t, int64(1), st.ScenesNew)
	assert.Equal(t, int64(1), st.ScenesRecognized)
}

func TestProcess_NoMatcherSkipsAnalysis(t *testing.T) {
	h := newHarness(t, replay(t, []detect.Detection{car(100, 100)}), nil)
	for seq := 0; seq <= 200; seq += 10 {
		require.NoError(t, h.proc.Process(context.Background(), frameAt(seq)))
	}
	assert.Empty(t, h.scenes.events)
	assert.True(t, h.proc.c.Trigger.LastAnalysis().IsZero())
}

func TestProcess_RecordsPerformance(t *testing.T) {
	h := newHarness(t, replay(t, []detect.Detection{car(100, 100), person(300, 300)}), nil)
	require.NoError(t, h.proc.Process(context.Background(), frameAt(0)))

	snap := h.proc.c.Perf.Snapshot(5)
	assert.Equal(t, int64(1), snap.FramesProcessed)
	assert.Equal(t, int64(2), snap.ObjectsDetected)
}

// --------------------------------------------------------------------------
// Log sinks
// --------------------------------------------------------------------------

func TestLogEventSink_WritesNotableEvents(t *testing.T) {
	var diag bytes.Buffer
	SetLogWriters(LogWriters{Diag: &diag})
	defer SetLogWriters(LogWriters{})

	LogEventSink{}.OnTrackingEvents([]tracks.Event{
		{Kind: tracks.EventEntered, ObjectID: 1, Type: "car", Confidence: 0.9},
		{Kind: tracks.EventMoved, ObjectID: 1, Type: "car", Distance: 2},
		{Kind: tracks.EventMoved, ObjectID: 1, Type: "car", Distance: 80, Significant: true},
		{Kind: tracks.EventStationary, ObjectID: 1, Type: "car"},
		{Kind: tracks.EventLeft, ObjectID: 1, Type: "car", Reason: tracks.LeftExpired},
	})

	lines := strings.Split(strings.TrimSpace(diag.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "car #1 entered")
	assert.Contains(t, lines[1], "80.0px")
	assert.Contains(t, lines[2], "car #1 left (expired)")
}

func TestLogSceneSink_WritesEvent(t *testing.T) {
	var diag bytes.Buffer
	SetLogWriters(LogWriters{Diag: &diag})
	defer SetLogWriters(LogWriters{})

	LogSceneSink{}.OnSceneEvent(scenes.Event{Kind: scenes.NewScene, SceneID: 4, Description: "1x car"})
	assert.Contains(t, diag.String(), "[pipeline] ")
	assert.Contains(t, diag.String(), "new scene #4 (1x car)")
}

func TestSinkFuncAdapters(t *testing.T) {
	var got []tracks.Event
	EventSinkFunc(func(evs []tracks.Event) { got = append(got, evs...) }).
		OnTrackingEvents([]tracks.Event{{Kind: tracks.EventEntered}})
	assert.Len(t, got, 1)

	var scene scenes.Event
	SceneSinkFunc(func(ev scenes.Event) { scene = ev }).OnSceneEvent(scenes.Event{SceneID: 9})
	assert.Equal(t, int64(9), scene.SceneID)
}
