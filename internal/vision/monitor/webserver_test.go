package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sightline.report/internal/db"
	"github.com/banshee-data/sightline.report/internal/monitoring"
	"github.com/banshee-data/sightline.report/internal/testutil"
	"github.com/banshee-data/sightline.report/internal/timeutil"
	"github.com/banshee-data/sightline.report/internal/vision/detect"
	"github.com/banshee-data/sightline.report/internal/vision/pipeline"
	"github.com/banshee-data/sightline.report/internal/vision/savepolicy"
	"github.com/banshee-data/sightline.report/internal/vision/scenes"
	"github.com/banshee-data/sightline.report/internal/vision/storage/sqlite"
	"github.com/banshee-data/sightline.report/internal/vision/tracks"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeStats struct{ st pipeline.Stats }

func (f *fakeStats) Stats() pipeline.Stats { return f.st }

type fakeAdvisor struct{ adv monitoring.Advisory }

func (f fakeAdvisor) Advisory() monitoring.Advisory { return f.adv }

type failingScenes struct{}

func (failingScenes) Summaries(context.Context, int) ([]sqlite.SceneSummary, error) {
	return nil, errors.New("disk I/O error")
}

func (failingScenes) GetScene(context.Context, int64) (scenes.Record, error) {
	return scenes.Record{}, errors.New("disk I/O error")
}

type fixture struct {
	db     *db.DB
	scenes *sqlite.SceneStore
	frames *sqlite.FrameLog
	perf   *monitoring.PerformanceMonitor
	clock  *timeutil.MockClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database := testutil.NewTestDB(t)
	clock := timeutil.NewMockClock(t0)
	return &fixture{
		db:     database,
		scenes: sqlite.NewSceneStore(database.DB),
		frames: sqlite.NewFrameLog(database.DB),
		perf:   monitoring.NewPerformanceMonitor(monitoring.PerfConfig{CounterCeiling: 1000000, CounterResetValue: 100, MaxTypeEntries: 50, FPSWindow: 10 * time.Second}, clock),
		clock:  clock,
	}
}

func (f *fixture) server(t *testing.T, mutate func(*WebServerConfig)) *WebServer {
	t.Helper()
	cfg := WebServerConfig{
		Address: "127.0.0.1:0",
		Stats:   &fakeStats{st: pipeline.Stats{Submitted: 10, Processed: 8, Dropped: 2, QueueCapacity: 10}},
		Perf:    f.perf,
		System:  fakeAdvisor{adv: monitoring.Advisory{Level: monitoring.LevelWarning, DiskUsedPercent: 91}},
		Scenes:  f.scenes,
		Frames:  f.frames,
		Clock:   f.clock,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ws, err := NewWebServer(cfg)
	require.NoError(t, err)
	return ws
}

func storeScene(t *testing.T, f *fixture) int64 {
	t.Helper()
	fp := scenes.NewFingerprint([]scenes.ObjectFeature{
		{Type: "car", Position: detect.Point{X: 100, Y: 100}, Width: 40, Height: 30},
		{Type: "person", Position: detect.Point{X: 500, Y: 400}, Width: 20, Height: 50},
	}, 640, 480)
	id, err := f.scenes.InsertScene(context.Background(), scenes.Record{CreatedAt: t0, Description: scenes.Describe(fp.TypeCounts), Fingerprint: fp})
	require.NoError(t, err)
	return id
}

// --------------------------------------------------------------------------
// JSON API
// --------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	ws := newFixture(t).server(t, nil)
	rec := testutil.Get(t, ws.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	post := httptest.NewRecorder()
	ws.Handler().ServeHTTP(post, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, post.Code)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.perf.RecordFrame(20*time.Millisecond, []string{"car", "car", "person"})
	ws := f.server(t, nil)
	f.clock.Advance(90 * time.Second)

	rec := testutil.Get(t, ws.Handler(), "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1m30s", resp.Uptime)
	require.NotNil(t, resp.Pipeline)
	assert.Equal(t, int64(8), resp.Pipeline.Processed)
	assert.Equal(t, int64(2), resp.Pipeline.Dropped)
	require.NotNil(t, resp.Perf)
	assert.Equal(t, int64(3), resp.Perf.ObjectsDetected)
	require.NotNil(t, resp.Advisory)
	assert.InDelta(t, 91, resp.Advisory.DiskUsedPercent, 1e-9)
	assert.Contains(t, rec.Body.String(), `"level":"warning"`)
	assert.NotEmpty(t, resp.Build.Version)
}

func TestStats_OmitsMissingSources(t *testing.T) {
	ws := newFixture(t).server(t, func(c *WebServerConfig) {
		c.Stats, c.Perf, c.System = nil, nil, nil
	})
	rec := testutil.Get(t, ws.Handler(), "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"pipeline"`)
	assert.NotContains(t, rec.Body.String(), `"advisory"`)
}

func TestScenes(t *testing.T) {
	f := newFixture(t)
	ws := f.server(t, nil)

	rec := testutil.Get(t, ws.Handler(), "/api/scenes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	id := storeScene(t, f)
	rec = testutil.Get(t, ws.Handler(), "/api/scenes?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []sqlite.SceneSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, "1x car, 1x person", got[0].Description)
	assert.Equal(t, 2, got[0].ObjectCount)
}

func TestScenes_Errors(t *testing.T) {
	f := newFixture(t)
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	defer monitoring.SetLogger(orig)

	tests := []struct {
		name   string
		mutate func(*WebServerConfig)
		target string
		want   int
	}{
		{"bad limit", nil, "/api/scenes?limit=0", http.StatusBadRequest},
		{"no store", func(c *WebServerConfig) { c.Scenes = nil }, "/api/scenes", http.StatusServiceUnavailable},
		{"store failure", func(c *WebServerConfig) { c.Scenes = failingScenes{} }, "/api/scenes", http.StatusInternalServerError},
		{"saves bad limit", nil, "/api/saves?limit=abc", http.StatusBadRequest},
		{"no frame log", func(c *WebServerConfig) { c.Frames = nil }, "/api/saves", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := f.server(t, tt.mutate)
			rec := testutil.Get(t, ws.Handler(), tt.target)
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestSaves(t *testing.T) {
	f := newFixture(t)
	ws := f.server(t, nil)
	ctx := context.Background()

	for i, typ := range []string{"car", "person"} {
		require.NoError(t, f.frames.RecordSavedFrame(ctx, sqlite.SavedFrame{
			FrameID:     pipeline.NewFrame(uint64(i), nil, t0).ID,
			SavedAt:     t0.Add(time.Duration(i) * time.Minute),
			Path:        "/snaps/" + typ + ".jpg",
			Types:       []string{typ},
			ObjectCount: 1,
		}))
	}

	rec := testutil.Get(t, ws.Handler(), "/api/saves?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []sqlite.SavedFrame
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, []string{"person"}, got[0].Types, "newest first")
}

var (
	_ TrackingSource = (*pipeline.Processor)(nil)
	_ SummarySource  = (*pipeline.DetectionSummary)(nil)
)

type failingTracking struct{}

func (failingTracking) TrackedObjects(context.Context) ([]tracks.TrackedObject, error) {
	return nil, pipeline.ErrTrackingLockTimeout
}

func (failingTracking) SaveState(context.Context) (savepolicy.SaveState, error) {
	return savepolicy.SaveState{}, pipeline.ErrTrackingLockTimeout
}

func TestTracks(t *testing.T) {
	f := newFixture(t)
	det, err := detect.NewReplayDetector(strings.NewReader(
		`[{"class":"car","confidence":0.9,"box":{"x":80,"y":85,"width":40,"height":30}}]` + "\n"))
	require.NoError(t, err)
	summary := pipeline.NewDetectionSummary(f.clock, nil)
	proc, err := pipeline.NewProcessor(pipeline.Config{TrackingLockTimeout: time.Second, MaxTypes: 50}, pipeline.Components{
		Detector: det,
		Tracker:  tracks.NewTracker(tracks.DefaultTrackerConfig()),
		Policy:   savepolicy.NewPolicy(savepolicy.Config{MinSaveInterval: 10 * time.Second, StationaryTimeout: 2 * time.Minute, MaxTypes: 50}),
		Events:   summary,
		Clock:    f.clock,
	})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		frame := pipeline.NewFrame(uint64(i), nil, t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, proc.Process(context.Background(), frame))
	}
	f.clock.Advance(time.Minute)

	ws := f.server(t, func(c *WebServerConfig) {
		c.Tracking = proc
		c.Summary = summary
	})

	rec := testutil.Get(t, ws.Handler(), "/api/tracks")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp TracksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Objects, 1)
	obj := resp.Objects[0]
	assert.Equal(t, "car", obj.Type)
	assert.InDelta(t, 100, obj.X, 1e-9)
	assert.InDelta(t, 100, obj.Y, 1e-9)
	assert.True(t, obj.Stationary)
	assert.Equal(t, "58s", obj.StationaryFor)
	assert.Equal(t, int64(1), resp.TotalImagesSaved)
	assert.Equal(t, 1, resp.LastSavedCounts["car"])
	require.NotNil(t, resp.LastSavedTime)
	assert.True(t, t0.Equal(*resp.LastSavedTime))

	rec = testutil.Get(t, ws.Handler(), "/api/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	var sum SummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	require.Len(t, sum.Total.Types, 1)
	assert.Equal(t, pipeline.TypeActivity{Type: "car", Entered: 1, StationaryPeriods: 1}, sum.Total.Types[0])
}

func TestTracks_Unavailable(t *testing.T) {
	f := newFixture(t)
	ws := f.server(t, nil)
	testutil.AssertStatusCode(t, testutil.Get(t, ws.Handler(), "/api/tracks").Code, http.StatusServiceUnavailable)
	testutil.AssertStatusCode(t, testutil.Get(t, ws.Handler(), "/api/summary").Code, http.StatusServiceUnavailable)

	ws = f.server(t, func(c *WebServerConfig) { c.Tracking = failingTracking{} })
	rec := testutil.Get(t, ws.Handler(), "/api/tracks")
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)
	assert.Contains(t, rec.Body.String(), "tracking state unavailable")
}

// --------------------------------------------------------------------------
// Charts
// --------------------------------------------------------------------------

func TestTypesChart(t *testing.T) {
	f := newFixture(t)
	f.perf.RecordFrame(time.Millisecond, []string{"car", "dog"})
	ws := f.server(t, nil)

	rec := testutil.Get(t, ws.Handler(), "/debug/charts/types")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "Detected types")
	assert.Contains(t, body, "dog")
	assert.Contains(t, body, echartsAssetsHost)
}

func TestSceneHeatmap(t *testing.T) {
	f := newFixture(t)
	id := storeScene(t, f)
	ws := f.server(t, nil)

	rec := testutil.Get(t, ws.Handler(), "/debug/charts/scenes?id="+jsonInt(id))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Scene #"+jsonInt(id))
	assert.Contains(t, rec.Body.String(), "heatmap")

	assert.Equal(t, http.StatusNotFound, testutil.Get(t, ws.Handler(), "/debug/charts/scenes?id=999").Code)
	assert.Equal(t, http.StatusBadRequest, testutil.Get(t, ws.Handler(), "/debug/charts/scenes?id=abc").Code)
	assert.Equal(t, http.StatusBadRequest, testutil.Get(t, ws.Handler(), "/debug/charts/scenes").Code)
}

func TestThroughputChart(t *testing.T) {
	f := newFixture(t)
	stats := &fakeStats{}
	plotter := NewThroughputPlotter(stats, f.clock, 10*time.Second, 0)
	plotter.Sample()
	f.clock.Advance(10 * time.Second)
	stats.st.Processed = 50
	plotter.Sample()

	ws := f.server(t, func(c *WebServerConfig) { c.Plotter = plotter })
	rec := testutil.Get(t, ws.Handler(), "/debug/charts/throughput")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Pipeline throughput")

	ws = f.server(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, testutil.Get(t, ws.Handler(), "/debug/charts/throughput").Code)
}

func TestAdminRoutesMounted(t *testing.T) {
	f := newFixture(t)
	ws := f.server(t, func(c *WebServerConfig) { c.DB = f.db })
	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func TestStart_StopsOnCancel(t *testing.T) {
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	defer monitoring.SetLogger(orig)

	ws := newFixture(t).server(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStart_ListenFailure(t *testing.T) {
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	defer monitoring.SetLogger(orig)

	ws := newFixture(t).server(t, func(c *WebServerConfig) {
		c.Address = "256.0.0.1:bad"
	})
	err := ws.Start(context.Background())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "http server:"))
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
