package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/banshee-data/sightline.report/internal/db"
	"github.com/banshee-data/sightline.report/internal/httputil"
	"github.com/banshee-data/sightline.report/internal/monitoring"
	"github.com/banshee-data/sightline.report/internal/timeutil"
	"github.com/banshee-data/sightline.report/internal/version"
	"github.com/banshee-data/sightline.report/internal/vision/pipeline"
	"github.com/banshee-data/sightline.report/internal/vision/savepolicy"
	"github.com/banshee-data/sightline.report/internal/vision/scenes"
	"github.com/banshee-data/sightline.report/internal/vision/storage/sqlite"
	"github.com/banshee-data/sightline.report/internal/vision/tracks"
)

// StatsSource reports pipeline counters. *pipeline.Scheduler satisfies it.
type StatsSource interface {
	Stats() pipeline.Stats
}

// AdvisorySource reports host pressure. *monitoring.SystemMonitor satisfies it.
type AdvisorySource interface {
	Advisory() monitoring.Advisory
}

// SceneSource reads stored scenes. *sqlite.SceneStore satisfies it.
type SceneSource interface {
	Summaries(ctx context.Context, limit int) ([]sqlite.SceneSummary, error)
	GetScene(ctx context.Context, id int64) (scenes.Record, error)
}

// FrameSource reads the saved-frame history. *sqlite.FrameLog satisfies it.
type FrameSource interface {
	RecentSavedFrames(ctx context.Context, limit int) ([]sqlite.SavedFrame, error)
}

// TrackingSource reads live tracking state. *pipeline.Processor satisfies it.
type TrackingSource interface {
	TrackedObjects(ctx context.Context) ([]tracks.TrackedObject, error)
	SaveState(ctx context.Context) (savepolicy.SaveState, error)
}

// SummarySource reports per-type activity. *pipeline.DetectionSummary
// satisfies it.
type SummarySource interface {
	Period() pipeline.SummaryReport
	Total() pipeline.SummaryReport
}

// WebServerConfig wires the data sources into the server. Any source may be
// nil; its endpoints then answer 503.
type WebServerConfig struct {
	Address  string
	Stats    StatsSource
	Perf     *monitoring.PerformanceMonitor
	System   AdvisorySource
	Scenes   SceneSource
	Frames   FrameSource
	Tracking TrackingSource
	Summary  SummarySource
	Plotter  *ThroughputPlotter
	DB       *db.DB // Enables /debug/tailsql/ and /debug/backup
	Clock    timeutil.Clock
	Shutdown time.Duration // Grace period for in-flight requests
}

// WebServer serves the HTTP interface.
type WebServer struct {
	cfg     WebServerConfig
	started time.Time
	server  *http.Server
}

// StatsResponse is the body of /api/stats.
type StatsResponse struct {
	Build    version.Info             `json:"build"`
	Uptime   string                   `json:"uptime"`
	Pipeline *pipeline.Stats          `json:"pipeline,omitempty"`
	Perf     *monitoring.PerfSnapshot `json:"perf,omitempty"`
	Advisory *monitoring.Advisory     `json:"advisory,omitempty"`
}

// TrackView is one tracked object in /api/tracks.
type TrackView struct {
	ID                  int64     `json:"id"`
	Type                string    `json:"type"`
	X                   float64   `json:"x"`
	Y                   float64   `json:"y"`
	Confidence          float64   `json:"confidence"`
	Stationary          bool      `json:"stationary"`
	StationaryFor       string    `json:"stationary_for,omitempty"`
	FramesSinceLastSeen int       `json:"frames_since_last_seen"`
	FirstSeen           time.Time `json:"first_seen"`
	LastSeen            time.Time `json:"last_seen"`
}

// TracksResponse is the body of /api/tracks.
type TracksResponse struct {
	Objects          []TrackView           `json:"objects"`
	LastSavedCounts  savepolicy.TypeCounts `json:"last_saved_counts"`
	LastSavedTime    *time.Time            `json:"last_saved_time,omitempty"`
	TotalImagesSaved int64                 `json:"total_images_saved"`
}

// SummaryResponse is the body of /api/summary.
type SummaryResponse struct {
	Period pipeline.SummaryReport `json:"period"`
	Total  pipeline.SummaryReport `json:"total"`
}

// NewWebServer builds the route table. It fails only when the admin routes
// cannot be attached.
func NewWebServer(cfg WebServerConfig) (*WebServer, error) {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Shutdown <= 0 {
		cfg.Shutdown = 2 * time.Second
	}
	ws := &WebServer{cfg: cfg, started: cfg.Clock.Now()}
	mux, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ws, nil
}

// Handler returns the route table.
func (ws *WebServer) Handler() http.Handler { return ws.server.Handler }

func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/scenes", ws.handleScenes)
	mux.HandleFunc("/api/saves", ws.handleSaves)
	mux.HandleFunc("/api/tracks", ws.handleTracks)
	mux.HandleFunc("/api/summary", ws.handleSummary)
	mux.HandleFunc("/debug/charts/types", ws.handleTypesChart)
	mux.HandleFunc("/debug/charts/scenes", ws.handleSceneHeatmap)
	mux.HandleFunc("/debug/charts/throughput", ws.handleThroughputChart)
	if ws.cfg.DB != nil {
		if err := ws.cfg.DB.AttachAdminRoutes(mux); err != nil {
			return nil, fmt.Errorf("attach admin routes: %w", err)
		}
	}
	return mux, nil
}

// Start serves until ctx is done, then shuts down within the configured
// grace period. A listener failure is returned immediately.
func (ws *WebServer) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("starting HTTP server on %s", ws.cfg.Address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ws.cfg.Shutdown)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	monitoring.Logf("HTTP server stopped")
	return nil
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	resp := StatsResponse{
		Build:  version.Current(),
		Uptime: ws.cfg.Clock.Since(ws.started).Round(time.Second).String(),
	}
	if ws.cfg.Stats != nil {
		st := ws.cfg.Stats.Stats()
		resp.Pipeline = &st
	}
	if ws.cfg.Perf != nil {
		snap := ws.cfg.Perf.Snapshot(topTypesLimit)
		resp.Perf = &snap
	}
	if ws.cfg.System != nil {
		adv := ws.cfg.System.Advisory()
		resp.Advisory = &adv
	}
	httputil.WriteJSONOK(w, resp)
}

func (ws *WebServer) handleScenes(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	if ws.cfg.Scenes == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "scene store not configured")
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 50, 1, 1000)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	summaries, err := ws.cfg.Scenes.Summaries(r.Context(), limit)
	if err != nil {
		monitoring.Logf("monitor: list scenes: %v", err)
		httputil.WriteJSONError(w, http.StatusInternalServerError, "failed to list scenes")
		return
	}
	if summaries == nil {
		summaries = []sqlite.SceneSummary{}
	}
	httputil.WriteJSONOK(w, summaries)
}

func (ws *WebServer) handleSaves(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	if ws.cfg.Frames == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "frame log not configured")
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 50, 1, 1000)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	frames, err := ws.cfg.Frames.RecentSavedFrames(r.Context(), limit)
	if err != nil {
		monitoring.Logf("monitor: list saved frames: %v", err)
		httputil.WriteJSONError(w, http.StatusInternalServerError, "failed to list saved frames")
		return
	}
	if frames == nil {
		frames = []sqlite.SavedFrame{}
	}
	httputil.WriteJSONOK(w, frames)
}

func (ws *WebServer) handleTracks(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	if ws.cfg.Tracking == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "tracking not configured")
		return
	}
	objects, err := ws.cfg.Tracking.TrackedObjects(r.Context())
	if err != nil {
		monitoring.Logf("monitor: tracked objects: %v", err)
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "tracking state unavailable")
		return
	}
	state, err := ws.cfg.Tracking.SaveState(r.Context())
	if err != nil {
		monitoring.Logf("monitor: save state: %v", err)
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "tracking state unavailable")
		return
	}

	now := ws.cfg.Clock.Now()
	resp := TracksResponse{
		Objects:          make([]TrackView, 0, len(objects)),
		LastSavedCounts:  state.LastSavedCounts,
		TotalImagesSaved: state.TotalImagesSaved,
	}
	if resp.LastSavedCounts == nil {
		resp.LastSavedCounts = savepolicy.TypeCounts{}
	}
	if !state.LastSavedTime.IsZero() {
		resp.LastSavedTime = &state.LastSavedTime
	}
	for i := range objects {
		o := &objects[i]
		v := TrackView{
			ID:                  o.ID,
			Type:                o.Type,
			X:                   o.Center.X,
			Y:                   o.Center.Y,
			Confidence:          o.Confidence,
			Stationary:          o.IsStationary,
			FramesSinceLastSeen: o.FramesSinceLastSeen,
			FirstSeen:           o.FirstSeen,
			LastSeen:            o.LastSeen,
		}
		if d := o.StationaryFor(now); d > 0 {
			v.StationaryFor = d.Round(time.Second).String()
		}
		resp.Objects = append(resp.Objects, v)
	}
	httputil.WriteJSONOK(w, resp)
}

func (ws *WebServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	if ws.cfg.Summary == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "detection summary not configured")
		return
	}
	httputil.WriteJSONOK(w, SummaryResponse{Period: ws.cfg.Summary.Period(), Total: ws.cfg.Summary.Total()})
}
