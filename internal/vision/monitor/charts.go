package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/sightline.report/internal/httputil"
	"github.com/banshee-data/sightline.report/internal/vision/scenes"
	"github.com/banshee-data/sightline.report/internal/vision/storage/sqlite"
)

const (
	echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"
	topTypesLimit     = 20
)

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// renderPage writes the charts as one HTML page.
func renderPage(w http.ResponseWriter, chart ...components.Charter) {
	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsHost)
	page.AddCharts(chart...)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleTypesChart renders the most frequently detected types as a bar chart.
func (ws *WebServer) handleTypesChart(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	if ws.cfg.Perf == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "performance monitor not configured")
		return
	}
	snap := ws.cfg.Perf.Snapshot(topTypesLimit)

	x := make([]string, 0, len(snap.TopTypes))
	y := make([]opts.BarData, 0, len(snap.TopTypes))
	for _, tc := range snap.TopTypes {
		x = append(x, tc.Type)
		y = append(y, opts.BarData{Value: tc.Count})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Detected types", Width: "100%", Height: "600px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Detected types", Subtitle: fmt.Sprintf("frames=%d objects=%d fps=%.2f", snap.FramesProcessed, snap.ObjectsDetected, snap.FPS)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).AddSeries("detections", y,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)
	renderPage(w, bar)
}

// handleSceneHeatmap renders the 4x4 occupancy histogram of one stored
// scene. Query params:
//   - id (required): scene ID
func (ws *WebServer) handleSceneHeatmap(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	if ws.cfg.Scenes == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "scene store not configured")
		return
	}
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id < 1 {
		httputil.WriteJSONError(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}
	rec, err := ws.cfg.Scenes.GetScene(r.Context(), id)
	if errors.Is(err, sqlite.ErrSceneNotFound) {
		httputil.WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("scene %d not found", id))
		return
	}
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, "failed to load scene")
		return
	}
	renderPage(w, sceneHeatmap(rec))
}

func sceneHeatmap(rec scenes.Record) *charts.HeatMap {
	labels := make([]string, scenes.GridSize)
	for i := range labels {
		labels[i] = strconv.Itoa(i)
	}

	data := make([]opts.HeatMapData, 0, scenes.GridSize*scenes.GridSize)
	for row := 0; row < scenes.GridSize; row++ {
		for col := 0; col < scenes.GridSize; col++ {
			data = append(data, opts.HeatMapData{Value: []interface{}{col, row, rec.Fingerprint.Histogram[row][col]}})
		}
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Scene occupancy", Width: "640px", Height: "640px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Scene #%d", rec.ID), Subtitle: rec.Description}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: labels, Name: "column"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: labels, Name: "row", Inverse: opts.Bool(true)}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        1,
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	hm.AddSeries("occupancy", data)
	return hm
}

// handleThroughputChart renders the plotter's per-second rates as lines.
func (ws *WebServer) handleThroughputChart(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	if ws.cfg.Plotter == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "throughput plotter not configured")
		return
	}
	rates := ws.cfg.Plotter.Rates()

	x := make([]string, len(rates))
	processed := make([]opts.LineData, len(rates))
	dropped := make([]opts.LineData, len(rates))
	saved := make([]opts.LineData, len(rates))
	for i, p := range rates {
		x[i] = fmt.Sprintf("%.0f", p.Seconds)
		processed[i] = opts.LineData{Value: p.Processed}
		dropped[i] = opts.LineData{Value: p.Dropped}
		saved[i] = opts.LineData{Value: p.Saved}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Throughput", Width: "100%", Height: "600px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Pipeline throughput", Subtitle: fmt.Sprintf("points=%d", len(rates))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "s"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "frames/s"}),
	)
	line.SetXAxis(x).
		AddSeries("processed", processed).
		AddSeries("dropped", dropped).
		AddSeries("saved", saved)
	renderPage(w, line)
}
