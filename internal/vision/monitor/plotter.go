package monitor

import (
	"context"
	"fmt"
	"image/color"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/sightline.report/internal/fsutil"
	"github.com/banshee-data/sightline.report/internal/timeutil"
)

// DefaultMaxSamples bounds the plotter's history; at a 10 s interval this
// is a little over a day.
const DefaultMaxSamples = 10000

// ThroughputSample is one reading of the pipeline counters.
type ThroughputSample struct {
	At         time.Time
	Submitted  int64
	Processed  int64
	Dropped    int64
	Saved      int64
	QueueDepth int
}

// RatePoint is the per-second rate between two consecutive samples.
type RatePoint struct {
	Seconds    float64 // Since the first sample
	Processed  float64
	Dropped    float64
	Saved      float64
	QueueDepth int
}

// ThroughputPlotter samples pipeline counters periodically and renders
// them as PNG line plots, typically once on shutdown.
type ThroughputPlotter struct {
	mu       sync.Mutex
	src      StatsSource
	clock    timeutil.Clock
	interval time.Duration
	max      int
	samples  []ThroughputSample
}

// NewThroughputPlotter creates a plotter reading src every interval.
func NewThroughputPlotter(src StatsSource, clock timeutil.Clock, interval time.Duration, maxSamples int) *ThroughputPlotter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if maxSamples < 2 {
		maxSamples = DefaultMaxSamples
	}
	return &ThroughputPlotter{src: src, clock: clock, interval: interval, max: maxSamples}
}

// Sample records the current counters. The oldest sample is dropped once
// the history is full.
func (p *ThroughputPlotter) Sample() {
	st := p.src.Stats()
	s := ThroughputSample{
		At:         p.clock.Now(),
		Submitted:  st.Submitted,
		Processed:  st.Processed,
		Dropped:    st.Dropped,
		Saved:      st.Saved,
		QueueDepth: st.QueueDepth,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.samples) >= p.max {
		copy(p.samples, p.samples[1:])
		p.samples = p.samples[:len(p.samples)-1]
	}
	p.samples = append(p.samples, s)
}

// Run samples on every tick until ctx is done.
func (p *ThroughputPlotter) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	p.Sample()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			p.Sample()
		}
	}
}

// Samples returns a copy of the recorded samples, oldest first.
func (p *ThroughputPlotter) Samples() []ThroughputSample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ThroughputSample(nil), p.samples...)
}

// Rates converts consecutive samples to per-second rates. Pairs with no
// elapsed time are skipped.
func (p *ThroughputPlotter) Rates() []RatePoint {
	samples := p.Samples()
	if len(samples) < 2 {
		return nil
	}
	start := samples[0].At
	out := make([]RatePoint, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		dt := cur.At.Sub(prev.At).Seconds()
		if dt <= 0 {
			continue
		}
		out = append(out, RatePoint{
			Seconds:    cur.At.Sub(start).Seconds(),
			Processed:  rate(prev.Processed, cur.Processed, dt),
			Dropped:    rate(prev.Dropped, cur.Dropped, dt),
			Saved:      rate(prev.Saved, cur.Saved, dt),
			QueueDepth: cur.QueueDepth,
		})
	}
	return out
}

func rate(prev, cur int64, dt float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) / dt
}

// GeneratePlots writes throughput.png and queue_depth.png into dir and
// returns how many files were written. Fewer than two samples write
// nothing.
func (p *ThroughputPlotter) GeneratePlots(fsys fsutil.FileSystem, dir string) (int, error) {
	rates := p.Rates()
	if len(rates) == 0 {
		return 0, nil
	}
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create plot dir: %w", err)
	}

	throughput := plot.New()
	throughput.Title.Text = "Pipeline throughput"
	throughput.X.Label.Text = "Elapsed (s)"
	throughput.Y.Label.Text = "Frames/s"

	series := []struct {
		name  string
		color color.Color
		value func(RatePoint) float64
	}{
		{"processed", color.RGBA{R: 0, G: 130, B: 200, A: 255}, func(r RatePoint) float64 { return r.Processed }},
		{"dropped", color.RGBA{R: 230, G: 25, B: 75, A: 255}, func(r RatePoint) float64 { return r.Dropped }},
		{"saved", color.RGBA{R: 60, G: 180, B: 75, A: 255}, func(r RatePoint) float64 { return r.Saved }},
	}
	for _, s := range series {
		pts := make(plotter.XYs, len(rates))
		for i, r := range rates {
			pts[i] = plotter.XY{X: r.Seconds, Y: s.value(r)}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return 0, fmt.Errorf("%s line: %w", s.name, err)
		}
		line.Color = s.color
		line.Width = vg.Points(1)
		throughput.Add(line)
		throughput.Legend.Add(s.name, line)
	}
	throughput.Legend.Top = true

	queue := plot.New()
	queue.Title.Text = "Queue depth"
	queue.X.Label.Text = "Elapsed (s)"
	queue.Y.Label.Text = "Frames"
	depth := make(plotter.XYs, len(rates))
	for i, r := range rates {
		depth[i] = plotter.XY{X: r.Seconds, Y: float64(r.QueueDepth)}
	}
	depthLine, err := plotter.NewLine(depth)
	if err != nil {
		return 0, fmt.Errorf("queue depth line: %w", err)
	}
	depthLine.Width = vg.Points(1)
	queue.Add(depthLine)

	written := 0
	for name, pl := range map[string]*plot.Plot{"throughput.png": throughput, "queue_depth.png": queue} {
		if err := savePNG(fsys, filepath.Join(dir, name), pl); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func savePNG(fsys fsutil.FileSystem, path string, pl *plot.Plot) error {
	wt, err := pl.WriterTo(12*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render %s: %w", filepath.Base(path), err)
	}
	out, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if _, err := wt.WriteTo(out); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return out.Close()
}
