package monitoring

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/sightline.report/internal/config"
	"github.com/banshee-data/sightline.report/internal/timeutil"
)

// PerfConfig holds the thresholds used by PerformanceMonitor.
type PerfConfig struct {
	CounterCeiling     int64         // Counters are rescaled when they reach this value
	CounterResetValue  int64         // Value the largest counter is rescaled to
	MaxTypeEntries     int           // Distinct object types kept in the type table
	MinFPSWarning      float64       // FPS below which a warning is logged
	FPSWarningInterval time.Duration // Minimum spacing between FPS warnings
	FPSWindow          time.Duration // Window over which FPS is measured
}

// PerfConfigFromTuning builds a PerfConfig from a loaded TuningConfig.
func PerfConfigFromTuning(cfg *config.TuningConfig) PerfConfig {
	return PerfConfig{
		CounterCeiling:     cfg.GetCounterCeiling(),
		CounterResetValue:  cfg.GetCounterResetValue(),
		MaxTypeEntries:     cfg.GetMaxTypeEntries(),
		MinFPSWarning:      cfg.GetMinFPSWarning(),
		FPSWarningInterval: cfg.GetFPSWarningInterval(),
		FPSWindow:          10 * time.Second,
	}
}

// TypeCount is one row of the detected-types table.
type TypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// PerfSnapshot is a point-in-time copy of the monitor's counters.
type PerfSnapshot struct {
	FramesProcessed    int64       `json:"frames_processed"`
	ObjectsDetected    int64       `json:"objects_detected"`
	AvgProcessingMs    float64     `json:"avg_processing_ms"`
	AvgObjectsPerFrame float64     `json:"avg_objects_per_frame"`
	FPS                float64     `json:"fps"`
	CounterResets      int         `json:"counter_resets"`
	Uptime             string      `json:"uptime"`
	TopTypes           []TypeCount `json:"top_types"`
}

// PerformanceMonitor accumulates frame throughput statistics for a process
// that is expected to run for months. All counters are bounded by
// PerfConfig.CounterCeiling; when any counter reaches it, every counter is
// rescaled by the same factor so averages stay continuous.
type PerformanceMonitor struct {
	mu    sync.Mutex
	cfg   PerfConfig
	clock timeutil.Clock

	startedAt       time.Time
	framesProcessed int64
	objectsDetected int64
	totalProcessing time.Duration
	counterResets   int
	typeCounts      map[string]int64

	windowStart    time.Time
	windowFrames   int
	fps            float64
	lastFPSWarning time.Time
}

// NewPerformanceMonitor creates a monitor. A nil clock uses the real clock.
func NewPerformanceMonitor(cfg PerfConfig, clock timeutil.Clock) *PerformanceMonitor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.CounterCeiling <= 0 {
		cfg.CounterCeiling = math.MaxInt64
	}
	if cfg.FPSWindow <= 0 {
		cfg.FPSWindow = 10 * time.Second
	}
	now := clock.Now()
	return &PerformanceMonitor{
		cfg:         cfg,
		clock:       clock,
		startedAt:   now,
		windowStart: now,
		typeCounts:  make(map[string]int64),
	}
}

// RecordFrame records one processed frame, its processing time and the types
// of the objects detected in it.
func (m *PerformanceMonitor) RecordFrame(processing time.Duration, objectTypes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.framesProcessed++
	m.objectsDetected += int64(len(objectTypes))
	m.totalProcessing += processing
	for _, typ := range objectTypes {
		if _, ok := m.typeCounts[typ]; !ok && m.cfg.MaxTypeEntries > 0 && len(m.typeCounts) >= m.cfg.MaxTypeEntries {
			continue
		}
		m.typeCounts[typ]++
	}
	m.enforceCeiling()

	now := m.clock.Now()
	m.windowFrames++
	if elapsed := now.Sub(m.windowStart); elapsed >= m.cfg.FPSWindow {
		m.fps = float64(m.windowFrames) / elapsed.Seconds()
		m.windowFrames = 0
		m.windowStart = now

		if m.cfg.MinFPSWarning > 0 && m.fps < m.cfg.MinFPSWarning &&
			(m.lastFPSWarning.IsZero() || now.Sub(m.lastFPSWarning) >= m.cfg.FPSWarningInterval) {
			m.lastFPSWarning = now
			Logf("low frame rate: %.2f fps (threshold %.2f)", m.fps, m.cfg.MinFPSWarning)
		}
	}
}

// enforceCeiling rescales counters once any of them reaches the ceiling.
// Caller must hold m.mu.
func (m *PerformanceMonitor) enforceCeiling() {
	largest := m.framesProcessed
	if m.objectsDetected > largest {
		largest = m.objectsDetected
	}
	for _, c := range m.typeCounts {
		if c > largest {
			largest = c
		}
	}
	if largest < m.cfg.CounterCeiling {
		return
	}

	avgProcessing := m.totalProcessing / time.Duration(m.framesProcessed)
	scale := float64(m.cfg.CounterResetValue) / float64(largest)

	m.framesProcessed = scaleCount(m.framesProcessed, scale)
	m.objectsDetected = int64(math.Round(float64(m.objectsDetected) * scale))
	m.totalProcessing = avgProcessing * time.Duration(m.framesProcessed)
	for typ, c := range m.typeCounts {
		m.typeCounts[typ] = scaleCount(c, scale)
	}
	m.counterResets++
	Logf("performance counters rescaled (reset #%d): frames=%d objects=%d",
		m.counterResets, m.framesProcessed, m.objectsDetected)
}

func scaleCount(v int64, scale float64) int64 {
	scaled := int64(math.Round(float64(v) * scale))
	if scaled < 1 && v > 0 {
		return 1
	}
	return scaled
}

// Snapshot returns a copy of the current counters with the top n types
// (all types when n <= 0).
func (m *PerformanceMonitor) Snapshot(n int) PerfSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := PerfSnapshot{
		FramesProcessed: m.framesProcessed,
		ObjectsDetected: m.objectsDetected,
		FPS:             m.fps,
		CounterResets:   m.counterResets,
		Uptime:          m.clock.Since(m.startedAt).Round(time.Second).String(),
		TopTypes:        topTypes(m.typeCounts, n),
	}
	if m.framesProcessed > 0 {
		snap.AvgProcessingMs = float64(m.totalProcessing) / float64(m.framesProcessed) / float64(time.Millisecond)
		snap.AvgObjectsPerFrame = float64(m.objectsDetected) / float64(m.framesProcessed)
	}
	return snap
}

// Report logs a one-line summary of the current counters.
func (m *PerformanceMonitor) Report() {
	s := m.Snapshot(5)
	Logf("performance: frames=%d objects=%d avg=%.1fms fps=%.2f uptime=%s top=%v",
		s.FramesProcessed, s.ObjectsDetected, s.AvgProcessingMs, s.FPS, s.Uptime, s.TopTypes)
}

func topTypes(counts map[string]int64, n int) []TypeCount {
	out := make([]TypeCount, 0, len(counts))
	for typ, c := range counts {
		out = append(out, TypeCount{Type: typ, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
