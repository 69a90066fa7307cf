package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/sightline.report/internal/timeutil"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// DefaultTargetClasses lists the detector classes the agent tracks when
// target_classes is omitted.
var DefaultTargetClasses = []string{"person", "car", "truck", "bus", "motorcycle", "bicycle", "cat", "dog"}

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/config endpoint so the same JSON can be used
// for both startup configuration and inspection at runtime.
type TuningConfig struct {
	// Detection filter params
	TargetClasses []string `json:"target_classes,omitempty"`
	MinConfidence *float64 `json:"min_confidence,omitempty"`

	// Tracker params
	MaxMovementDistance       *float64 `json:"max_movement_distance,omitempty"`  // pixels
	StationaryThreshold       *float64 `json:"stationary_threshold,omitempty"`   // pixels, mean step distance
	MovementLogThreshold      *float64 `json:"movement_log_threshold,omitempty"` // pixels
	MaxPositionHistory        *int     `json:"max_position_history,omitempty"`
	MaxFramesWithoutDetection *int     `json:"max_frames_without_detection,omitempty"`
	MaxTrackedObjects         *int     `json:"max_tracked_objects,omitempty"`
	EvictionFraction          *float64 `json:"eviction_fraction,omitempty"`

	// Scene params
	SceneAnalysisInterval *string  `json:"scene_analysis_interval,omitempty"` // duration string like "60s"
	MatchThreshold        *float64 `json:"match_threshold,omitempty"`
	RelationshipTolerance *float64 `json:"relationship_tolerance,omitempty"`
	DefaultROISize        *int     `json:"default_roi_size,omitempty"`

	// Save policy params
	MinSaveInterval   *string `json:"min_save_interval,omitempty"`
	StationaryTimeout *string `json:"stationary_timeout,omitempty"`
	MaxTypeEntries    *int    `json:"max_type_entries,omitempty"`
	JPEGQuality       *int    `json:"jpeg_quality,omitempty"`
	SnapshotTimezone  *string `json:"snapshot_timezone,omitempty"` // tz database name; empty means host local

	// Scheduler params
	QueueCapacity       *int    `json:"queue_capacity,omitempty"`
	WorkerCount         *int    `json:"worker_count,omitempty"`
	TrackingLockTimeout *string `json:"tracking_lock_timeout,omitempty"`
	DrainOnShutdown     *bool   `json:"drain_on_shutdown,omitempty"`

	// Monitoring params
	CounterCeiling      *int64   `json:"counter_ceiling,omitempty"`
	CounterResetValue   *int64   `json:"counter_reset_value,omitempty"`
	MinFPSWarning       *float64 `json:"min_fps_warning,omitempty"`
	FPSWarningInterval  *string  `json:"fps_warning_interval,omitempty"`
	ReportInterval      *string  `json:"report_interval,omitempty"`
	SummaryInterval     *string  `json:"summary_interval,omitempty"`
	SystemCheckInterval *string  `json:"system_check_interval,omitempty"`
	DiskWarningPercent  *float64 `json:"disk_warning_percent,omitempty"`
	DiskCriticalPercent *float64 `json:"disk_critical_percent,omitempty"`
	MinFreeDiskMB       *int64   `json:"min_free_disk_mb,omitempty"`
	CPUTempWarning      *float64 `json:"cpu_temp_warning,omitempty"`
	CPUTempCritical     *float64 `json:"cpu_temp_critical,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated from
// the built-in defaults. It does not touch the filesystem.
func DefaultTuningConfig() *TuningConfig {
	c := EmptyTuningConfig()
	return &TuningConfig{
		TargetClasses:             append([]string(nil), DefaultTargetClasses...),
		MinConfidence:             ptrFloat64(c.GetMinConfidence()),
		MaxMovementDistance:       ptrFloat64(c.GetMaxMovementDistance()),
		StationaryThreshold:       ptrFloat64(c.GetStationaryThreshold()),
		MovementLogThreshold:      ptrFloat64(c.GetMovementLogThreshold()),
		MaxPositionHistory:        ptrInt(c.GetMaxPositionHistory()),
		MaxFramesWithoutDetection: ptrInt(c.GetMaxFramesWithoutDetection()),
		MaxTrackedObjects:         ptrInt(c.GetMaxTrackedObjects()),
		EvictionFraction:          ptrFloat64(c.GetEvictionFraction()),
		SceneAnalysisInterval:     ptrString(c.GetSceneAnalysisInterval().String()),
		MatchThreshold:            ptrFloat64(c.GetMatchThreshold()),
		RelationshipTolerance:     ptrFloat64(c.GetRelationshipTolerance()),
		DefaultROISize:            ptrInt(c.GetDefaultROISize()),
		MinSaveInterval:           ptrString(c.GetMinSaveInterval().String()),
		StationaryTimeout:         ptrString(c.GetStationaryTimeout().String()),
		MaxTypeEntries:            ptrInt(c.GetMaxTypeEntries()),
		JPEGQuality:               ptrInt(c.GetJPEGQuality()),
		SnapshotTimezone:          ptrString(c.GetSnapshotTimezone()),
		QueueCapacity:             ptrInt(c.GetQueueCapacity()),
		WorkerCount:               ptrInt(c.GetWorkerCount()),
		TrackingLockTimeout:       ptrString(c.GetTrackingLockTimeout().String()),
		DrainOnShutdown:           ptrBool(c.GetDrainOnShutdown()),
		CounterCeiling:            ptrInt64(c.GetCounterCeiling()),
		CounterResetValue:         ptrInt64(c.GetCounterResetValue()),
		MinFPSWarning:             ptrFloat64(c.GetMinFPSWarning()),
		FPSWarningInterval:        ptrString(c.GetFPSWarningInterval().String()),
		ReportInterval:            ptrString(c.GetReportInterval().String()),
		SummaryInterval:           ptrString(c.GetSummaryInterval().String()),
		SystemCheckInterval:       ptrString(c.GetSystemCheckInterval().String()),
		DiskWarningPercent:        ptrFloat64(c.GetDiskWarningPercent()),
		DiskCriticalPercent:       ptrFloat64(c.GetDiskCriticalPercent()),
		MinFreeDiskMB:             ptrInt64(c.GetMinFreeDiskMB()),
		CPUTempWarning:            ptrFloat64(c.GetCPUTempWarning()),
		CPUTempCritical:           ptrFloat64(c.GetCPUTempCritical()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/vision/tracks/
		"../../../../" + DefaultConfigPath,    // from internal/vision/storage/sqlite/
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	fractions := []struct {
		name string
		v    *float64
	}{
		{"min_confidence", c.MinConfidence},
		{"eviction_fraction", c.EvictionFraction},
		{"match_threshold", c.MatchThreshold},
		{"relationship_tolerance", c.RelationshipTolerance},
	}
	for _, f := range fractions {
		if f.v != nil && (*f.v < 0 || *f.v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", f.name, *f.v)
		}
	}

	distances := []struct {
		name string
		v    *float64
	}{
		{"max_movement_distance", c.MaxMovementDistance},
		{"stationary_threshold", c.StationaryThreshold},
		{"movement_log_threshold", c.MovementLogThreshold},
	}
	for _, d := range distances {
		if d.v != nil && *d.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", d.name, *d.v)
		}
	}

	positives := []struct {
		name string
		v    *int
	}{
		{"max_position_history", c.MaxPositionHistory},
		{"max_frames_without_detection", c.MaxFramesWithoutDetection},
		{"max_tracked_objects", c.MaxTrackedObjects},
		{"default_roi_size", c.DefaultROISize},
		{"max_type_entries", c.MaxTypeEntries},
		{"queue_capacity", c.QueueCapacity},
		{"worker_count", c.WorkerCount},
	}
	for _, p := range positives {
		if p.v != nil && *p.v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", p.name, *p.v)
		}
	}

	if c.MaxPositionHistory != nil && *c.MaxPositionHistory < 3 {
		return fmt.Errorf("max_position_history must be at least 3 for stationary detection, got %d", *c.MaxPositionHistory)
	}

	if c.JPEGQuality != nil && (*c.JPEGQuality < 1 || *c.JPEGQuality > 100) {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", *c.JPEGQuality)
	}

	if c.SnapshotTimezone != nil && *c.SnapshotTimezone != "" && !timeutil.IsTimezoneValid(*c.SnapshotTimezone) {
		return fmt.Errorf("invalid snapshot_timezone '%s'", *c.SnapshotTimezone)
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"scene_analysis_interval", c.SceneAnalysisInterval},
		{"min_save_interval", c.MinSaveInterval},
		{"stationary_timeout", c.StationaryTimeout},
		{"tracking_lock_timeout", c.TrackingLockTimeout},
		{"fps_warning_interval", c.FPSWarningInterval},
		{"report_interval", c.ReportInterval},
		{"summary_interval", c.SummaryInterval},
		{"system_check_interval", c.SystemCheckInterval},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if parsed < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.name, *d.v)
		}
	}

	if c.CounterCeiling != nil && *c.CounterCeiling < 1 {
		return fmt.Errorf("counter_ceiling must be positive, got %d", *c.CounterCeiling)
	}
	if c.GetCounterResetValue() < 0 || c.GetCounterResetValue() >= c.GetCounterCeiling() {
		return fmt.Errorf("counter_reset_value must be in [0, counter_ceiling), got %d", c.GetCounterResetValue())
	}
	if c.GetDiskWarningPercent() > c.GetDiskCriticalPercent() {
		return fmt.Errorf("disk_warning_percent (%.1f) exceeds disk_critical_percent (%.1f)",
			c.GetDiskWarningPercent(), c.GetDiskCriticalPercent())
	}
	if c.GetCPUTempWarning() > c.GetCPUTempCritical() {
		return fmt.Errorf("cpu_temp_warning (%.1f) exceeds cpu_temp_critical (%.1f)",
			c.GetCPUTempWarning(), c.GetCPUTempCritical())
	}

	return nil
}

// parseDurationOr parses s, falling back to def when unset or invalid.
func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetTargetClasses returns the configured target classes or the default list.
func (c *TuningConfig) GetTargetClasses() []string {
	if len(c.TargetClasses) == 0 {
		return append([]string(nil), DefaultTargetClasses...)
	}
	return append([]string(nil), c.TargetClasses...)
}

// GetMinConfidence returns the min_confidence value or the default.
func (c *TuningConfig) GetMinConfidence() float64 {
	if c.MinConfidence == nil {
		return 0.5
	}
	return *c.MinConfidence
}

// GetMaxMovementDistance returns the max_movement_distance value or the default.
func (c *TuningConfig) GetMaxMovementDistance() float64 {
	if c.MaxMovementDistance == nil {
		return 100.0
	}
	return *c.MaxMovementDistance
}

// GetStationaryThreshold returns the stationary_threshold value or the default.
func (c *TuningConfig) GetStationaryThreshold() float64 {
	if c.StationaryThreshold == nil {
		return 10.0
	}
	return *c.StationaryThreshold
}

// GetMovementLogThreshold returns the movement_log_threshold value or the default.
func (c *TuningConfig) GetMovementLogThreshold() float64 {
	if c.MovementLogThreshold == nil {
		return 5.0
	}
	return *c.MovementLogThreshold
}

func (c *TuningConfig) GetMaxPositionHistory() int {
	if c.MaxPositionHistory == nil {
		return 10
	}
	return *c.MaxPositionHistory
}

func (c *TuningConfig) GetMaxFramesWithoutDetection() int {
	if c.MaxFramesWithoutDetection == nil {
		return 30
	}
	return *c.MaxFramesWithoutDetection
}

func (c *TuningConfig) GetMaxTrackedObjects() int {
	if c.MaxTrackedObjects == nil {
		return 100
	}
	return *c.MaxTrackedObjects
}

// GetEvictionFraction returns the share of the store evicted when it is full.
func (c *TuningConfig) GetEvictionFraction() float64 {
	if c.EvictionFraction == nil {
		return 0.2
	}
	return *c.EvictionFraction
}

// GetSceneAnalysisInterval parses and returns the SceneAnalysisInterval as a time.Duration.
func (c *TuningConfig) GetSceneAnalysisInterval() time.Duration {
	return parseDurationOr(c.SceneAnalysisInterval, 60*time.Second)
}

// GetMatchThreshold returns the match_threshold value or the default.
func (c *TuningConfig) GetMatchThreshold() float64 {
	if c.MatchThreshold == nil {
		return 0.75
	}
	return *c.MatchThreshold
}

// GetRelationshipTolerance returns the relative distance tolerance used when
// comparing object pair distances between scenes.
func (c *TuningConfig) GetRelationshipTolerance() float64 {
	if c.RelationshipTolerance == nil {
		return 0.2
	}
	return *c.RelationshipTolerance
}

func (c *TuningConfig) GetDefaultROISize() int {
	if c.DefaultROISize == nil {
		return 100
	}
	return *c.DefaultROISize
}

// GetMinSaveInterval parses and returns the MinSaveInterval as a time.Duration.
func (c *TuningConfig) GetMinSaveInterval() time.Duration {
	return parseDurationOr(c.MinSaveInterval, 10*time.Second)
}

// GetStationaryTimeout parses and returns the StationaryTimeout as a time.Duration.
func (c *TuningConfig) GetStationaryTimeout() time.Duration {
	return parseDurationOr(c.StationaryTimeout, 120*time.Second)
}

func (c *TuningConfig) GetMaxTypeEntries() int {
	if c.MaxTypeEntries == nil {
		return 50
	}
	return *c.MaxTypeEntries
}

func (c *TuningConfig) GetJPEGQuality() int {
	if c.JPEGQuality == nil {
		return 90
	}
	return *c.JPEGQuality
}

func (c *TuningConfig) GetSnapshotTimezone() string {
	if c.SnapshotTimezone == nil {
		return ""
	}
	return *c.SnapshotTimezone
}

func (c *TuningConfig) GetQueueCapacity() int {
	if c.QueueCapacity == nil {
		return 10
	}
	return *c.QueueCapacity
}

func (c *TuningConfig) GetWorkerCount() int {
	if c.WorkerCount == nil {
		return 1
	}
	return *c.WorkerCount
}

// GetTrackingLockTimeout returns how long a worker waits for the tracking
// lock before treating the pipeline as deadlocked.
func (c *TuningConfig) GetTrackingLockTimeout() time.Duration {
	return parseDurationOr(c.TrackingLockTimeout, 5*time.Second)
}

// GetDrainOnShutdown returns the drain_on_shutdown value or the default.
func (c *TuningConfig) GetDrainOnShutdown() bool {
	if c.DrainOnShutdown == nil {
		return true // default: finish queued frames
	}
	return *c.DrainOnShutdown
}

func (c *TuningConfig) GetCounterCeiling() int64 {
	if c.CounterCeiling == nil {
		return 1_000_000
	}
	return *c.CounterCeiling
}

func (c *TuningConfig) GetCounterResetValue() int64 {
	if c.CounterResetValue == nil {
		return 100
	}
	return *c.CounterResetValue
}

func (c *TuningConfig) GetMinFPSWarning() float64 {
	if c.MinFPSWarning == nil {
		return 1.0
	}
	return *c.MinFPSWarning
}

func (c *TuningConfig) GetFPSWarningInterval() time.Duration {
	return parseDurationOr(c.FPSWarningInterval, 60*time.Second)
}

func (c *TuningConfig) GetReportInterval() time.Duration {
	return parseDurationOr(c.ReportInterval, 300*time.Second)
}

// GetSummaryInterval returns how often the detection summary is logged.
func (c *TuningConfig) GetSummaryInterval() time.Duration {
	return parseDurationOr(c.SummaryInterval, time.Hour)
}

func (c *TuningConfig) GetSystemCheckInterval() time.Duration {
	return parseDurationOr(c.SystemCheckInterval, 300*time.Second)
}

func (c *TuningConfig) GetDiskWarningPercent() float64 {
	if c.DiskWarningPercent == nil {
		return 90.0
	}
	return *c.DiskWarningPercent
}

func (c *TuningConfig) GetDiskCriticalPercent() float64 {
	if c.DiskCriticalPercent == nil {
		return 95.0
	}
	return *c.DiskCriticalPercent
}

func (c *TuningConfig) GetMinFreeDiskMB() int64 {
	if c.MinFreeDiskMB == nil {
		return 100
	}
	return *c.MinFreeDiskMB
}

// GetCPUTempWarning returns the warning temperature in degrees Celsius.
func (c *TuningConfig) GetCPUTempWarning() float64 {
	if c.CPUTempWarning == nil {
		return 75.0
	}
	return *c.CPUTempWarning
}

// GetCPUTempCritical returns the critical temperature in degrees Celsius.
func (c *TuningConfig) GetCPUTempCritical() float64 {
	if c.CPUTempCritical == nil {
		return 85.0
	}
	return *c.CPUTempCritical
}
