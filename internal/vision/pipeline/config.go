package pipeline

import (
	"time"

	"github.com/banshee-data/sightline.report/internal/config"
)

// Config holds queueing and locking parameters.
type Config struct {
	QueueCapacity       int           // Frames buffered before new ones are dropped
	WorkerCount         int           // Concurrent Process calls
	TrackingLockTimeout time.Duration // Wait for the tracking lock before giving up
	DrainOnShutdown     bool          // Process queued frames after Close instead of discarding them
	MaxTypes            int           // Distinct types counted per frame
}

// DefaultConfig returns pipeline configuration loaded from the canonical
// tuning defaults file. Panics if the file cannot be found.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		QueueCapacity:       cfg.GetQueueCapacity(),
		WorkerCount:         cfg.GetWorkerCount(),
		TrackingLockTimeout: cfg.GetTrackingLockTimeout(),
		DrainOnShutdown:     cfg.GetDrainOnShutdown(),
		MaxTypes:            cfg.GetMaxTypeEntries(),
	}
}

func (c Config) normalized() Config {
	if c.QueueCapacity < 1 {
		c.QueueCapacity = 1
	}
	if c.WorkerCount < 1 {
		c.WorkerCount = 1
	}
	if c.TrackingLockTimeout <= 0 {
		c.TrackingLockTimeout = 5 * time.Second
	}
	return c
}
