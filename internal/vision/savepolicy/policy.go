package savepolicy

import (
	"time"

	"github.com/banshee-data/sightline.report/internal/config"
	"github.com/banshee-data/sightline.report/internal/vision/tracks"
)

// Config holds the save policy thresholds.
type Config struct {
	MinSaveInterval   time.Duration // Minimum gap between routine saves
	StationaryTimeout time.Duration // Stationary age after which saves are suppressed
	MaxTypes          int           // Cap on distinct types counted per frame
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		MinSaveInterval:   cfg.GetMinSaveInterval(),
		StationaryTimeout: cfg.GetStationaryTimeout(),
		MaxTypes:          cfg.GetMaxTypeEntries(),
	}
}

// SaveState is what the policy remembers about the previous save.
type SaveState struct {
	LastSavedCounts  TypeCounts
	LastSavedTime    time.Time
	TotalImagesSaved int64
}

// Reason explains a save decision.
type Reason int

const (
	NoObjects Reason = iota
	Novelty
	Suppressed
	RateLimited
	IntervalElapsed
)

func (r Reason) String() string {
	switch r {
	case NoObjects:
		return "no objects"
	case Novelty:
		return "novelty"
	case Suppressed:
		return "stationary suppression"
	case RateLimited:
		return "rate limited"
	case IntervalElapsed:
		return "interval elapsed"
	default:
		return "unknown"
	}
}

// Policy decides whether the current frame should be saved.
type Policy struct {
	cfg     Config
	state   SaveState
	pending bool
}

// NewPolicy creates a Policy with an empty SaveState.
func NewPolicy(cfg Config) *Policy {
	return &Policy{cfg: cfg}
}

// ShouldSave reports whether a frame with counts and the tracker snapshot
// objects should be saved at now.
func (p *Policy) ShouldSave(counts TypeCounts, objects []tracks.TrackedObject, now time.Time) bool {
	ok, _ := p.Decide(counts, objects, now)
	return ok
}

// Decide is ShouldSave with the rule that produced the answer.
func (p *Policy) Decide(counts TypeCounts, objects []tracks.TrackedObject, now time.Time) (bool, Reason) {
	if len(counts) == 0 {
		return false, NoObjects
	}
	if p.Novel(counts, objects) {
		return true, Novelty
	}
	if p.allStationaryPastTimeout(objects, now) {
		return false, Suppressed
	}
	if !p.state.LastSavedTime.IsZero() && now.Sub(p.state.LastSavedTime) < p.cfg.MinSaveInterval {
		return false, RateLimited
	}
	return true, IntervalElapsed
}

// Novel reports whether counts or objects are new relative to the last save.
func (p *Policy) Novel(counts TypeCounts, objects []tracks.TrackedObject) bool {
	return IsNovel(counts, p.state.LastSavedCounts, objects)
}

// IsNovel reports whether counts adds or increases a type over previous, or
// whether any object was created in this frame.
func IsNovel(counts, previous TypeCounts, objects []tracks.TrackedObject) bool {
	if counts.HasNovelty(previous) {
		return true
	}
	for _, o := range objects {
		if o.IsNew && o.FramesSinceLastSeen == 0 {
			return true
		}
	}
	return false
}

func (p *Policy) allStationaryPastTimeout(objects []tracks.TrackedObject, now time.Time) bool {
	present := 0
	for _, o := range objects {
		if !o.WasPresentLastFrame {
			continue
		}
		present++
		if !o.IsStationary || o.StationaryFor(now) < p.cfg.StationaryTimeout {
			return false
		}
	}
	return present > 0
}

// Reserve claims the right to write the next save. It fails while another
// save is in flight; the claim ends with RecordSave or Release.
func (p *Policy) Reserve() bool {
	if p.pending {
		return false
	}
	p.pending = true
	return true
}

// Release drops a reservation without changing the save state.
func (p *Policy) Release() { p.pending = false }

// Pending reports whether a reserved save has not yet been committed or
// released.
func (p *Policy) Pending() bool { return p.pending }

// RecordSave commits a successful save of counts at now and ends any
// reservation.
func (p *Policy) RecordSave(counts TypeCounts, now time.Time) {
	p.state.LastSavedCounts = counts.Clone()
	p.state.LastSavedTime = now
	p.state.TotalImagesSaved++
	p.pending = false
}

// State returns a copy of the save state.
func (p *Policy) State() SaveState {
	s := p.state
	s.LastSavedCounts = p.state.LastSavedCounts.Clone()
	return s
}
