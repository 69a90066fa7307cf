package tracks

import (
	"math"
	"time"

	"github.com/banshee-data/sightline.report/internal/config"
	"github.com/banshee-data/sightline.report/internal/monitoring"
	"github.com/banshee-data/sightline.report/internal/vision/detect"
)

// distanceTolerance treats candidate distances this close as equal so the
// smaller ID wins deterministically.
const distanceTolerance = 1e-9

// TrackerConfig holds configuration parameters for the tracker.
type TrackerConfig struct {
	MaxMovementDistance       float64 // Largest per-frame jump still matched to an existing object (px)
	StationaryThreshold       float64 // Mean step distance at or below which an object is stationary (px)
	MovementLogThreshold      float64 // Displacement above which a move is significant (px)
	MaxPositionHistory        int     // Retained centers per object
	MaxFramesWithoutDetection int     // Unmatched frames tolerated before removal
	MaxTrackedObjects         int     // Store capacity
	EvictionFraction          float64 // Share of the store evicted when full
}

// DefaultTrackerConfig returns tracker configuration loaded from the
// canonical tuning defaults file (config/tuning.defaults.json).
// Panics if the file cannot be found; intended for tests and binaries
// that have already validated config availability.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfigFromTuning(config.MustLoadDefaultConfig())
}

// TrackerConfigFromTuning builds a TrackerConfig from a loaded TuningConfig.
func TrackerConfigFromTuning(cfg *config.TuningConfig) TrackerConfig {
	return TrackerConfig{
		MaxMovementDistance:       cfg.GetMaxMovementDistance(),
		StationaryThreshold:       cfg.GetStationaryThreshold(),
		MovementLogThreshold:      cfg.GetMovementLogThreshold(),
		MaxPositionHistory:        cfg.GetMaxPositionHistory(),
		MaxFramesWithoutDetection: cfg.GetMaxFramesWithoutDetection(),
		MaxTrackedObjects:         cfg.GetMaxTrackedObjects(),
		EvictionFraction:          cfg.GetEvictionFraction(),
	}
}

// Tracker maintains object identity across frames.
type Tracker struct {
	Config TrackerConfig

	store  *Store
	nextID int64
}

// NewTracker creates a new tracker with the specified configuration.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{
		Config: cfg,
		store:  NewStore(cfg.MaxTrackedObjects, OldestFraction(cfg.EvictionFraction)),
		nextID: 1,
	}
}

// Reset clears all objects. IDs keep increasing so events from before and
// after the reset never share an ID.
func (t *Tracker) Reset() {
	t.store.Clear()
}

// Len returns the number of tracked objects.
func (t *Tracker) Len() int { return t.store.Len() }

// Get returns a copy of the object with id.
func (t *Tracker) Get(id int64) (TrackedObject, bool) {
	o := t.store.Get(id)
	if o == nil {
		return TrackedObject{}, false
	}
	return o.clone(), true
}

// Snapshot returns deep copies of every tracked object in ID order.
func (t *Tracker) Snapshot() []TrackedObject {
	out := make([]TrackedObject, 0, t.store.Len())
	t.store.Each(func(o *TrackedObject) {
		out = append(out, o.clone())
	})
	return out
}

// Update applies one frame of detections and returns the resulting events
// in the order they occurred.
func (t *Tracker) Update(detections []detect.Detection, now time.Time) []Event {
	var events []Event
	touched := make(map[int64]bool, len(detections))

	for _, d := range detections {
		// Step 1: reject malformed input, compute center
		if err := d.Validate(); err != nil {
			monitoring.Logf("tracker: skipping detection: %v", err)
			continue
		}
		center := d.Box.Center()

		// Step 2: closest same-type object within range
		best := t.closest(d.Class, center, touched)

		if best != nil {
			// Step 3: update matched object
			events = append(events, t.updateObject(best, d, center, now))
			touched[best.ID] = true
			continue
		}

		// Step 4: new object, evicting first if the store is full
		obj := t.newObject(d, center, now)
		for _, ev := range t.store.Insert(obj) {
			events = append(events, leftEvent(ev, LeftEvicted))
		}
		touched[obj.ID] = true
		events = append(events, Event{
			Kind:       EventEntered,
			ObjectID:   obj.ID,
			Type:       obj.Type,
			Position:   center,
			Confidence: d.Confidence,
		})
	}

	// Step 6: age unmatched objects and expire the stale ones
	var expired []int64
	t.store.Each(func(o *TrackedObject) {
		if touched[o.ID] {
			return
		}
		o.IsNew = false
		o.WasPresentLastFrame = false
		o.FramesSinceLastSeen++
		if o.FramesSinceLastSeen > t.Config.MaxFramesWithoutDetection {
			expired = append(expired, o.ID)
		}
	})
	for _, id := range expired {
		if o := t.store.Remove(id); o != nil {
			events = append(events, leftEvent(*o, LeftExpired))
		}
	}

	return events
}

// closest finds the nearest object of class strictly within
// MaxMovementDistance, skipping objects already claimed this frame.
func (t *Tracker) closest(class string, center detect.Point, claimed map[int64]bool) *TrackedObject {
	var best *TrackedObject
	bestDist := math.Inf(1)
	t.store.Each(func(o *TrackedObject) {
		if o.Type != class || claimed[o.ID] {
			return
		}
		dist := o.Center.Distance(center)
		if dist >= t.Config.MaxMovementDistance {
			return
		}
		// Iteration is in ascending ID order, so only a strictly closer
		// object displaces the current best.
		if dist < bestDist-distanceTolerance {
			best = o
			bestDist = dist
		}
	})
	return best
}

func (t *Tracker) updateObject(o *TrackedObject, d detect.Detection, center detect.Point, now time.Time) Event {
	from := o.Center
	dist := from.Distance(center)

	o.PreviousCenter = from
	o.Center = center
	o.Box = d.Box
	o.Confidence = d.Confidence
	o.history.push(center)
	o.IsNew = false
	o.WasPresentLastFrame = true
	o.FramesSinceLastSeen = 0
	o.LastSeen = now

	// Step 5: stationary recomputation
	o.updateStationary(t.Config.StationaryThreshold, now)

	kind := EventMoved
	if o.IsStationary {
		kind = EventStationary
	}
	return Event{
		Kind:        kind,
		ObjectID:    o.ID,
		Type:        o.Type,
		Position:    center,
		From:        from,
		To:          center,
		Distance:    dist,
		Significant: dist > t.Config.MovementLogThreshold,
		Confidence:  d.Confidence,
	}
}

func (t *Tracker) newObject(d detect.Detection, center detect.Point, now time.Time) *TrackedObject {
	obj := &TrackedObject{
		ID:                  t.nextID,
		Type:                d.Class,
		Center:              center,
		PreviousCenter:      center,
		Box:                 d.Box,
		Confidence:          d.Confidence,
		IsNew:               true,
		WasPresentLastFrame: true,
		FirstSeen:           now,
		LastSeen:            now,
		history:             newPositionHistory(t.Config.MaxPositionHistory),
	}
	obj.history.push(center)
	t.nextID++
	return obj
}
