package savepolicy

import (
	"time"

	"github.com/banshee-data/sightline.report/internal/vision/tracks"
)

// Burst tracks whether the scene is in a period of activity. It turns on
// when something new appears and off once the scene is empty or has fully
// settled.
type Burst struct {
	active bool
	since  time.Time
}

// Update applies one frame and reports whether the burst state changed.
func (b *Burst) Update(novel bool, objects []tracks.TrackedObject, now time.Time) (changed bool) {
	if novel {
		if !b.active {
			b.active = true
			b.since = now
			return true
		}
		return false
	}
	if b.active && settled(objects) {
		b.active = false
		b.since = time.Time{}
		return true
	}
	return false
}

// Active reports whether a burst is in progress.
func (b *Burst) Active() bool { return b.active }

// Since returns when the current burst started, or zero.
func (b *Burst) Since() time.Time { return b.since }

// settled is true when nothing is present or everything present is
// stationary.
func settled(objects []tracks.TrackedObject) bool {
	for _, o := range objects {
		if o.WasPresentLastFrame && !o.IsStationary {
			return false
		}
	}
	return true
}
