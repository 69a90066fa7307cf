// Package tracks owns per-frame object identity for the vision pipeline.
//
// Responsibilities: closest-match association of detections to tracked
// objects, movement and stationary classification, and bounded-memory
// eviction of stale or excess objects.
// Key types: Tracker, Store, TrackedObject, Event.
//
// Concurrency: Tracker and Store are not safe for concurrent use. The frame
// pipeline serialises every call under its tracking lock and hands other
// components value snapshots taken while holding it.
package tracks
