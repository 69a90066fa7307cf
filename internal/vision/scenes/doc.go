// Package scenes fingerprints a settled set of stationary objects and
// matches it against previously persisted scenes.
//
// A fingerprint combines per-type counts, a 4x4 occupancy histogram over
// the frame and the pairwise geometry between objects. Similarity is a
// weighted sum of the three (0.4, 0.4, 0.2). The Matcher serialises all
// store access behind its own lock, separate from the tracking lock.
package scenes
