// Package savepolicy decides which frames are worth writing to disk.
//
// A frame is saved immediately when something new appears, suppressed while
// a scene has sat unchanged past the stationary timeout, and otherwise rate
// limited. Policy and Burst hold no lock of their own; the pipeline guards
// them with the tracking lock.
package savepolicy
