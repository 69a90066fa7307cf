// Package pipeline runs frames through detection, tracking, the save policy
// and scene analysis.
//
// A Scheduler owns a bounded queue that never blocks producers and a fixed
// pool of workers. Each worker hands frames to a Processor, which serialises
// all tracking state behind a single lock acquired with a timeout. Failing
// to acquire that lock is the only fatal error: the worker stops, Run
// returns ErrTrackingLockTimeout and the process is expected to restart.
package pipeline
