package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/sightline.report/internal/monitoring"
	"github.com/banshee-data/sightline.report/internal/timeutil"
	"github.com/banshee-data/sightline.report/internal/vision/detect"
	"github.com/banshee-data/sightline.report/internal/vision/savepolicy"
	"github.com/banshee-data/sightline.report/internal/vision/scenes"
	"github.com/banshee-data/sightline.report/internal/vision/tracks"
)

// ErrTrackingLockTimeout is returned when the tracking lock could not be
// acquired within Config.TrackingLockTimeout.
var ErrTrackingLockTimeout = errors.New("tracking lock timeout")

// Components are the collaborators a Processor drives. Detector and Tracker
// are required; everything else is optional.
type Components struct {
	Detector detect.Detector
	Filter   *detect.Filter
	Tracker  *tracks.Tracker
	Policy   *savepolicy.Policy
	Trigger  *scenes.AnalysisTrigger
	Matcher  *scenes.Matcher

	Events  EventSink
	Saves   SaveSink
	Scenes  SceneSink
	Advisor Advisor
	Perf    *monitoring.PerformanceMonitor
	Clock   timeutil.Clock
}

// counters are shared between a Processor and its Scheduler.
type counters struct {
	submitted        atomic.Int64
	dropped          atomic.Int64
	discarded        atomic.Int64
	processed        atomic.Int64
	detectErrors     atomic.Int64
	saved            atomic.Int64
	saveFailures     atomic.Int64
	savesVetoed      atomic.Int64
	scenesNew        atomic.Int64
	scenesRecognized atomic.Int64
	burstActive      atomic.Bool
}

// Processor runs one frame at a time through the full analysis chain.
// Tracker, Policy, Burst and Trigger form the tracking state and are only
// touched while holding trackLock.
type Processor struct {
	cfg Config
	c   Components

	trackLock chan struct{}
	burst     savepolicy.Burst

	stats *counters
}

// NewProcessor validates c and creates a Processor.
func NewProcessor(cfg Config, c Components) (*Processor, error) {
	if c.Detector == nil {
		return nil, fmt.Errorf("pipeline: detector is required")
	}
	if c.Tracker == nil {
		return nil, fmt.Errorf("pipeline: tracker is required")
	}
	if c.Policy == nil {
		c.Policy = savepolicy.NewPolicy(savepolicy.Config{})
	}
	if c.Trigger == nil {
		c.Trigger = scenes.NewAnalysisTrigger(time.Minute)
	}
	if c.Events == nil {
		c.Events = LogEventSink{}
	}
	if c.Scenes == nil {
		c.Scenes = LogSceneSink{}
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	return &Processor{
		cfg:       cfg.normalized(),
		c:         c,
		trackLock: make(chan struct{}, 1),
		stats:     &counters{},
	}, nil
}

// lockTracking acquires the tracking lock, giving up after the configured
// timeout or when ctx is done.
func (p *Processor) lockTracking(ctx context.Context) error {
	select {
	case p.trackLock <- struct{}{}:
		return nil
	default:
	}
	timer := time.NewTimer(p.cfg.TrackingLockTimeout)
	defer timer.Stop()
	select {
	case p.trackLock <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrTrackingLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) unlockTracking() { <-p.trackLock }

// Process analyses one frame. Detector, save and store failures are logged
// and absorbed; only a tracking lock failure is returned.
func (p *Processor) Process(ctx context.Context, f Frame) error {
	start := p.c.Clock.Now()
	now := f.CapturedAt
	if now.IsZero() {
		now = start
	}

	dets, err := p.c.Detector.Detect(ctx, f.Image)
	if err != nil {
		p.stats.detectErrors.Add(1)
		opsf("frame %d (%s): detection failed: %v", f.Seq, f.ID, err)
		return nil
	}

	kept := dets
	if p.c.Filter != nil {
		var rejected []detect.Rejection
		kept, rejected = p.c.Filter.Apply(dets)
		for _, r := range rejected {
			opsf("frame %d: rejected detection: %v", f.Seq, r.Reason)
		}
	}
	counts := savepolicy.CountDetections(kept, p.cfg.MaxTypes)

	if err := p.lockFrame(ctx, f); err != nil {
		return err
	}
	events, objects, job, analyze := p.updateTracking(f, kept, counts, now)
	p.unlockTracking()

	if job != nil {
		if err := p.save(ctx, f, kept, *job, now); err != nil {
			return err
		}
	}

	if len(events) > 0 {
		p.c.Events.OnTrackingEvents(events)
	}

	if analyze {
		p.analyzeScene(ctx, f, objects, now)
	}

	if p.c.Perf != nil {
		types := make([]string, len(kept))
		for i, d := range kept {
			types[i] = d.Class
		}
		p.c.Perf.RecordFrame(p.c.Clock.Since(start), types)
	}
	p.stats.processed.Add(1)
	tracef("frame %d: %d detections, %d kept, %d events, %d tracked", f.Seq, len(dets), len(kept), len(events), len(objects))
	return nil
}

// saveJob is a save decided and reserved under the tracking lock.
type saveJob struct {
	counts savepolicy.TypeCounts
	reason savepolicy.Reason
}

func (p *Processor) lockFrame(ctx context.Context, f Frame) error {
	err := p.lockTracking(ctx)
	if errors.Is(err, ErrTrackingLockTimeout) {
		opsf("frame %d: could not acquire tracking lock within %v", f.Seq, p.cfg.TrackingLockTimeout)
	}
	return err
}

// updateTracking runs every step that reads or writes tracking state. The
// caller holds the tracking lock. A positive save decision is reserved in
// the policy and returned for the caller to write after unlocking.
func (p *Processor) updateTracking(f Frame, kept []detect.Detection, counts savepolicy.TypeCounts, now time.Time) ([]tracks.Event, []tracks.TrackedObject, *saveJob, bool) {
	events := p.c.Tracker.Update(kept, now)
	objects := p.c.Tracker.Snapshot()

	novel := p.c.Policy.Novel(counts, objects)
	if p.burst.Update(novel, objects, now) {
		if p.burst.Active() {
			diagf("burst started at frame %d", f.Seq)
		} else {
			diagf("burst ended at frame %d", f.Seq)
		}
		p.stats.burstActive.Store(p.burst.Active())
	}

	var job *saveJob
	if ok, reason := p.c.Policy.Decide(counts, objects, now); ok {
		if p.c.Policy.Reserve() {
			job = &saveJob{counts: counts, reason: reason}
		} else {
			diagf("frame %d: save skipped (%s), another save is in flight", f.Seq, reason)
		}
	}

	analyze := p.c.Matcher != nil && p.c.Trigger.ShouldAnalyze(objects, now)
	if analyze {
		p.c.Trigger.MarkAnalyzed(now)
	}
	return events, objects, job, analyze
}

// save writes a reserved frame without holding the tracking lock, then
// retakes the lock to commit the policy state on success or release the
// reservation otherwise.
func (p *Processor) save(ctx context.Context, f Frame, kept []detect.Detection, job saveJob, now time.Time) error {
	ok := p.write(ctx, f, kept)

	if err := p.lockFrame(ctx, f); err != nil {
		return err
	}
	defer p.unlockTracking()
	if !ok {
		p.c.Policy.Release()
		return nil
	}
	p.c.Policy.RecordSave(job.counts, now)
	p.stats.saved.Add(1)
	diagf("frame %d saved (%s): %v", f.Seq, job.reason, job.counts.Types())
	return nil
}

// write hands the frame to the save sink unless the host is under critical
// pressure.
func (p *Processor) write(ctx context.Context, f Frame, kept []detect.Detection) bool {
	if p.c.Advisor != nil {
		if adv := p.c.Advisor.Advisory(); adv.Critical() {
			p.stats.savesVetoed.Add(1)
			diagf("frame %d: save vetoed (%s): %v", f.Seq, adv.Level, adv.Reasons)
			return false
		}
	}
	if p.c.Saves != nil {
		if err := p.c.Saves.Save(ctx, f, kept); err != nil {
			p.stats.saveFailures.Add(1)
			opsf("frame %d: save failed: %v", f.Seq, err)
			return false
		}
	}
	return true
}

func (p *Processor) analyzeScene(ctx context.Context, f Frame, objects []tracks.TrackedObject, now time.Time) {
	ev, ok := p.c.Matcher.Analyze(ctx, f.Image, objects, now)
	if !ok {
		return
	}
	switch ev.Kind {
	case scenes.NewScene:
		p.stats.scenesNew.Add(1)
	case scenes.RecognizedScene:
		p.stats.scenesRecognized.Add(1)
	}
	p.c.Scenes.OnSceneEvent(ev)
}

// TrackedObjects returns a snapshot of the tracker under the tracking lock.
func (p *Processor) TrackedObjects(ctx context.Context) ([]tracks.TrackedObject, error) {
	if err := p.lockTracking(ctx); err != nil {
		return nil, err
	}
	defer p.unlockTracking()
	return p.c.Tracker.Snapshot(), nil
}

// SaveState returns the policy state under the tracking lock.
func (p *Processor) SaveState(ctx context.Context) (savepolicy.SaveState, error) {
	if err := p.lockTracking(ctx); err != nil {
		return savepolicy.SaveState{}, err
	}
	defer p.unlockTracking()
	return p.c.Policy.State(), nil
}

// Stats returns the processing counters. Queue fields are zero unless the
// Processor is owned by a Scheduler.
func (p *Processor) Stats() Stats {
	return p.stats.snapshot()
}
