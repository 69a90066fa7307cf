package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrSchedulerClosed is returned by Submit after Close.
	ErrSchedulerClosed = errors.New("scheduler closed")
	// ErrQueueFull is returned by Submit when the frame was dropped.
	ErrQueueFull = errors.New("frame queue full")
)

// Stats is a point-in-time copy of the pipeline counters.
type Stats struct {
	Submitted        int64 `json:"submitted"`
	Dropped          int64 `json:"dropped"`
	Discarded        int64 `json:"discarded"`
	Processed        int64 `json:"processed"`
	DetectErrors     int64 `json:"detect_errors"`
	Saved            int64 `json:"saved"`
	SaveFailures     int64 `json:"save_failures"`
	SavesVetoed      int64 `json:"saves_vetoed"`
	ScenesNew        int64 `json:"scenes_new"`
	ScenesRecognized int64 `json:"scenes_recognized"`
	QueueDepth       int   `json:"queue_depth"`
	QueueCapacity    int   `json:"queue_capacity"`
	BurstActive      bool  `json:"burst_active"`
}

func (c *counters) snapshot() Stats {
	return Stats{
		Submitted:        c.submitted.Load(),
		Dropped:          c.dropped.Load(),
		Discarded:        c.discarded.Load(),
		Processed:        c.processed.Load(),
		DetectErrors:     c.detectErrors.Load(),
		Saved:            c.saved.Load(),
		SaveFailures:     c.saveFailures.Load(),
		SavesVetoed:      c.savesVetoed.Load(),
		ScenesNew:        c.scenesNew.Load(),
		ScenesRecognized: c.scenesRecognized.Load(),
		BurstActive:      c.burstActive.Load(),
	}
}

// Scheduler feeds frames from a bounded queue to a worker pool.
type Scheduler struct {
	cfg  Config
	proc *Processor

	queue  chan Frame
	mu     sync.RWMutex // guards sends on queue against Close
	closed atomic.Bool
}

// NewScheduler creates a Scheduler around proc.
func NewScheduler(cfg Config, proc *Processor) *Scheduler {
	cfg = cfg.normalized()
	return &Scheduler{
		cfg:   cfg,
		proc:  proc,
		queue: make(chan Frame, cfg.QueueCapacity),
	}
}

// Submit enqueues f without blocking. When the queue is full, or the
// scheduler is closed, the frame is dropped and counted.
func (s *Scheduler) Submit(f Frame) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.proc.stats
	st.submitted.Add(1)
	if s.closed.Load() {
		st.dropped.Add(1)
		return ErrSchedulerClosed
	}
	select {
	case s.queue <- f:
		return nil
	default:
		st.dropped.Add(1)
		tracef("frame %d dropped: queue full", f.Seq)
		return ErrQueueFull
	}
}

// Close stops accepting frames. Workers then drain or discard what is
// queued, depending on Config.DrainOnShutdown, and Run returns.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Swap(true) {
		return
	}
	close(s.queue)
}

// Run starts the workers and blocks until the queue is closed and empty,
// ctx is cancelled, or a worker fails fatally.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.WorkerCount; i++ {
		g.Go(func() error { return s.worker(gctx) })
	}
	err := g.Wait()
	if err != nil {
		opsf("pipeline stopped: %v", err)
	}
	return err
}

func (s *Scheduler) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-s.queue:
			if !ok {
				return nil
			}
			if s.closed.Load() && !s.cfg.DrainOnShutdown {
				s.proc.stats.discarded.Add(1)
				continue
			}
			if err := s.proc.Process(ctx, f); err != nil {
				if errors.Is(err, ErrTrackingLockTimeout) {
					return err
				}
				if ctx.Err() != nil {
					return nil
				}
				opsf("frame %d: %v", f.Seq, err)
			}
		}
	}
}

// Stats returns the pipeline counters including the current queue depth.
func (s *Scheduler) Stats() Stats {
	st := s.proc.stats.snapshot()
	st.QueueDepth = len(s.queue)
	st.QueueCapacity = cap(s.queue)
	return st
}

// Processor returns the processor the scheduler feeds.
func (s *Scheduler) Processor() *Processor { return s.proc }
