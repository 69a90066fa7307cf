package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sightline.report/internal/timeutil"
)

type recordingSubmitter struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (r *recordingSubmitter) Submit(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return r.err
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestRunSyntheticSource_SubmitsOnTick(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	sub := &recordingSubmitter{err: ErrQueueFull}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunSyntheticSource(ctx, sub, clock, time.Second, 32, 24) }()

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return sub.count() >= 3
	}, 2*time.Second, 5*time.Millisecond, "dropped frames do not stop the source")

	cancel()
	require.NoError(t, <-done)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	for i, f := range sub.frames {
		assert.Equal(t, uint64(i+1), f.Seq)
		assert.Equal(t, 32, f.Image.Bounds().Dx())
		assert.Equal(t, 24, f.Image.Bounds().Dy())
		assert.False(t, f.CapturedAt.Before(t0))
	}
}

func TestRunSyntheticSource_StopsWhenClosed(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	sub := &recordingSubmitter{err: ErrSchedulerClosed}
	done := make(chan error, 1)
	go func() { done <- RunSyntheticSource(context.Background(), sub, clock, time.Second, 8, 8) }()

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		select {
		case err := <-done:
			require.NoError(t, err)
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, sub.count())
}

func TestBlankImage(t *testing.T) {
	img := BlankImage(4, 3)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 3, img.Bounds().Dy())
	r, g, b, a := img.At(2, 1).RGBA()
	assert.Equal(t, uint32(96*0x101), r)
	assert.Equal(t, r, g)
	assert.Equal(t, r, b)
	assert.Equal(t, uint32(0xffff), a)
}

func TestNewFrame_AssignsUniqueIDs(t *testing.T) {
	a := NewFrame(1, nil, t0)
	b := NewFrame(1, nil, t0)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, t0, a.CapturedAt)
}

func TestConfigFromDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Positive(t, cfg.QueueCapacity)
	assert.Positive(t, cfg.WorkerCount)
	assert.Equal(t, 5*time.Second, cfg.TrackingLockTimeout)
	assert.True(t, cfg.DrainOnShutdown)
	assert.Equal(t, 50, cfg.MaxTypes)
}
