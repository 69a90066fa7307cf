package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/banshee-data/sightline.report/internal/timeutil"
)

// Submitter accepts frames without blocking.
type Submitter interface {
	Submit(f Frame) error
}

// BlankImage returns a uniform mid-grey RGBA image.
func BlankImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 96, G: 96, B: 96, A: 255}}, image.Point{}, draw.Src)
	return img
}

// RunSyntheticSource submits a blank frame to dst on every tick of interval
// until ctx is done or dst is closed. Dropped frames do not stop the source.
func RunSyntheticSource(ctx context.Context, dst Submitter, clock timeutil.Clock, interval time.Duration, width, height int) error {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			seq++
			err := dst.Submit(NewFrame(seq, BlankImage(width, height), clock.Now()))
			if errors.Is(err, ErrSchedulerClosed) {
				return nil
			}
		}
	}
}
