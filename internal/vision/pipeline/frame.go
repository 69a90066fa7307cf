package pipeline

import (
	"image"
	"time"

	"github.com/google/uuid"
)

// Frame is one captured image queued for processing.
type Frame struct {
	ID         uuid.UUID
	Seq        uint64
	CapturedAt time.Time
	Image      image.Image
}

// NewFrame assigns a fresh ID to img.
func NewFrame(seq uint64, img image.Image, capturedAt time.Time) Frame {
	return Frame{ID: uuid.New(), Seq: seq, CapturedAt: capturedAt, Image: img}
}
