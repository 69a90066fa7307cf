package detect

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"strings"
	"sync"
)

// ReplayDetector implements Detector by replaying recorded detections. Each
// non-empty line of the fixture is a JSON array of detections for one
// frame; frames are returned in order and wrap around at the end.
type ReplayDetector struct {
	mu     sync.Mutex
	frames [][]Detection
	next   int

	// DetectError, when set, is returned by every Detect call.
	DetectError error
}

// NewReplayDetector parses JSON Lines fixtures from r.
func NewReplayDetector(r io.Reader) (*ReplayDetector, error) {
	var frames [][]Detection
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var dets []Detection
		if err := json.Unmarshal([]byte(text), &dets); err != nil {
			return nil, fmt.Errorf("fixture line %d: %w", line, err)
		}
		frames = append(frames, dets)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("fixtures contain no frames")
	}
	return &ReplayDetector{frames: frames}, nil
}

// LoadReplayDetector opens a fixture file and parses it.
func LoadReplayDetector(path string) (*ReplayDetector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixtures: %w", err)
	}
	defer f.Close()
	return NewReplayDetector(f)
}

// Detect returns the next recorded frame. The frame pixels are ignored.
func (r *ReplayDetector) Detect(ctx context.Context, _ image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DetectError != nil {
		return nil, r.DetectError
	}
	dets := r.frames[r.next]
	r.next = (r.next + 1) % len(r.frames)
	return append([]Detection(nil), dets...), nil
}

// Len returns the number of recorded frames.
func (r *ReplayDetector) Len() int { return len(r.frames) }

func (r *ReplayDetector) Name() string      { return "replay" }
func (r *ReplayDetector) SupportsGPU() bool { return false }

func (r *ReplayDetector) SetGPU(enabled bool) error {
	if enabled {
		return fmt.Errorf("replay detector has no GPU support")
	}
	return nil
}
