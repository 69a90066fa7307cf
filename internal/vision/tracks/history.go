package tracks

import "github.com/banshee-data/sightline.report/internal/vision/detect"

// positionHistory is a fixed-capacity ring of recent centers. Index 0 is
// the oldest retained point.
type positionHistory struct {
	buf   []detect.Point
	start int
	n     int
}

func newPositionHistory(capacity int) positionHistory {
	if capacity < 1 {
		capacity = 1
	}
	return positionHistory{buf: make([]detect.Point, capacity)}
}

// push appends p, overwriting the oldest point when full.
func (h *positionHistory) push(p detect.Point) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = p
		h.n++
		return
	}
	h.buf[h.start] = p
	h.start = (h.start + 1) % len(h.buf)
}

func (h *positionHistory) size() int { return h.n }

func (h *positionHistory) at(i int) detect.Point {
	return h.buf[(h.start+i)%len(h.buf)]
}

// points returns the history oldest first as a new slice.
func (h *positionHistory) points() []detect.Point {
	out := make([]detect.Point, h.n)
	for i := range out {
		out[i] = h.at(i)
	}
	return out
}

// meanStep is the average distance between consecutive points.
func (h *positionHistory) meanStep() float64 {
	if h.n < 2 {
		return 0
	}
	var total float64
	for i := 1; i < h.n; i++ {
		total += h.at(i - 1).Distance(h.at(i))
	}
	return total / float64(h.n-1)
}

func (h *positionHistory) clone() positionHistory {
	c := positionHistory{buf: make([]detect.Point, len(h.buf)), start: h.start, n: h.n}
	copy(c.buf, h.buf)
	return c
}
