package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/sightline.report/internal/timeutil"
	"github.com/banshee-data/sightline.report/internal/vision/tracks"
)

// TypeActivity is the per-type tally of a summary period. Consecutive
// stationary reports of one object count as a single stationary period.
type TypeActivity struct {
	Type              string `json:"type"`
	Entered           int64  `json:"entered"`
	Left              int64  `json:"left"`
	StationaryPeriods int64  `json:"stationary_periods"`
}

// SummaryReport covers the tracking activity between From and To.
type SummaryReport struct {
	From  time.Time      `json:"from"`
	To    time.Time      `json:"to"`
	Types []TypeActivity `json:"types"`
}

func (r SummaryReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s to %s: ", r.From.Format("15:04:05"), r.To.Format("15:04:05"))
	if len(r.Types) == 0 {
		b.WriteString("no detections")
		return b.String()
	}
	for i, a := range r.Types {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%dx %s entered", a.Entered, a.Type)
		if a.StationaryPeriods > 0 {
			fmt.Fprintf(&b, " (%d stationary)", a.StationaryPeriods)
		}
		if a.Left > 0 {
			fmt.Fprintf(&b, " %d left", a.Left)
		}
	}
	return b.String()
}

// DetectionSummary is an EventSink that tallies arrivals, departures and
// stationary periods per type. It keeps a running period, reset by
// FlushPeriod, and a total since creation. Events are forwarded to Next.
type DetectionSummary struct {
	Next EventSink

	clock timeutil.Clock

	mu          sync.Mutex
	started     time.Time
	periodStart time.Time
	period      map[string]*TypeActivity
	total       map[string]*TypeActivity
	stationary  map[int64]bool
}

// NewDetectionSummary starts both the period and the total at clock.Now.
func NewDetectionSummary(clock timeutil.Clock, next EventSink) *DetectionSummary {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	now := clock.Now()
	return &DetectionSummary{
		Next:        next,
		clock:       clock,
		started:     now,
		periodStart: now,
		period:      make(map[string]*TypeActivity),
		total:       make(map[string]*TypeActivity),
		stationary:  make(map[int64]bool),
	}
}

func (s *DetectionSummary) OnTrackingEvents(events []tracks.Event) {
	s.mu.Lock()
	for _, e := range events {
		switch e.Kind {
		case tracks.EventEntered:
			s.bump(e.Type, func(a *TypeActivity) { a.Entered++ })
		case tracks.EventLeft:
			delete(s.stationary, e.ObjectID)
			s.bump(e.Type, func(a *TypeActivity) { a.Left++ })
		case tracks.EventStationary:
			if !s.stationary[e.ObjectID] {
				s.stationary[e.ObjectID] = true
				s.bump(e.Type, func(a *TypeActivity) { a.StationaryPeriods++ })
			}
		case tracks.EventMoved:
			delete(s.stationary, e.ObjectID)
		}
	}
	s.mu.Unlock()

	if s.Next != nil {
		s.Next.OnTrackingEvents(events)
	}
}

func (s *DetectionSummary) bump(typ string, fn func(*TypeActivity)) {
	for _, m := range []map[string]*TypeActivity{s.period, s.total} {
		a, ok := m[typ]
		if !ok {
			a = &TypeActivity{Type: typ}
			m[typ] = a
		}
		fn(a)
	}
}

// Period returns the running period without resetting it.
func (s *DetectionSummary) Period() SummaryReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return report(s.periodStart, s.clock.Now(), s.period)
}

// Total returns the activity since the summary was created.
func (s *DetectionSummary) Total() SummaryReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return report(s.started, s.clock.Now(), s.total)
}

// FlushPeriod logs the running period to the ops stream and starts a new
// one.
func (s *DetectionSummary) FlushPeriod() {
	s.mu.Lock()
	now := s.clock.Now()
	r := report(s.periodStart, now, s.period)
	s.period = make(map[string]*TypeActivity)
	s.periodStart = now
	s.mu.Unlock()

	opsf("detection summary %s", r)
}

// LogTotal logs the activity since start to the ops stream.
func (s *DetectionSummary) LogTotal() {
	opsf("final detection summary %s", s.Total())
}

// report orders types by arrivals, most first, then by name.
func report(from, to time.Time, m map[string]*TypeActivity) SummaryReport {
	r := SummaryReport{From: from, To: to, Types: make([]TypeActivity, 0, len(m))}
	for _, a := range m {
		r.Types = append(r.Types, *a)
	}
	sort.Slice(r.Types, func(i, j int) bool {
		if r.Types[i].Entered != r.Types[j].Entered {
			return r.Types[i].Entered > r.Types[j].Entered
		}
		return r.Types[i].Type < r.Types[j].Type
	})
	return r
}
