package tracks

import (
	"fmt"

	"github.com/banshee-data/sightline.report/internal/vision/detect"
)

// EventKind classifies a tracking event.
type EventKind int

const (
	EventEntered    EventKind = iota // A new object was created
	EventMoved                       // A matched object is moving
	EventStationary                  // A matched object is stationary
	EventLeft                        // An object was expired or evicted
)

func (k EventKind) String() string {
	switch k {
	case EventEntered:
		return "entered"
	case EventMoved:
		return "moved"
	case EventStationary:
		return "stationary"
	case EventLeft:
		return "left"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Reasons carried by EventLeft.
const (
	LeftExpired = "expired"
	LeftEvicted = "evicted"
)

// Event is emitted by Tracker.Update for logging and notification sinks.
// From, To, Distance and Significant are set for moved and stationary
// events; Reason is set for left events.
type Event struct {
	Kind        EventKind
	ObjectID    int64
	Type        string
	Position    detect.Point
	From        detect.Point
	To          detect.Point
	Distance    float64
	Significant bool // Displacement exceeded the movement log threshold
	Confidence  float64
	Reason      string
}

func (e Event) String() string {
	switch e.Kind {
	case EventEntered:
		return fmt.Sprintf("%s #%d entered at (%.0f,%.0f) conf=%.2f", e.Type, e.ObjectID, e.Position.X, e.Position.Y, e.Confidence)
	case EventMoved, EventStationary:
		return fmt.Sprintf("%s #%d %s (%.0f,%.0f)->(%.0f,%.0f) %.1fpx", e.Type, e.ObjectID, e.Kind, e.From.X, e.From.Y, e.To.X, e.To.Y, e.Distance)
	case EventLeft:
		return fmt.Sprintf("%s #%d left (%s)", e.Type, e.ObjectID, e.Reason)
	default:
		return fmt.Sprintf("%s #%d %s", e.Type, e.ObjectID, e.Kind)
	}
}

func leftEvent(o TrackedObject, reason string) Event {
	return Event{
		Kind:       EventLeft,
		ObjectID:   o.ID,
		Type:       o.Type,
		Position:   o.Center,
		Confidence: o.Confidence,
		Reason:     reason,
	}
}
