package pipeline

import (
	"context"

	"github.com/banshee-data/sightline.report/internal/monitoring"
	"github.com/banshee-data/sightline.report/internal/vision/detect"
	"github.com/banshee-data/sightline.report/internal/vision/scenes"
	"github.com/banshee-data/sightline.report/internal/vision/tracks"
)

// EventSink receives the tracking events of each frame.
type EventSink interface {
	OnTrackingEvents(events []tracks.Event)
}

// SaveSink persists a frame the save policy selected.
type SaveSink interface {
	Save(ctx context.Context, frame Frame, detections []detect.Detection) error
}

// SceneSink receives scene analysis results.
type SceneSink interface {
	OnSceneEvent(ev scenes.Event)
}

// Advisor reports host resource pressure. A critical advisory vetoes saves.
type Advisor interface {
	Advisory() monitoring.Advisory
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func([]tracks.Event)

func (f EventSinkFunc) OnTrackingEvents(events []tracks.Event) { f(events) }

// SceneSinkFunc adapts a function to SceneSink.
type SceneSinkFunc func(scenes.Event)

func (f SceneSinkFunc) OnSceneEvent(ev scenes.Event) { f(ev) }

// LogEventSink writes arrivals, departures and significant moves to the
// diag stream.
type LogEventSink struct{}

func (LogEventSink) OnTrackingEvents(events []tracks.Event) {
	for _, e := range events {
		switch e.Kind {
		case tracks.EventMoved:
			if e.Significant {
				diagf("%s", e)
			}
		case tracks.EventEntered, tracks.EventLeft:
			diagf("%s", e)
		}
	}
}

// LogSceneSink writes scene results to the diag stream.
type LogSceneSink struct{}

func (LogSceneSink) OnSceneEvent(ev scenes.Event) { diagf("%s", ev) }
