package detect

import (
	"github.com/banshee-data/sightline.report/internal/config"
)

// Rejection records a detection dropped by the filter because it was
// malformed. Detections that are merely off-target or low-confidence are
// dropped silently.
type Rejection struct {
	Detection Detection
	Reason    error
}

// Filter keeps detections of the configured target classes above a
// confidence floor.
type Filter struct {
	targets       map[string]struct{}
	minConfidence float64
}

// NewFilter creates a Filter. An empty class list accepts every class.
func NewFilter(classes []string, minConfidence float64) *Filter {
	targets := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		targets[c] = struct{}{}
	}
	return &Filter{targets: targets, minConfidence: minConfidence}
}

// FilterFromTuning builds a Filter from a loaded TuningConfig.
func FilterFromTuning(cfg *config.TuningConfig) *Filter {
	return NewFilter(cfg.GetTargetClasses(), cfg.GetMinConfidence())
}

// IsTarget reports whether class is tracked.
func (f *Filter) IsTarget(class string) bool {
	if len(f.targets) == 0 {
		return true
	}
	_, ok := f.targets[class]
	return ok
}

// Apply returns the accepted detections in input order, plus the malformed
// ones with their reasons.
func (f *Filter) Apply(in []Detection) (kept []Detection, rejected []Rejection) {
	kept = make([]Detection, 0, len(in))
	for _, d := range in {
		if err := d.Validate(); err != nil {
			rejected = append(rejected, Rejection{Detection: d, Reason: err})
			continue
		}
		if !f.IsTarget(d.Class) || d.Confidence < f.minConfidence {
			continue
		}
		kept = append(kept, d)
	}
	return kept, rejected
}
