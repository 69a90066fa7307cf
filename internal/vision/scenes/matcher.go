package scenes

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/sightline.report/internal/config"
	"github.com/banshee-data/sightline.report/internal/monitoring"
	"github.com/banshee-data/sightline.report/internal/vision/tracks"
)

// Record is a persisted scene. Records are never modified once stored.
type Record struct {
	ID          int64
	CreatedAt   time.Time
	Description string
	Fingerprint Fingerprint
}

// Store persists scene records.
type Store interface {
	// ListScenes returns every stored record in ascending ID order.
	ListScenes(ctx context.Context) ([]Record, error)
	// InsertScene stores rec with its objects and relationships atomically
	// and returns the assigned ID.
	InsertScene(ctx context.Context, rec Record) (int64, error)
}

// EventKind distinguishes new scenes from recognised ones.
type EventKind int

const (
	NewScene EventKind = iota
	RecognizedScene
)

func (k EventKind) String() string {
	if k == RecognizedScene {
		return "recognized"
	}
	return "new"
}

// Event reports the outcome of a scene analysis.
type Event struct {
	Kind        EventKind
	SceneID     int64
	Description string
	Score       float64 // Best similarity; zero for new scenes
	At          time.Time
}

func (e Event) String() string {
	if e.Kind == RecognizedScene {
		return fmt.Sprintf("recognized scene #%d (%s) score=%.3f", e.SceneID, e.Description, e.Score)
	}
	return fmt.Sprintf("new scene #%d (%s)", e.SceneID, e.Description)
}

// MatcherConfig holds matching thresholds.
type MatcherConfig struct {
	MatchThreshold        float64 // Minimum similarity to recognise a stored scene
	RelationshipTolerance float64
	DefaultROISize        int
}

// MatcherConfigFromTuning builds a MatcherConfig from a loaded TuningConfig.
func MatcherConfigFromTuning(cfg *config.TuningConfig) MatcherConfig {
	return MatcherConfig{
		MatchThreshold:        cfg.GetMatchThreshold(),
		RelationshipTolerance: cfg.GetRelationshipTolerance(),
		DefaultROISize:        cfg.GetDefaultROISize(),
	}
}

// Matcher compares fingerprints with stored scenes and persists new ones.
// mu is the store lock; all Store calls happen under it.
type Matcher struct {
	cfg     MatcherConfig
	builder *Builder

	mu    sync.Mutex
	store Store
}

// NewMatcher creates a Matcher over store.
func NewMatcher(cfg MatcherConfig, store Store) *Matcher {
	return &Matcher{
		cfg:     cfg,
		builder: NewBuilder(cfg.DefaultROISize),
		store:   store,
	}
}

// SetSampler replaces the color sampler used when building fingerprints.
func (m *Matcher) SetSampler(s ColorSampler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.builder.Sampler = s
}

// Analyze fingerprints the present stationary objects and matches the
// result. ok is false when there was nothing to fingerprint or the store
// failed; store failures are logged and never returned.
func (m *Matcher) Analyze(ctx context.Context, frame image.Image, objects []tracks.TrackedObject, now time.Time) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fp := m.builder.Build(frame, objects)
	if len(fp.Objects) == 0 {
		return Event{}, false
	}
	return m.match(ctx, fp, now)
}

// Match returns the best stored scene scoring at least MatchThreshold, or
// stores fp as a new scene. Equal scores resolve to the lower ID.
func (m *Matcher) Match(ctx context.Context, fp Fingerprint, now time.Time) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.match(ctx, fp, now)
}

func (m *Matcher) match(ctx context.Context, fp Fingerprint, now time.Time) (Event, bool) {
	records, err := m.store.ListScenes(ctx)
	if err != nil {
		monitoring.Logf("scenes: list stored scenes: %v", err)
		return Event{}, false
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	var best *Record
	bestScore := 0.0
	for i := range records {
		score := SimilarityWithTolerance(fp, records[i].Fingerprint, m.cfg.RelationshipTolerance)
		if score < m.cfg.MatchThreshold {
			continue
		}
		if best == nil || score > bestScore {
			best = &records[i]
			bestScore = score
		}
	}
	if best != nil {
		return Event{
			Kind:        RecognizedScene,
			SceneID:     best.ID,
			Description: best.Description,
			Score:       bestScore,
			At:          now,
		}, true
	}

	rec := Record{CreatedAt: now, Description: Describe(fp.TypeCounts), Fingerprint: fp}
	id, err := m.store.InsertScene(ctx, rec)
	if err != nil {
		monitoring.Logf("scenes: store new scene %q: %v", rec.Description, err)
		return Event{}, false
	}
	return Event{Kind: NewScene, SceneID: id, Description: rec.Description, At: now}, true
}

// MemoryStore is an in-process Store. It backs tests and runs without a
// database.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
	nextID  int64

	// InsertErr, when set, fails every InsertScene call.
	InsertErr error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (s *MemoryStore) ListScenes(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...), nil
}

func (s *MemoryStore) InsertScene(ctx context.Context, rec Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return 0, s.InsertErr
	}
	rec.ID = s.nextID
	s.nextID++
	s.records = append(s.records, rec)
	return rec.ID, nil
}
