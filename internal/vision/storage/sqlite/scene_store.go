package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"time"

	"github.com/banshee-data/sightline.report/internal/vision/scenes"
)

// ErrSceneNotFound is returned by GetScene for unknown IDs.
var ErrSceneNotFound = errors.New("scene not found")

// SceneSummary is the row-level view of a stored scene.
type SceneSummary struct {
	ID          int64          `json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	Description string         `json:"description"`
	TypeCounts  map[string]int `json:"type_counts"`
	ObjectCount int            `json:"object_count"`
}

// SceneStore persists scene fingerprints. It implements scenes.Store.
type SceneStore struct {
	db *sql.DB
}

var _ scenes.Store = (*SceneStore)(nil)

// NewSceneStore creates a new SceneStore.
func NewSceneStore(db *sql.DB) *SceneStore {
	return &SceneStore{db: db}
}

// InsertScene stores rec, its objects and its relationships in one
// transaction and returns the new scene ID.
func (s *SceneStore) InsertScene(ctx context.Context, rec scenes.Record) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	fp := rec.Fingerprint

	counts, err := json.Marshal(fp.TypeCounts)
	if err != nil {
		return 0, fmt.Errorf("encode type counts: %w", err)
	}
	hist, err := json.Marshal(fp.Histogram)
	if err != nil {
		return 0, fmt.Errorf("encode histogram: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin scene insert: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO scenes (created_at, description, type_counts, spatial_histogram, frame_width, frame_height)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.CreatedAt.UnixNano(), rec.Description, string(counts), string(hist), fp.FrameWidth, fp.FrameHeight)
	if err != nil {
		return 0, fmt.Errorf("insert scene: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("scene id: %w", err)
	}

	for i, o := range fp.Objects {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scene_objects (
				scene_id, obj_idx, object_type, x, y,
				color_r, color_g, color_b, width, height, orientation
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, i, o.Type, o.Position.X, o.Position.Y,
			int(o.Color.R), int(o.Color.G), int(o.Color.B), o.Width, o.Height, o.Orientation)
		if err != nil {
			return 0, fmt.Errorf("insert scene object %d: %w", i, err)
		}
	}

	for _, r := range fp.Relationships {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scene_relationships (scene_id, obj1_idx, obj2_idx, distance, angle)
			VALUES (?, ?, ?, ?, ?)
		`, id, r.I, r.J, r.Distance, r.Angle)
		if err != nil {
			return 0, fmt.Errorf("insert scene relationship %d-%d: %w", r.I, r.J, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit scene: %w", err)
	}
	return id, nil
}

// ListScenes returns every stored scene with its objects and relationships,
// in ascending ID order.
func (s *SceneStore) ListScenes(ctx context.Context) ([]scenes.Record, error) {
	return s.load(ctx, 0)
}

// GetScene returns one stored scene.
func (s *SceneStore) GetScene(ctx context.Context, id int64) (scenes.Record, error) {
	recs, err := s.load(ctx, id)
	if err != nil {
		return scenes.Record{}, err
	}
	if len(recs) == 0 {
		return scenes.Record{}, fmt.Errorf("scene %d: %w", id, ErrSceneNotFound)
	}
	return recs[0], nil
}

// Summaries lists scenes without their child rows, newest first.
func (s *SceneStore) Summaries(ctx context.Context, limit int) ([]SceneSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.created_at, s.description, s.type_counts,
		       (SELECT COUNT(*) FROM scene_objects o WHERE o.scene_id = s.id)
		FROM scenes s
		ORDER BY s.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scene summaries: %w", err)
	}
	defer rows.Close()

	var out []SceneSummary
	for rows.Next() {
		var sum SceneSummary
		var createdAt int64
		var counts string
		if err := rows.Scan(&sum.ID, &createdAt, &sum.Description, &counts, &sum.ObjectCount); err != nil {
			return nil, fmt.Errorf("scan scene summary: %w", err)
		}
		sum.CreatedAt = time.Unix(0, createdAt).UTC()
		if err := json.Unmarshal([]byte(counts), &sum.TypeCounts); err != nil {
			return nil, fmt.Errorf("decode type counts for scene %d: %w", sum.ID, err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// load reads scenes and their child rows. id 0 loads every scene. Each
// query is drained before the next so a single connection suffices.
func (s *SceneStore) load(ctx context.Context, id int64) ([]scenes.Record, error) {
	where, args := "", []interface{}{}
	if id != 0 {
		where, args = "WHERE id = ?", []interface{}{id}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, description, type_counts, spatial_histogram, frame_width, frame_height
		FROM scenes `+where+`
		ORDER BY id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list scenes: %w", err)
	}

	var recs []scenes.Record
	index := make(map[int64]int)
	for rows.Next() {
		var rec scenes.Record
		var createdAt int64
		var counts, hist string
		fp := &rec.Fingerprint
		if err := rows.Scan(&rec.ID, &createdAt, &rec.Description, &counts, &hist, &fp.FrameWidth, &fp.FrameHeight); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan scene: %w", err)
		}
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		if err := json.Unmarshal([]byte(counts), &fp.TypeCounts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decode type counts for scene %d: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(hist), &fp.Histogram); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decode histogram for scene %d: %w", rec.ID, err)
		}
		index[rec.ID] = len(recs)
		recs = append(recs, rec)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("list scenes: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}

	if err := s.loadObjects(ctx, id, recs, index); err != nil {
		return nil, err
	}
	if err := s.loadRelationships(ctx, id, recs, index); err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *SceneStore) loadObjects(ctx context.Context, id int64, recs []scenes.Record, index map[int64]int) error {
	where, args := "", []interface{}{}
	if id != 0 {
		where, args = "WHERE scene_id = ?", []interface{}{id}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT scene_id, object_type, x, y, color_r, color_g, color_b, width, height, orientation
		FROM scene_objects `+where+`
		ORDER BY scene_id, obj_idx
	`, args...)
	if err != nil {
		return fmt.Errorf("list scene objects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sceneID int64
		var o scenes.ObjectFeature
		var r, g, b int
		if err := rows.Scan(&sceneID, &o.Type, &o.Position.X, &o.Position.Y, &r, &g, &b, &o.Width, &o.Height, &o.Orientation); err != nil {
			return fmt.Errorf("scan scene object: %w", err)
		}
		o.Color = color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255}
		if i, ok := index[sceneID]; ok {
			recs[i].Fingerprint.Objects = append(recs[i].Fingerprint.Objects, o)
		}
	}
	return rows.Err()
}

func (s *SceneStore) loadRelationships(ctx context.Context, id int64, recs []scenes.Record, index map[int64]int) error {
	where, args := "", []interface{}{}
	if id != 0 {
		where, args = "WHERE scene_id = ?", []interface{}{id}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT scene_id, obj1_idx, obj2_idx, distance, angle
		FROM scene_relationships `+where+`
		ORDER BY scene_id, id
	`, args...)
	if err != nil {
		return fmt.Errorf("list scene relationships: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sceneID int64
		var rel scenes.Relationship
		if err := rows.Scan(&sceneID, &rel.I, &rel.J, &rel.Distance, &rel.Angle); err != nil {
			return fmt.Errorf("scan scene relationship: %w", err)
		}
		if i, ok := index[sceneID]; ok {
			recs[i].Fingerprint.Relationships = append(recs[i].Fingerprint.Relationships, rel)
		}
	}
	return rows.Err()
}
