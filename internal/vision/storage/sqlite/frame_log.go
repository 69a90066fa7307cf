package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SavedFrame records one snapshot written to disk.
type SavedFrame struct {
	FrameID     uuid.UUID `json:"frame_id"`
	SavedAt     time.Time `json:"saved_at"`
	Path        string    `json:"path"`
	Types       []string  `json:"types"`
	ObjectCount int       `json:"object_count"`
}

// FrameLog persists the saved-frame history.
type FrameLog struct {
	db *sql.DB
}

// NewFrameLog creates a new FrameLog.
func NewFrameLog(db *sql.DB) *FrameLog {
	return &FrameLog{db: db}
}

// RecordSavedFrame appends f to the log.
func (l *FrameLog) RecordSavedFrame(ctx context.Context, f SavedFrame) error {
	types, err := json.Marshal(f.Types)
	if err != nil {
		return fmt.Errorf("encode types: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO saved_frames (frame_id, saved_at, path, types, object_count)
		VALUES (?, ?, ?, ?, ?)
	`, f.FrameID.String(), f.SavedAt.UnixNano(), f.Path, string(types), f.ObjectCount)
	if err != nil {
		return fmt.Errorf("insert saved frame %s: %w", f.FrameID, err)
	}
	return nil
}

// RecentSavedFrames returns up to limit entries, newest first.
func (l *FrameLog) RecentSavedFrames(ctx context.Context, limit int) ([]SavedFrame, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT frame_id, saved_at, path, types, object_count
		FROM saved_frames
		ORDER BY saved_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list saved frames: %w", err)
	}
	defer rows.Close()

	var out []SavedFrame
	for rows.Next() {
		var f SavedFrame
		var id, types string
		var savedAt int64
		if err := rows.Scan(&id, &savedAt, &f.Path, &types, &f.ObjectCount); err != nil {
			return nil, fmt.Errorf("scan saved frame: %w", err)
		}
		if f.FrameID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse frame id %q: %w", id, err)
		}
		f.SavedAt = time.Unix(0, savedAt).UTC()
		if err := json.Unmarshal([]byte(types), &f.Types); err != nil {
			return nil, fmt.Errorf("decode types for frame %s: %w", id, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
