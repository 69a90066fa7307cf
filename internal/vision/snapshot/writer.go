package snapshot

import (
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/sightline.report/internal/config"
	"github.com/banshee-data/sightline.report/internal/fsutil"
	"github.com/banshee-data/sightline.report/internal/monitoring"
	"github.com/banshee-data/sightline.report/internal/security"
	"github.com/banshee-data/sightline.report/internal/timeutil"
	"github.com/banshee-data/sightline.report/internal/vision/detect"
	"github.com/banshee-data/sightline.report/internal/vision/pipeline"
	"github.com/banshee-data/sightline.report/internal/vision/storage/sqlite"
)

const (
	timestampLayout = "2006-01-02 150405"
	nameSuffix      = " detected.jpg"
	maxCollisions   = 1000
)

// ErrNoFreeName is returned when every collision suffix is taken.
var ErrNoFreeName = errors.New("no free snapshot file name")

// Config controls where and how snapshots are written.
type Config struct {
	Dir         string
	JPEGQuality int
	Location    *time.Location // Zone used in file names; nil means time.Local
	Clock       timeutil.Clock // Stamps frames without a capture time
}

// ConfigFromTuning builds a Config for dir from a loaded TuningConfig. An
// unloadable snapshot_timezone falls back to the local zone; Validate
// rejects those at load time.
func ConfigFromTuning(cfg *config.TuningConfig, dir string) Config {
	loc, err := timeutil.LoadLocation(cfg.GetSnapshotTimezone())
	if err != nil {
		monitoring.Logf("snapshot: %v, using local time", err)
		loc = time.Local
	}
	return Config{Dir: dir, JPEGQuality: cfg.GetJPEGQuality(), Location: loc}
}

// FrameRecorder keeps a durable history of written snapshots.
type FrameRecorder interface {
	RecordSavedFrame(ctx context.Context, f sqlite.SavedFrame) error
}

// Writer implements pipeline.SaveSink.
type Writer struct {
	cfg Config
	fs  fsutil.FileSystem
	rec FrameRecorder

	mu sync.Mutex // serialises name selection and writes
}

var _ pipeline.SaveSink = (*Writer)(nil)

// NewWriter creates the snapshot directory and returns a Writer. rec may be
// nil.
func NewWriter(cfg Config, fsys fsutil.FileSystem, rec FrameRecorder) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot: directory is required")
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = jpeg.DefaultQuality
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if err := fsys.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create %s: %w", cfg.Dir, err)
	}
	return &Writer{cfg: cfg, fs: fsys, rec: rec}, nil
}

// Dir returns the snapshot directory.
func (w *Writer) Dir() string { return w.cfg.Dir }

// Save annotates the frame with dets and writes it as a JPEG. The file is
// written under a temporary name and renamed into place, so a reader never
// sees a partial image. A failure to record the save in the frame log is
// logged but does not fail the save.
func (w *Writer) Save(ctx context.Context, f pipeline.Frame, dets []detect.Detection) error {
	if f.Image == nil {
		return fmt.Errorf("snapshot: frame %s has no image", f.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	at := f.CapturedAt
	if at.IsZero() {
		at = w.cfg.Clock.Now()
	}
	types := Types(dets)
	img := Annotate(f.Image, dets)

	w.mu.Lock()
	path, err := w.nextPath(FileName(at.In(w.cfg.Location), types))
	if err == nil {
		err = w.write(path, func(out io.Writer) error {
			return jpeg.Encode(out, img, &jpeg.Options{Quality: w.cfg.JPEGQuality})
		})
	}
	w.mu.Unlock()
	if err != nil {
		return err
	}

	if w.rec != nil {
		rec := sqlite.SavedFrame{
			FrameID:     f.ID,
			SavedAt:     at,
			Path:        path,
			Types:       types,
			ObjectCount: len(dets),
		}
		if err := w.rec.RecordSavedFrame(ctx, rec); err != nil {
			monitoring.Logf("snapshot: saved %s but could not record it: %v", filepath.Base(path), err)
		}
	}
	return nil
}

// nextPath returns the first free path for name inside the snapshot
// directory, adding " (n)" before the extension on collision.
func (w *Writer) nextPath(name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 0; n < maxCollisions; n++ {
		candidate := name
		if n > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
		}
		path := filepath.Join(w.cfg.Dir, candidate)
		if err := security.ValidatePathWithinDirectory(path, w.cfg.Dir); err != nil {
			return "", fmt.Errorf("snapshot: %w", err)
		}
		if !w.fs.Exists(path) && !w.fs.Exists(path+fsutil.TempSuffix) {
			return path, nil
		}
	}
	return "", fmt.Errorf("snapshot: %s: %w", name, ErrNoFreeName)
}

func (w *Writer) write(path string, encode func(io.Writer) error) error {
	tmp := path + fsutil.TempSuffix
	out, err := w.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("snapshot: create %s: %w", filepath.Base(tmp), err)
	}
	if err := encode(out); err != nil {
		out.Close()
		w.fs.Remove(tmp)
		return fmt.Errorf("snapshot: encode %s: %w", filepath.Base(path), err)
	}
	if err := out.Close(); err != nil {
		w.fs.Remove(tmp)
		return fmt.Errorf("snapshot: close %s: %w", filepath.Base(tmp), err)
	}
	if err := w.fs.Rename(tmp, path); err != nil {
		w.fs.Remove(tmp)
		return fmt.Errorf("snapshot: rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Types returns the sorted unique classes in dets.
func Types(dets []detect.Detection) []string {
	seen := make(map[string]struct{}, len(dets))
	var out []string
	for _, d := range dets {
		if _, ok := seen[d.Class]; ok {
			continue
		}
		seen[d.Class] = struct{}{}
		out = append(out, d.Class)
	}
	sort.Strings(out)
	return out
}

// FileName formats the snapshot name for a capture at t containing types,
// e.g. "2026-03-01 120000 car person detected.jpg".
func FileName(t time.Time, types []string) string {
	parts := make([]string, 0, len(types)+1)
	parts = append(parts, t.Format(timestampLayout))
	for _, typ := range types {
		parts = append(parts, security.SanitizeLabel(typ))
	}
	return strings.Join(parts, " ") + nameSuffix
}
