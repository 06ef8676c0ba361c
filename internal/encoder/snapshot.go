package encoder

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"
)

// SnapshotWriter writes encoded images into a directory, at most one per
// Interval.
type SnapshotWriter struct {
	Dir      string
	Interval time.Duration
	Encoder  Encoder

	now  func() time.Time
	last time.Time
	n    int
}

// NewSnapshotWriter creates dir if needed.
func NewSnapshotWriter(dir string, interval time.Duration, enc Encoder) (*SnapshotWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &SnapshotWriter{Dir: dir, Interval: interval, Encoder: enc, now: time.Now}, nil
}

// Write encodes img and stores it unless the previous snapshot is younger
// than Interval. It returns the written path, or "" when skipped.
func (w *SnapshotWriter) Write(img *image.RGBA, seq uint64) (string, error) {
	now := w.now()
	if w.n > 0 && now.Sub(w.last) < w.Interval {
		return "", nil
	}
	data, err := w.Encoder.Encode(img)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	path := filepath.Join(w.Dir, fmt.Sprintf("frame-%08d.jpg", seq))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	w.last = now
	w.n++
	return path, nil
}

// Count returns how many snapshots were written.
func (w *SnapshotWriter) Count() int {
	return w.n
}
