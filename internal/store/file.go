package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/i474232898/weather-history/internal/weather"
)

// FileStore caches raw segment payloads on local disk, one file per segment:
// <dir>/location_<id>/<start>_<end>.csv.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir. The directory is created
// lazily on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the cache file of a segment.
func (s *FileStore) Path(seg weather.Segment) string {
	return filepath.Join(s.dir,
		fmt.Sprintf("location_%d", seg.LocationID),
		fmt.Sprintf("%s_%s.csv", seg.StartCompact(), seg.EndCompact()))
}

// Get returns the cached payload. A missing or zero-length file is a miss.
func (s *FileStore) Get(_ context.Context, seg weather.Segment) ([]byte, bool, error) {
	body, err := os.ReadFile(s.Path(seg))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: read %s: %w", seg.Key(), err)
	}
	if len(body) == 0 {
		return nil, false, nil
	}
	return body, true, nil
}

// Put writes the payload atomically: a temp file in the same directory is
// synced and renamed over the final path, so readers never see a partial file.
func (s *FileStore) Put(_ context.Context, seg weather.Segment, body []byte) error {
	path := s.Path(seg)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".segment-*.tmp")
	if err != nil {
		return fmt.Errorf("store: temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("store: write %s: %w", seg.Key(), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("store: sync %s: %w", seg.Key(), err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("store: close %s: %w", seg.Key(), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("store: rename %s: %w", seg.Key(), err)
	}
	return nil
}
