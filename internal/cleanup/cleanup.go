// Package cleanup removes temporary files left in the data directory by
// saves that were interrupted by a crash.
package cleanup

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZerkerEOD/gpuguard/pkg/console"
	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

// DefaultGracePeriod keeps temp files younger than this in case another
// process is mid-save.
const DefaultGracePeriod = time.Minute

// tempSuffix matches the temp files written by the stats store and the
// settings file before they are renamed into place.
const tempSuffix = ".tmp"

// Service sweeps orphaned temp files from one directory
type Service struct {
	dir         string
	gracePeriod time.Duration
	now         func() time.Time
}

// NewService creates a sweeper for dataDir
func NewService(dataDir string) *Service {
	return &Service{
		dir:         dataDir,
		gracePeriod: DefaultGracePeriod,
		now:         time.Now,
	}
}

// Sweep deletes temp files older than the grace period. It only looks at
// the top level of the directory and never fails; problems are logged.
func (s *Service) Sweep() (int, int64) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		debug.Warning("Cannot scan %s for leftover temp files: %v", s.dir, err)
		return 0, 0
	}

	cutoffTime := s.now().Add(-s.gracePeriod)
	deleted := 0
	totalSize := int64(0)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), tempSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			debug.Debug("Error accessing %s: %v", entry.Name(), err)
			continue
		}
		if info.ModTime().After(cutoffTime) {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			debug.Error("Failed to delete leftover temp file %s: %v", path, err)
			continue
		}
		debug.Debug("Deleted leftover temp file: %s (age: %s, size: %d bytes)",
			path, s.now().Sub(info.ModTime()), info.Size())
		deleted++
		totalSize += info.Size()
	}

	if deleted > 0 {
		debug.Info("Cleanup completed: deleted %d files, freed %s", deleted, console.FormatBytes(totalSize))
	} else {
		debug.Debug("Cleanup completed: no files to delete")
	}
	return deleted, totalSize
}
