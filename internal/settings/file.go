package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

// FileName is the settings document inside the data directory.
const FileName = "settings.yaml"

// File is the persisted operator settings.
type File struct {
	TemperatureThreshold float64 `yaml:"temperature_threshold"`
	ThrottleFloor        int     `yaml:"throttle_floor,omitempty"`
}

// Validate checks every field of the file.
func (f File) Validate() error {
	if err := ValidateThreshold(f.TemperatureThreshold); err != nil {
		return err
	}
	if f.ThrottleFloor != 0 {
		return ValidateFloor(f.ThrottleFloor)
	}
	return nil
}

// FileStore reads and writes settings.yaml
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store for settings.yaml inside dataDir.
func NewFileStore(dataDir string) *FileStore {
	return &FileStore{path: filepath.Join(dataDir, FileName)}
}

// Load reads the settings file. ok is false when the file does not exist
// or holds invalid values, in which case defaults apply.
func (s *FileStore) Load() (file File, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			debug.Warning("Failed to read %s: %v", s.path, err)
		}
		return File{}, false
	}

	if err := yaml.Unmarshal(data, &file); err != nil {
		debug.Warning("Ignoring malformed %s: %v", s.path, err)
		return File{}, false
	}
	if err := file.Validate(); err != nil {
		debug.Warning("Ignoring %s: %v", s.path, err)
		return File{}, false
	}
	return file, true
}

// Save writes the settings file atomically.
func (s *FileStore) Save(file File) error {
	if err := file.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp settings file: %w", err)
	}
	if err := os.Rename(tempFile, s.path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename settings file: %w", err)
	}
	return nil
}
