package persistence

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

// FileName is the lifetime counter document inside the data directory.
const FileName = "mining_stats_per_gpu.json"

// documentVersion is bumped when the on-disk layout changes.
const documentVersion = 1

// Record holds the lifetime counters of one device
type Record struct {
	DeviceIndex        int       `json:"device_index"`
	BlocksFound        uint64    `json:"blocks_found"`
	TotalHashes        uint64    `json:"total_hashes"`
	TotalUptimeSeconds uint64    `json:"total_uptime_seconds"`
	FirstSeen          time.Time `json:"first_seen"`
	LastUpdated        time.Time `json:"last_updated"`
}

// Document is the on-disk layout. Devices are keyed by the stable device
// key; Checksum covers the encoded Devices map.
type Document struct {
	Version     int               `json:"version"`
	LastUpdated time.Time         `json:"last_updated"`
	Checksum    string            `json:"checksum"`
	Devices     map[string]Record `json:"devices"`
}

// Store reads and atomically replaces the lifetime counter document
type Store struct {
	mu       sync.Mutex
	filePath string
	now      func() time.Time
}

// NewStore creates a store for the document inside dataDir
func NewStore(dataDir string) *Store {
	return &Store{
		filePath: filepath.Join(dataDir, FileName),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Path returns the document location
func (s *Store) Path() string {
	return s.filePath
}

// Load returns the persisted records. A missing, empty, unreadable or
// corrupt document yields an empty map: history is lost, startup is not.
func (s *Store) Load() map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		debug.Warning("Failed to load lifetime stats (starting with no history): %v", err)
		return make(map[string]Record)
	}
	return records
}

func (s *Store) load() (map[string]Record, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			debug.Info("No lifetime stats at %s, starting fresh", s.filePath)
			return make(map[string]Record), nil
		}
		return nil, fmt.Errorf("failed to read stats file: %w", err)
	}

	if len(data) == 0 {
		return make(map[string]Record), nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stats file: %w", err)
	}
	if doc.Version > documentVersion {
		return nil, fmt.Errorf("stats file version %d is newer than supported version %d", doc.Version, documentVersion)
	}
	if doc.Devices == nil {
		doc.Devices = make(map[string]Record)
	}

	if doc.Checksum != "" {
		sum, err := checksum(doc.Devices)
		if err != nil {
			return nil, err
		}
		if sum != doc.Checksum {
			return nil, fmt.Errorf("stats file checksum mismatch")
		}
	}

	debug.Info("Loaded lifetime stats for %d device(s)", len(doc.Devices))
	return doc.Devices, nil
}

// Save replaces the document with records. The new content is written to
// a temporary file in the same directory, synced and renamed over the
// target, so a crash leaves either the old or the new document.
func (s *Store) Save(records map[string]Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if records == nil {
		records = make(map[string]Record)
	}
	sum, err := checksum(records)
	if err != nil {
		return err
	}

	doc := Document{
		Version:     documentVersion,
		LastUpdated: s.now(),
		Checksum:    sum,
		Devices:     records,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp stats file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp stats file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp stats file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp stats file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("failed to rename stats file: %w", err)
	}
	committed = true

	syncDir(dir)
	debug.Debug("Saved lifetime stats for %d device(s)", len(records))
	return nil
}

// syncDir makes the rename durable. Not every filesystem supports
// syncing a directory, so failures are only logged.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		debug.Debug("Directory sync of %s not supported: %v", dir, err)
	}
}

func checksum(records map[string]Record) (string, error) {
	encoded, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("failed to encode records for checksum: %w", err)
	}
	sum := blake3.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}
