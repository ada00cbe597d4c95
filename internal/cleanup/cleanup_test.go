package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("partial"), 0600))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestSweep(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "mining_stats_per_gpu.json.123456.tmp")
	staleSettings := filepath.Join(dir, "settings.yaml.tmp")
	fresh := filepath.Join(dir, "mining_stats_per_gpu.json.999.tmp")
	live := filepath.Join(dir, "mining_stats_per_gpu.json")
	nested := filepath.Join(dir, "sub", "old.tmp")

	writeAged(t, stale, time.Hour)
	writeAged(t, staleSettings, 2*time.Hour)
	writeAged(t, fresh, time.Second)
	writeAged(t, live, 24*time.Hour)
	require.NoError(t, os.MkdirAll(filepath.Dir(nested), 0750))
	writeAged(t, nested, time.Hour)

	deleted, size := NewService(dir).Sweep()

	assert.Equal(t, 2, deleted)
	assert.Equal(t, int64(2*len("partial")), size)
	assert.NoFileExists(t, stale)
	assert.NoFileExists(t, staleSettings)
	assert.FileExists(t, fresh, "files inside the grace period are kept")
	assert.FileExists(t, live)
	assert.FileExists(t, nested, "subdirectories are not scanned")
}

func TestSweep_MissingDirectory(t *testing.T) {
	deleted, size := NewService(filepath.Join(t.TempDir(), "absent")).Sweep()
	assert.Zero(t, deleted)
	assert.Zero(t, size)
}
