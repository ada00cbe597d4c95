package console

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetWriter(&buf)
	t.Cleanup(func() { SetWriter(os.Stdout) })
	return &buf
}

func TestLevels(t *testing.T) {
	buf := capture(t)

	Info("sampling %d devices", 2)
	Warning("gpu%d at floor", 1)
	Error("save failed")

	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "sampling 2 devices")
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "gpu1 at floor")
	assert.Contains(t, out, "ERROR")
	assert.Equal(t, 3, strings.Count(out, "\n"))
}

func TestFormatSpeed(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0 H/s"},
		{999, "999 H/s"},
		{1500, "1.50 KH/s"},
		{2.5e6, "2.50 MH/s"},
		{1e9, "1.00 GH/s"},
		{3.25e12, "3.25 TH/s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSpeed(tt.in))
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0s"},
		{59, "59s"},
		{61, "1m 1s"},
		{3661, "1h 1m 1s"},
		{90061, "1d 1h 1m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.50 KB", FormatBytes(1536))
	assert.Equal(t, "8.00 GB", FormatBytes(8<<30))
}

func TestFormatOptional(t *testing.T) {
	v := 71.5
	assert.Equal(t, "71.5°C", FormatOptional(&v, "%.1f°C"))
	assert.Equal(t, "n/a", FormatOptional(nil, "%.1f°C"))
}

func TestTable(t *testing.T) {
	buf := capture(t)

	Table([]string{"IDX", "MODEL"}, [][]string{{"0", "RTX 4090"}, {"1", "RX 7900 XTX"}})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "IDX"))
	assert.Equal(t, strings.Index(lines[0], "MODEL"), strings.Index(lines[1], "RTX"))
}
