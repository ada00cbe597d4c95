package debug

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// captureLogs redirects output into a buffer and restores global state
// when the test finishes.
func captureLogs(t *testing.T, level LogLevel) *bytes.Buffer {
	t.Helper()
	originalEnabled := IsEnabled
	originalLevel := CurrentLevel
	var buf bytes.Buffer
	SetOutput(&buf)
	IsEnabled = true
	CurrentLevel = level
	t.Cleanup(func() {
		IsEnabled = originalEnabled
		CurrentLevel = originalLevel
		SetOutput(os.Stdout)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input  string
		want   LogLevel
		wantOK bool
	}{
		{"DEBUG", LevelDebug, true},
		{"info", LevelInfo, true},
		{" warn ", LevelWarning, true},
		{"WARNING", LevelWarning, true},
		{"error", LevelError, true},
		{"", LevelInfo, false},
		{"verbose", LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, ok := ParseLevel(tt.input)
			assert.Equal(t, tt.want, level)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestReinitializeFromEnvironment(t *testing.T) {
	originalEnabled := IsEnabled
	originalLevel := CurrentLevel
	defer func() {
		IsEnabled = originalEnabled
		CurrentLevel = originalLevel
	}()
	SetOutput(&bytes.Buffer{})
	defer SetOutput(os.Stdout)

	tests := []struct {
		name          string
		debugEnv      string
		logLevelEnv   string
		expectEnabled bool
		expectLevel   LogLevel
	}{
		{"disabled by default", "", "", false, LevelInfo},
		{"enabled with true", "true", "", true, LevelInfo},
		{"enabled with 1", "1", "", true, LevelInfo},
		{"debug level", "true", "DEBUG", true, LevelDebug},
		{"case insensitive", "true", "error", true, LevelError},
		{"invalid level falls back to INFO", "true", "LOUD", true, LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DEBUG", tt.debugEnv)
			t.Setenv("LOG_LEVEL", tt.logLevelEnv)

			Reinitialize()

			assert.Equal(t, tt.expectEnabled, IsEnabled)
			assert.Equal(t, tt.expectLevel, CurrentLevel)
		})
	}
}

func TestConfigure(t *testing.T) {
	buf := captureLogs(t, LevelInfo)

	Configure(true, "warning")
	assert.True(t, IsEnabled)
	assert.Equal(t, LevelWarning, CurrentLevel)

	buf.Reset()
	Info("hidden")
	Warning("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		name    string
		level   LogLevel
		visible []string
		hidden  []string
	}{
		{"INFO filters DEBUG", LevelInfo, []string{"info msg", "warning msg", "error msg"}, []string{"debug msg"}},
		{"WARNING filters INFO", LevelWarning, []string{"warning msg", "error msg"}, []string{"debug msg", "info msg"}},
		{"ERROR only", LevelError, []string{"error msg"}, []string{"debug msg", "info msg", "warning msg"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t, tt.level)

			Debug("debug msg")
			Info("info msg")
			Warning("warning msg")
			Error("error msg")

			output := buf.String()
			for _, msg := range tt.visible {
				assert.Contains(t, output, msg)
			}
			for _, msg := range tt.hidden {
				assert.NotContains(t, output, msg)
			}
		})
	}
}

func TestDisabledProducesNoOutput(t *testing.T) {
	buf := captureLogs(t, LevelDebug)
	IsEnabled = false

	Error("should not appear")
	assert.Empty(t, buf.String())
}

func TestLogFormat(t *testing.T) {
	buf := captureLogs(t, LevelDebug)

	Warning("sensor %s unavailable", "fan")
	output := buf.String()

	assert.Contains(t, output, "[WARNING]")
	assert.Contains(t, output, "sensor fan unavailable")
	assert.Regexp(t, `\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}\]`, output)
	assert.Regexp(t, `\[\S+:\d+\]`, output)
}

func TestConcurrentLogging(t *testing.T) {
	buf := captureLogs(t, LevelDebug)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			Debug("concurrent debug %d", id)
			Info("concurrent info %d", id)
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 20)
}

func BenchmarkLogDisabled(b *testing.B) {
	originalEnabled := IsEnabled
	defer func() { IsEnabled = originalEnabled }()
	IsEnabled = false

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Info("benchmark message %d", i)
	}
}
