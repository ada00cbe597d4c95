package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
	"github.com/ZerkerEOD/gpuguard/internal/snapshot"
	"github.com/ZerkerEOD/gpuguard/internal/stats"
	"github.com/ZerkerEOD/gpuguard/pkg/console"
)

var start = time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC)

func captureConsole(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	console.SetWriter(&buf)
	t.Cleanup(func() { console.SetWriter(os.Stdout) })
	return &buf
}

func TestFormatEvent(t *testing.T) {
	throttle := snapshot.NewEvent(snapshot.EventThrottle, 0, start)
	throttle.PreviousIntensity, throttle.NewIntensity = 100, 90
	throttle.Temperature = types.Ptr(86.0)
	throttle.Threshold = 80

	atFloor := snapshot.NewEvent(snapshot.EventOverheatAtFloor, 1, start)
	atFloor.NewIntensity = 10

	fault := snapshot.NewEvent(snapshot.EventDeviceFault, 2, start)
	fault.Message = "device lost"

	assert.Equal(t, "GPU 0 throttled 100% -> 90% (86.0°C > 80.0°C)", formatEvent(throttle))
	assert.Equal(t, "GPU 1 still at n/a with intensity at floor 10%", formatEvent(atFloor))
	assert.Equal(t, "GPU 2 faulted: device lost", formatEvent(fault))
	assert.Equal(t, "GPU 3 reset", formatEvent(snapshot.NewEvent(snapshot.EventDeviceReset, 3, start)))
}

func TestReporter_SummaryIsRateLimited(t *testing.T) {
	buf := captureConsole(t)

	views := []stats.View{{
		Device: types.Device{Index: 0},
		Health: types.HealthMetrics{Temperature: types.Ptr(71.0)},
		Stats:  stats.MiningStats{Status: stats.StatusActive, Intensity: 100, Hashrate: 2.5e6, TotalUptimeSeconds: 3661},
	}}

	events := make(chan snapshot.Event, 1)
	snapshots := make(chan snapshot.Snapshot, 3)
	snapshots <- snapshot.New(views, 80, start)
	snapshots <- snapshot.New(views, 80, start.Add(5*time.Second))
	snapshots <- snapshot.New(views, 80, start.Add(summaryInterval))
	event := snapshot.NewEvent(snapshot.EventDeviceReset, 0, start)
	events <- event
	close(snapshots)
	close(events)

	newReporter().run(events, snapshots)

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "HASHRATE"), out)
	assert.Contains(t, out, "2.50 MH/s")
	assert.Contains(t, out, "1h 1m 1s")
	assert.Contains(t, out, "71°C")
	assert.Contains(t, out, "GPU 0 reset")
}

func TestPrintDevices(t *testing.T) {
	buf := captureConsole(t)

	printDevices(nil)
	assert.Contains(t, buf.String(), "No GPUs detected")

	buf.Reset()
	printDevices([]types.Device{{Index: 0, Vendor: types.VendorNVIDIA, Model: "RTX 4090", PCISlot: "0000:01:00.0", Capable: true, Source: "nvml"}})
	out := buf.String()
	assert.Contains(t, out, "Detected 1 GPU(s)")
	assert.Contains(t, out, "RTX 4090")
	assert.Contains(t, out, "0000:01:00.0")
}
