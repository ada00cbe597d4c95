package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
	"github.com/ZerkerEOD/gpuguard/internal/snapshot"
	"github.com/ZerkerEOD/gpuguard/pkg/console"
)

// summaryInterval spaces the per-device summary tables printed from the
// snapshot stream.
const summaryInterval = time.Minute

type reporter struct {
	lastSummary time.Time
}

func newReporter() *reporter {
	return &reporter{}
}

// run prints events as they happen and a summary table at most once per
// summaryInterval. It returns when both streams are closed.
func (r *reporter) run(events <-chan snapshot.Event, snapshots <-chan snapshot.Snapshot) {
	for events != nil || snapshots != nil {
		select {
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.printEvent(event)
		case snap, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			if snap.Timestamp.Sub(r.lastSummary) >= summaryInterval {
				r.lastSummary = snap.Timestamp
				printSummary(snap)
			}
		}
	}
}

func (r *reporter) printEvent(event snapshot.Event) {
	line := formatEvent(event)
	switch event.Kind {
	case snapshot.EventOverheatAtFloor, snapshot.EventDeviceFault:
		console.Warning("%s", line)
	case snapshot.EventRestore, snapshot.EventDeviceReset:
		console.Success("%s", line)
	default:
		console.Info("%s", line)
	}
}

func formatEvent(event snapshot.Event) string {
	temp := console.FormatOptional(event.Temperature, "%.1f°C")
	switch event.Kind {
	case snapshot.EventThrottle:
		return fmt.Sprintf("GPU %d throttled %d%% -> %d%% (%s > %.1f°C)",
			event.DeviceIndex, event.PreviousIntensity, event.NewIntensity, temp, event.Threshold)
	case snapshot.EventRestore:
		return fmt.Sprintf("GPU %d restored %d%% -> %d%% (%s)",
			event.DeviceIndex, event.PreviousIntensity, event.NewIntensity, temp)
	case snapshot.EventOverheatAtFloor:
		return fmt.Sprintf("GPU %d still at %s with intensity at floor %d%%",
			event.DeviceIndex, temp, event.NewIntensity)
	case snapshot.EventDeviceFault:
		return fmt.Sprintf("GPU %d faulted: %s", event.DeviceIndex, event.Message)
	case snapshot.EventDeviceReset:
		return fmt.Sprintf("GPU %d reset", event.DeviceIndex)
	}
	return fmt.Sprintf("GPU %d %s", event.DeviceIndex, event.Kind)
}

func printDevices(devices []types.Device) {
	if len(devices) == 0 {
		console.Warning("No GPUs detected")
		return
	}

	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, []string{
			strconv.Itoa(d.Index),
			string(d.Vendor),
			d.Model,
			orDash(d.PCISlot),
			strconv.FormatBool(d.Capable),
			d.Source,
		})
	}
	console.Info("Detected %d GPU(s)", len(devices))
	console.Table([]string{"IDX", "VENDOR", "MODEL", "PCI", "COMPUTE", "SOURCE"}, rows)
}

func printSummary(snap snapshot.Snapshot) {
	if len(snap.Devices) == 0 {
		return
	}

	rows := make([][]string, 0, len(snap.Devices))
	for _, d := range snap.Devices {
		rows = append(rows, []string{
			strconv.Itoa(d.Device.Index),
			d.Stats.Status.String(),
			strconv.Itoa(int(d.Stats.Intensity)) + "%",
			console.FormatOptional(d.Health.Temperature, "%.0f°C"),
			console.FormatOptional(d.Health.PowerDraw, "%.0f W"),
			console.FormatSpeed(d.Stats.Hashrate),
			strconv.FormatUint(d.Stats.BlocksFound, 10),
			console.FormatDuration(d.Stats.TotalUptimeSeconds),
		})
	}
	console.Table([]string{"IDX", "STATUS", "INTENSITY", "TEMP", "POWER", "HASHRATE", "BLOCKS", "UPTIME"}, rows)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
