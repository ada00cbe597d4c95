package hardware

import (
	"context"
	"errors"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

// Enumerator merges the devices reported by every vendor prober into one
// indexed list. It holds no state between calls.
type Enumerator struct {
	probers   []types.Prober
	fallbacks []types.Prober
}

// NewEnumerator creates an enumerator over probers in priority order.
// Fallbacks are only asked when the probers find nothing.
func NewEnumerator(probers, fallbacks []types.Prober) *Enumerator {
	return &Enumerator{probers: probers, fallbacks: fallbacks}
}

// Enumerate queries the platform for GPUs. Zero devices is a valid
// result; *types.EnumerationFailure is returned only when every prober
// failed outright.
func (e *Enumerator) Enumerate(ctx context.Context) ([]types.Device, error) {
	devices, errs := e.run(ctx, e.probers)
	if len(devices) == 0 && len(e.fallbacks) > 0 {
		debug.Debug("No devices from vendor probers, trying fallbacks")
		fallbackDevices, fallbackErrs := e.run(ctx, e.fallbacks)
		devices = fallbackDevices
		errs = append(errs, fallbackErrs...)
	}

	total := len(e.probers) + len(e.fallbacks)
	if len(devices) == 0 && total > 0 && len(errs) == total {
		messages := make([]string, len(errs))
		for i, err := range errs {
			messages[i] = err.Error()
		}
		return nil, &types.EnumerationFailure{Message: strings.Join(messages, "; ")}
	}

	devices = dedupeBySlot(devices)

	// Indices follow bus order so that they survive prober reordering;
	// devices without a slot keep their discovery order at the end.
	sort.SliceStable(devices, func(i, j int) bool {
		a, b := devices[i].PCISlot, devices[j].PCISlot
		if a == "" || b == "" {
			return a != "" && b == ""
		}
		return a < b
	})
	for i := range devices {
		devices[i].Index = i
	}

	debug.Info("Enumerated %d GPU(s)", len(devices))
	return devices, nil
}

// run queries probers concurrently and returns their devices in prober
// order together with the errors of the probers that failed.
func (e *Enumerator) run(ctx context.Context, probers []types.Prober) ([]types.Device, []error) {
	results := make([][]types.Device, len(probers))
	failures := make([]error, len(probers))

	var g errgroup.Group
	for i, prober := range probers {
		g.Go(func() error {
			found, err := prober.Enumerate(ctx)
			if err != nil {
				debug.Warning("GPU prober %s failed: %v", prober.Name(), err)
				failures[i] = err
				return nil
			}
			results[i] = found
			return nil
		})
	}
	_ = g.Wait()

	var devices []types.Device
	var errs []error
	for i := range probers {
		devices = append(devices, results[i]...)
		if failures[i] != nil {
			errs = append(errs, failures[i])
		}
	}
	return devices, errs
}

// dedupeBySlot keeps the first device reported for each PCI slot. The
// same card is typically visible through NVML, nvidia-smi and DRM.
func dedupeBySlot(devices []types.Device) []types.Device {
	seen := make(map[string]bool, len(devices))
	out := make([]types.Device, 0, len(devices))
	for _, device := range devices {
		if device.PCISlot != "" {
			if seen[device.PCISlot] {
				debug.Debug("Dropping alias of %s reported by %s", device.PCISlot, device.Source)
				continue
			}
			seen[device.PCISlot] = true
		}
		out = append(out, device)
	}
	return out
}

// IsEnumerationFailure reports whether err is a platform-level
// enumeration failure.
func IsEnumerationFailure(err error) bool {
	var failure *types.EnumerationFailure
	return errors.As(err, &failure)
}
