//go:build linux && cgo

package gpu

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/NVIDIA/gpu-monitoring-tools/bindings/go/nvml"

	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

// SourceNVML identifies devices enumerated through the NVML library.
const SourceNVML = "nvml"

// nvmlSession owns the process-wide NVML handle. Init and Shutdown are
// reference counted by the library, but we only ever hold one.
type nvmlSession struct {
	mu          sync.Mutex
	initialized bool
	failed      bool
}

func (s *nvmlSession) ensure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return true
	}
	if s.failed {
		return false
	}
	if err := nvml.Init(); err != nil {
		debug.Debug("NVML unavailable: %v", err)
		s.failed = true
		return false
	}
	s.initialized = true
	return true
}

func (s *nvmlSession) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil
	}
	s.initialized = false
	return nvml.Shutdown()
}

// NVMLProber enumerates NVIDIA GPUs directly through libnvidia-ml.
type NVMLProber struct {
	session *nvmlSession
	icdRoot string
}

// NVMLSampler reads NVIDIA sensors through libnvidia-ml.
type NVMLSampler struct {
	session *nvmlSession
}

// newNVML returns the NVML prober and sampler sharing one session, plus
// the function that releases it.
func newNVML() (types.Prober, types.Sampler, func() error) {
	session := &nvmlSession{}
	return &NVMLProber{session: session, icdRoot: "/"}, &NVMLSampler{session: session}, session.close
}

// Name implements types.Prober
func (p *NVMLProber) Name() string {
	return SourceNVML
}

// Enumerate implements types.Prober. A missing driver library yields no
// devices so that the next prober can try.
func (p *NVMLProber) Enumerate(ctx context.Context) ([]types.Device, error) {
	if !p.session.ensure() {
		return nil, nil
	}

	count, err := nvml.GetDeviceCount()
	if err != nil {
		return nil, fmt.Errorf("nvml device count: %w", err)
	}

	capable := openCLVendors(p.icdRoot)[types.VendorNVIDIA]

	devices := make([]types.Device, 0, count)
	for i := uint(0); i < count; i++ {
		if err := ctx.Err(); err != nil {
			return devices, err
		}

		handle, err := nvml.NewDeviceLite(i)
		if err != nil {
			debug.Warning("NVML could not open GPU %d: %v", i, err)
			continue
		}

		model := "NVIDIA GPU"
		if handle.Model != nil {
			model = *handle.Model
		}
		devices = append(devices, types.Device{
			Model:       model,
			Vendor:      types.VendorNVIDIA,
			Capable:     capable,
			PCISlot:     normalizePCISlot(handle.PCI.BusID),
			Driver:      "nvidia",
			Source:      SourceNVML,
			VendorIndex: int(i),
		})
	}

	debug.Info("Found %d NVIDIA GPUs using NVML", len(devices))
	return devices, nil
}

// Supports implements types.Sampler
func (s *NVMLSampler) Supports(device types.Device) bool {
	return device.Source == SourceNVML
}

// Sample implements types.Sampler
func (s *NVMLSampler) Sample(ctx context.Context, device types.Device) (types.HealthMetrics, error) {
	metrics := types.HealthMetrics{DeviceIndex: device.Index}
	if !s.session.ensure() {
		return metrics, nil
	}

	handle, err := nvml.NewDeviceLite(uint(device.VendorIndex))
	if err != nil {
		if isNVMLLost(err) {
			return metrics, fmt.Errorf("%w: %v", types.ErrDeviceLost, err)
		}
		debug.Debug("NVML handle unavailable for %s: %v", device, err)
		return metrics, nil
	}
	if ctx.Err() != nil {
		return metrics, nil
	}

	status, err := handle.Status()
	if err != nil {
		if isNVMLLost(err) {
			return metrics, fmt.Errorf("%w: %v", types.ErrDeviceLost, err)
		}
		debug.Debug("NVML status unavailable for %s: %v", device, err)
		return metrics, nil
	}

	if status.Temperature != nil {
		metrics.Temperature = types.Ptr(float64(*status.Temperature))
	}
	if status.FanSpeed != nil {
		metrics.FanSpeed = types.Ptr(uint32(*status.FanSpeed))
	}
	if status.Power != nil {
		metrics.PowerDraw = types.Ptr(float64(*status.Power))
	}
	if status.Memory.Global.Used != nil {
		metrics.MemoryUsed = types.Ptr(*status.Memory.Global.Used)
	}
	if handle.Memory != nil {
		metrics.MemoryTotal = types.Ptr(*handle.Memory)
	}
	if status.Clocks.Cores != nil {
		metrics.CoreClock = types.Ptr(uint32(*status.Clocks.Cores))
	}
	return metrics, nil
}

func isNVMLLost(err error) bool {
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "gpu is lost") || strings.Contains(lower, "gpu_is_lost")
}
