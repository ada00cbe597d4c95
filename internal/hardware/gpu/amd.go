package gpu

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

// SourceDRM identifies devices enumerated from /sys/class/drm.
const SourceDRM = "drm"

// DRMProber enumerates GPUs from /sys/class/drm. amdgpu cards are the
// secondary vendor; every other DRM driver (i915, xe, nouveau, ...) is
// reported too, and NVIDIA cards are de-duplicated against the NVIDIA
// probers by the enumerator.
type DRMProber struct {
	// sysRoot is the root of the sysfs filesystem. Defaults to "/sys"
	// in production; overridden in tests with synthetic trees.
	sysRoot string
	// icdRoot is the filesystem root used to find OpenCL ICD files.
	icdRoot string
}

// NewDRMProber creates a prober that reads the real /sys filesystem.
func NewDRMProber() *DRMProber {
	return &DRMProber{sysRoot: "/sys", icdRoot: "/"}
}

func newDRMProberFrom(sysRoot, icdRoot string) *DRMProber {
	return &DRMProber{sysRoot: sysRoot, icdRoot: icdRoot}
}

// Name implements types.Prober
func (p *DRMProber) Name() string {
	return SourceDRM
}

// Enumerate implements types.Prober. A missing /sys/class/drm means the
// platform has no DRM devices, which is not an error.
func (p *DRMProber) Enumerate(ctx context.Context) ([]types.Device, error) {
	drmBase := filepath.Join(p.sysRoot, "class/drm")
	entries, err := os.ReadDir(drmBase)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			debug.Debug("No DRM class directory at %s", drmBase)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", drmBase, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if isCardDevice(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	capable := openCLVendors(p.icdRoot)

	var devices []types.Device
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return devices, err
		}

		devicePath := filepath.Join(drmBase, name, "device")
		vendorID, deviceID, pciSlot := parsePCIUevent(devicePath)
		if pciSlot == "" {
			// Virtual or platform display devices carry no PCI identity.
			continue
		}

		driver := readDriverName(devicePath)
		vendor := types.VendorFromString(vendorID)
		if vendor == types.VendorOther {
			vendor = types.VendorFromString(driver)
		}

		model, err := readSysfsString(filepath.Join(devicePath, "product_name"))
		if err != nil {
			model = fmt.Sprintf("%s GPU 0x%s", pciVendorLabel(vendorID), deviceID)
		}

		device := types.Device{
			Model:       model,
			Vendor:      vendor,
			Capable:     capable[vendor],
			PCISlot:     pciSlot,
			Driver:      driver,
			Source:      SourceDRM,
			VendorIndex: i,
			SysfsPath:   devicePath,
		}
		debug.Debug("Found DRM GPU %s: %s (driver %s)", pciSlot, model, driver)
		devices = append(devices, device)
	}

	debug.Info("Found %d DRM GPUs", len(devices))
	return devices, nil
}

// DRMSampler reads hwmon and amdgpu sysfs attributes for DRM devices.
type DRMSampler struct{}

// NewDRMSampler creates a sysfs health sampler
func NewDRMSampler() *DRMSampler {
	return &DRMSampler{}
}

// Supports implements types.Sampler
func (s *DRMSampler) Supports(device types.Device) bool {
	return device.Source == SourceDRM && device.SysfsPath != ""
}

// Sample implements types.Sampler. Each attribute is read on its own;
// an unreadable attribute leaves its field nil. A vanished device
// directory is reported as types.ErrDeviceLost.
func (s *DRMSampler) Sample(ctx context.Context, device types.Device) (types.HealthMetrics, error) {
	metrics := types.HealthMetrics{DeviceIndex: device.Index}

	if _, err := os.Stat(device.SysfsPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return metrics, fmt.Errorf("%w: %s disappeared from sysfs", types.ErrDeviceLost, device.PCISlot)
		}
		return metrics, nil
	}

	hwmon := hwmonDir(device.SysfsPath)
	cardPath := filepath.Dir(device.SysfsPath)

	readers := []struct {
		name  string
		hwmon bool
		read  func() error
	}{
		{"temperature", true, func() error {
			value, err := readSysfsUint(filepath.Join(hwmon, "temp1_input"))
			if err == nil {
				metrics.Temperature = types.Ptr(float64(value) / 1000)
			}
			return err
		}},
		{"fan", true, func() error {
			value, err := readSysfsUint(filepath.Join(hwmon, "fan1_input"))
			if err == nil {
				metrics.FanSpeed = types.Ptr(uint32(value))
			}
			return err
		}},
		{"power", true, func() error {
			value, err := readSysfsUint(filepath.Join(hwmon, "power1_average"))
			if err != nil {
				value, err = readSysfsUint(filepath.Join(hwmon, "power1_input"))
			}
			if err == nil {
				metrics.PowerDraw = types.Ptr(float64(value) / 1e6)
			}
			return err
		}},
		{"memory_used", false, func() error {
			value, err := readSysfsUint(filepath.Join(device.SysfsPath, "mem_info_vram_used"))
			if err == nil {
				metrics.MemoryUsed = types.Ptr(value / (1024 * 1024))
			}
			return err
		}},
		{"memory_total", false, func() error {
			value, err := readSysfsUint(filepath.Join(device.SysfsPath, "mem_info_vram_total"))
			if err == nil {
				metrics.MemoryTotal = types.Ptr(value / (1024 * 1024))
			}
			return err
		}},
		{"core_clock", false, func() error {
			// amdgpu reports sclk in Hz on hwmon, i915 in MHz on the card.
			if hwmon != "" {
				if value, err := readSysfsUint(filepath.Join(hwmon, "freq1_input")); err == nil {
					metrics.CoreClock = types.Ptr(uint32(value / 1e6))
					return nil
				}
			}
			if value, err := readCurrentDPMLevel(filepath.Join(device.SysfsPath, "pp_dpm_sclk")); err == nil {
				metrics.CoreClock = types.Ptr(uint32(value))
				return nil
			}
			value, err := readSysfsUint(filepath.Join(cardPath, "gt_cur_freq_mhz"))
			if err == nil {
				metrics.CoreClock = types.Ptr(uint32(value))
			}
			return err
		}},
	}

	for _, reader := range readers {
		if ctx.Err() != nil {
			debug.Debug("Sampling budget exhausted for %s before %s", device, reader.name)
			break
		}
		if reader.hwmon && hwmon == "" {
			continue
		}
		if err := reader.read(); err != nil {
			debug.Debug("Sensor %s unavailable for %s: %v", reader.name, device, err)
		}
	}

	return metrics, nil
}
