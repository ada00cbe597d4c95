package gpu

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

// SourceNVIDIASMI identifies devices enumerated through nvidia-smi.
const SourceNVIDIASMI = "nvidia-smi"

// commandRunner executes a tool and returns its stdout. Tests substitute
// canned output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// errToolMissing marks a runner failure caused by the binary not being
// installed, which probers treat as "no devices on this channel".
var errToolMissing = errors.New("tool not installed")

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%w: %s", errToolMissing, name)
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		// nvidia-smi prints diagnostics such as "GPU is lost" on stdout
		// and exits non-zero; keep both streams for classification.
		return append(output, stderr.Bytes()...), err
	}
	return output, nil
}

// NVIDIASMIProber enumerates NVIDIA GPUs by querying nvidia-smi. It is
// used when NVML cannot be loaded directly.
type NVIDIASMIProber struct {
	run     commandRunner
	icdRoot string
}

// NewNVIDIASMIProber creates a prober that shells out to nvidia-smi.
func NewNVIDIASMIProber() *NVIDIASMIProber {
	return &NVIDIASMIProber{run: execRunner, icdRoot: "/"}
}

// Name implements types.Prober
func (p *NVIDIASMIProber) Name() string {
	return SourceNVIDIASMI
}

// Enumerate implements types.Prober
func (p *NVIDIASMIProber) Enumerate(ctx context.Context) ([]types.Device, error) {
	output, err := p.run(ctx, "nvidia-smi", "--query-gpu=index,name,pci.bus_id,driver_version", "--format=csv,noheader,nounits")
	if err != nil {
		if errors.Is(err, errToolMissing) {
			debug.Debug("nvidia-smi not found, skipping NVIDIA probe")
			return nil, nil
		}
		return nil, fmt.Errorf("nvidia-smi query failed: %w", err)
	}

	capable := openCLVendors(p.icdRoot)[types.VendorNVIDIA]

	var devices []types.Device
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := splitCSVLine(scanner.Text())
		if len(fields) < 3 {
			continue
		}

		vendorIndex, err := strconv.Atoi(fields[0])
		if err != nil {
			debug.Warning("Skipping nvidia-smi line with bad index %q", fields[0])
			continue
		}

		device := types.Device{
			Model:       fields[1],
			Vendor:      types.VendorNVIDIA,
			Capable:     capable,
			PCISlot:     normalizePCISlot(fields[2]),
			Source:      SourceNVIDIASMI,
			VendorIndex: vendorIndex,
		}
		if len(fields) > 3 {
			device.Driver = "nvidia " + fields[3]
		}
		debug.Debug("Found NVIDIA GPU %d: %s", vendorIndex, device.Model)
		devices = append(devices, device)
	}

	debug.Info("Found %d NVIDIA GPUs using nvidia-smi", len(devices))
	return devices, nil
}

// NVIDIASMISampler reads live NVIDIA sensors through nvidia-smi.
type NVIDIASMISampler struct {
	run commandRunner
}

// NewNVIDIASMISampler creates a sampler that shells out to nvidia-smi.
func NewNVIDIASMISampler() *NVIDIASMISampler {
	return &NVIDIASMISampler{run: execRunner}
}

// Supports implements types.Sampler
func (s *NVIDIASMISampler) Supports(device types.Device) bool {
	return device.Source == SourceNVIDIASMI
}

// Sample implements types.Sampler
func (s *NVIDIASMISampler) Sample(ctx context.Context, device types.Device) (types.HealthMetrics, error) {
	metrics := types.HealthMetrics{DeviceIndex: device.Index}

	output, err := s.run(ctx, "nvidia-smi",
		fmt.Sprintf("--id=%d", device.VendorIndex),
		"--query-gpu=temperature.gpu,fan.speed,power.draw,memory.used,memory.total,clocks.gr",
		"--format=csv,noheader,nounits")
	if isGPULost(output) {
		return metrics, fmt.Errorf("%w: %s", types.ErrDeviceLost, strings.TrimSpace(string(output)))
	}
	if err != nil {
		// A timeout or transient tool failure leaves every metric unknown.
		debug.Debug("nvidia-smi sample failed for %s: %v", device, err)
		return metrics, nil
	}

	line, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	fields := splitCSVLine(line)
	if len(fields) < 6 {
		debug.Warning("Unexpected nvidia-smi output for %s: %q", device, line)
		return metrics, nil
	}

	metrics.Temperature = parseFloatField(fields[0])
	if fan := parseFloatField(fields[1]); fan != nil {
		metrics.FanSpeed = types.Ptr(uint32(*fan))
	}
	metrics.PowerDraw = parseFloatField(fields[2])
	if used := parseFloatField(fields[3]); used != nil {
		metrics.MemoryUsed = types.Ptr(uint64(*used))
	}
	if total := parseFloatField(fields[4]); total != nil {
		metrics.MemoryTotal = types.Ptr(uint64(*total))
	}
	if clock := parseFloatField(fields[5]); clock != nil {
		metrics.CoreClock = types.Ptr(uint32(*clock))
	}
	return metrics, nil
}

func splitCSVLine(line string) []string {
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

// parseFloatField returns nil for the placeholders nvidia-smi prints when
// a sensor is missing, such as "[N/A]" or "[Not Supported]".
func parseFloatField(field string) *float64 {
	if field == "" || strings.HasPrefix(field, "[") || strings.EqualFold(field, "N/A") {
		return nil
	}
	value, err := strconv.ParseFloat(field, 64)
	if err != nil || value < 0 {
		return nil
	}
	return &value
}

func isGPULost(output []byte) bool {
	lower := strings.ToLower(string(output))
	return strings.Contains(lower, "gpu is lost") || strings.Contains(lower, "fallen off the bus")
}
