package gpu

import (
	"errors"

	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

// Registry holds the vendor probers in priority order together with
// the samplers that can read the devices they find.
type Registry struct {
	// Probers are consulted first; the enumerator de-duplicates devices
	// they report twice, keeping the earliest.
	Probers []types.Prober
	// Fallbacks are only consulted when no prober reported a device.
	Fallbacks []types.Prober
	Samplers  []types.Sampler

	closers []func() error
}

// NewRegistry wires the platform probers: NVML, nvidia-smi, DRM sysfs
// and, as a last resort, gopsutil temperature sensors.
func NewRegistry() *Registry {
	r := &Registry{}

	if prober, sampler, closeFn := newNVML(); prober != nil {
		r.Probers = append(r.Probers, prober)
		r.Samplers = append(r.Samplers, sampler)
		r.closers = append(r.closers, closeFn)
	}

	r.Probers = append(r.Probers, NewNVIDIASMIProber(), NewDRMProber())
	r.Samplers = append(r.Samplers, NewNVIDIASMISampler(), NewDRMSampler())

	r.Fallbacks = append(r.Fallbacks, NewSensorsProber())
	r.Samplers = append(r.Samplers, NewSensorsSampler())

	return r
}

// SamplerFor returns the first sampler that supports device, or nil.
func (r *Registry) SamplerFor(device types.Device) types.Sampler {
	for _, sampler := range r.Samplers {
		if sampler.Supports(device) {
			return sampler
		}
	}
	return nil
}

// Close releases driver handles held by the probers.
func (r *Registry) Close() error {
	var errs []error
	for _, closeFn := range r.closers {
		if err := closeFn(); err != nil {
			debug.Error("Failed to release GPU driver handle: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
