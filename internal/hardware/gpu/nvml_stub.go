//go:build !linux || !cgo

package gpu

import "github.com/ZerkerEOD/gpuguard/internal/hardware/types"

// SourceNVML identifies devices enumerated through the NVML library.
const SourceNVML = "nvml"

// newNVML reports that NVML is not compiled into this build.
func newNVML() (types.Prober, types.Sampler, func() error) {
	return nil, nil, func() error { return nil }
}
