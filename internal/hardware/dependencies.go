package hardware

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

// Dependency represents an optional platform facility one sensor
// channel relies on
type Dependency struct {
	Name        string // Name of the dependency
	Package     string // Package that provides it
	Command     string // Binary to look up on PATH, if any
	Path        string // File or directory that must exist, if any
	Description string // What is lost without it
}

// SensorDependencies lists what each sampling channel needs. None of them
// is required: a missing channel only means fewer metrics.
var SensorDependencies = []Dependency{
	{
		Name:        "nvidia-smi",
		Package:     "nvidia-utils",
		Command:     "nvidia-smi",
		Description: "NVIDIA telemetry when NVML cannot be loaded",
	},
	{
		Name:        "DRM sysfs",
		Path:        "/sys/class/drm",
		Description: "AMD and other GPU enumeration and hwmon sensors",
	},
	{
		Name:        "OpenCL ICD loader",
		Package:     "ocl-icd",
		Path:        "/etc/OpenCL/vendors",
		Description: "compute capability detection",
	},
}

// CheckDependencies reports which sensor channels are unavailable on this
// host, as install hints suitable for logging at startup.
func CheckDependencies() []string {
	return checkDependencies(SensorDependencies, exec.LookPath, os.Stat)
}

func checkDependencies(deps []Dependency, lookPath func(string) (string, error), stat func(string) (os.FileInfo, error)) []string {
	if runtime.GOOS != "linux" {
		debug.Warning("GPU sensor channels are only implemented for linux, running on %s", runtime.GOOS)
	}

	var hints []string
	for _, dep := range deps {
		missing := false
		if dep.Command != "" {
			if _, err := lookPath(dep.Command); err != nil {
				missing = true
			}
		}
		if dep.Path != "" {
			if _, err := stat(filepath.Clean(dep.Path)); err != nil {
				missing = true
			}
		}
		if !missing {
			continue
		}

		debug.Warning("Missing sensor dependency: %s (%s)", dep.Name, dep.Description)
		if dep.Package != "" {
			hints = append(hints, fmt.Sprintf("%s unavailable: install %s for %s", dep.Name, dep.Package, dep.Description))
		} else {
			hints = append(hints, fmt.Sprintf("%s unavailable: %s disabled", dep.Name, dep.Description))
		}
	}
	return hints
}
