package types

import (
	"fmt"
	"strings"
)

// Vendor identifies a GPU manufacturer. The set is closed: NVIDIA is the
// primary vendor, AMD the secondary, and everything else is Other.
type Vendor string

const (
	VendorNVIDIA Vendor = "NVIDIA"
	VendorAMD    Vendor = "AMD"
	VendorOther  Vendor = "Other"
)

// VendorFromString maps a free-form vendor string (driver name, OpenCL
// vendor, PCI vendor name) onto the closed vendor set.
func VendorFromString(s string) Vendor {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "nvidia"), lower == "nouveau", lower == "10de":
		return VendorNVIDIA
	case strings.Contains(lower, "amd"), strings.Contains(lower, "advanced micro devices"),
		strings.Contains(lower, "radeon"), lower == "1002":
		return VendorAMD
	default:
		return VendorOther
	}
}

// Device is the immutable identity of one GPU for the lifetime of an
// enumeration. Index is assigned by the enumerator and is 0-based and
// unique within the current device set.
type Device struct {
	Index   int    `json:"device_index"`
	Model   string `json:"model_name"`
	Vendor  Vendor `json:"vendor"`
	Capable bool   `json:"compute_capable"`

	PCISlot string `json:"pci_slot,omitempty"`
	Driver  string `json:"driver,omitempty"`

	// Source names the prober that found the device; samplers use it
	// together with VendorIndex and SysfsPath to address the hardware.
	Source      string `json:"source"`
	VendorIndex int    `json:"-"`
	SysfsPath   string `json:"-"`
}

// Key returns the stable persistence key for the device. The PCI slot
// survives re-enumeration and reboots; the index is a fallback for
// devices found without bus information.
func (d Device) Key() string {
	if d.PCISlot != "" {
		return strings.ToLower(fmt.Sprintf("%s@%s", d.Vendor, d.PCISlot))
	}
	return fmt.Sprintf("gpu%d", d.Index)
}

func (d Device) String() string {
	return fmt.Sprintf("GPU %d (%s %s)", d.Index, d.Vendor, d.Model)
}

// EnumerationFailure is returned only when the platform could not be
// queried at all. Finding zero devices is not a failure.
type EnumerationFailure struct {
	Message string
}

func (e *EnumerationFailure) Error() string {
	return "device enumeration failed: " + e.Message
}
