package gpu

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// isCardDevice returns true for DRM card device names (card0, card1, ...)
// but not connectors (card0-DP-1) or render nodes (renderD128).
func isCardDevice(name string) bool {
	if !strings.HasPrefix(name, "card") {
		return false
	}
	suffix := name[4:]
	if len(suffix) == 0 {
		return false
	}
	for _, character := range suffix {
		if character < '0' || character > '9' {
			return false
		}
	}
	return true
}

// readDriverName returns the kernel driver bound to a PCI device, taken
// from the basename of the "driver" symlink.
func readDriverName(devicePath string) string {
	link, err := os.Readlink(filepath.Join(devicePath, "driver"))
	if err != nil {
		return ""
	}
	return filepath.Base(link)
}

// parsePCIUevent extracts the PCI vendor ID, device ID and slot from
// the device's uevent file, which contains lines like:
//
//	PCI_ID=1002:744A
//	PCI_SLOT_NAME=0000:c3:00.0
func parsePCIUevent(devicePath string) (vendorID, deviceID, pciSlot string) {
	data, err := os.ReadFile(filepath.Join(devicePath, "uevent"))
	if err != nil {
		return "", "", ""
	}

	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "PCI_ID":
			ids := strings.SplitN(value, ":", 2)
			if len(ids) == 2 {
				vendorID = strings.ToLower(ids[0])
				deviceID = strings.ToLower(ids[1])
			}
		case "PCI_SLOT_NAME":
			pciSlot = strings.ToLower(value)
		}
	}
	return vendorID, deviceID, pciSlot
}

// normalizePCISlot converts bus IDs such as "00000000:01:00.0" reported
// by NVIDIA tooling into the sysfs form "0000:01:00.0".
func normalizePCISlot(busID string) string {
	busID = strings.ToLower(strings.TrimSpace(busID))
	domain, rest, ok := strings.Cut(busID, ":")
	if !ok {
		return busID
	}
	if len(domain) > 4 {
		domain = domain[len(domain)-4:]
	}
	return domain + ":" + rest
}

// pciVendorLabel maps a PCI vendor ID to a human-readable name.
func pciVendorLabel(vendorID string) string {
	switch vendorID {
	case "1002":
		return "AMD"
	case "10de":
		return "NVIDIA"
	case "8086":
		return "Intel"
	case "":
		return "Unknown"
	default:
		return fmt.Sprintf("0x%s", vendorID)
	}
}

// hwmonDir returns the first hwmon directory under a PCI device, or ""
// when the driver exposes none.
func hwmonDir(devicePath string) string {
	matches, err := filepath.Glob(filepath.Join(devicePath, "hwmon", "hwmon*"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}

// readSysfsString reads a single-line sysfs file and returns its
// trimmed content.
func readSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("%s is empty", path)
	}
	return value, nil
}

// readSysfsUint reads an unsigned integer from a sysfs file.
func readSysfsUint(path string) (uint64, error) {
	value, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(value, 10, 64)
}

// readCurrentDPMLevel parses pp_dpm_* files, where the active level is
// marked with an asterisk:
//
//	0: 500Mhz
//	1: 1500Mhz *
func readCurrentDPMLevel(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasSuffix(strings.TrimSpace(line), "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		mhz := strings.TrimSuffix(strings.ToLower(fields[1]), "mhz")
		return strconv.ParseUint(mhz, 10, 64)
	}
	return 0, fmt.Errorf("no active level in %s", path)
}
