package gpu

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

const openCLVendorDir = "etc/OpenCL/vendors"

// openCLVendors reports which vendors have an installed OpenCL ICD under
// root. A GPU is compute-capable for mining only when its vendor's ICD
// is present.
func openCLVendors(root string) map[types.Vendor]bool {
	capable := make(map[types.Vendor]bool)

	matches, err := filepath.Glob(filepath.Join(root, openCLVendorDir, "*.icd"))
	if err != nil || len(matches) == 0 {
		return capable
	}

	for _, path := range matches {
		library := filepath.Base(path)
		if data, err := os.ReadFile(path); err == nil {
			library = library + " " + strings.TrimSpace(string(data))
		}
		vendor := types.VendorFromString(library)
		debug.Debug("OpenCL ICD %s maps to vendor %s", filepath.Base(path), vendor)
		capable[vendor] = true
	}
	return capable
}
