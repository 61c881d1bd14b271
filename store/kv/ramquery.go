package kv

import "github.com/shirou/gopsutil/v3/mem"

// installedRAM returns the total physical memory installed, in bytes.
func installedRAM() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Total, nil
}

// reserveForRebuild is subtracted from installed RAM before the 90% check,
// leaving headroom for the rest of the process.
const reserveForRebuild = 100_000_000

// fitsInMemory reports whether a rebuild destination of the given size
// should be staged in an anonymous in-memory buffer rather than a temp
// file: destination size < 90% of (installedRAM - 100MB). A non-zero
// ramOverride (the WithMemoryBudget option) stands in for the installed-RAM
// query on platforms where that reading is unreliable.
func fitsInMemory(destSize, ramOverride uint64) bool {
	total := ramOverride
	if total == 0 {
		var err error
		total, err = installedRAM()
		if err != nil {
			return false
		}
	}
	if total <= reserveForRebuild {
		return false
	}
	budget := total - reserveForRebuild
	return float64(destSize) < float64(budget)*0.9
}
