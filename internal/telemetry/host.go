package telemetry

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// MaxThreads is the upper bound accepted for per-variant thread counts
const MaxThreads = 16

// HostStats is a point-in-time view of the machine running the variants
type HostStats struct {
	LogicalCPUs       int     `json:"cpus"`
	PhysicalCPUs      int     `json:"physical_cpus,omitempty"`
	MemoryTotal       uint64  `json:"memory_total_bytes,omitempty"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
}

// Host samples CPU counts and memory usage. Fields that cannot be read are
// left zero; the logical CPU count falls back to the Go runtime's view.
func Host() HostStats {
	var hs HostStats

	if n, err := cpu.Counts(true); err == nil && n > 0 {
		hs.LogicalCPUs = n
	} else {
		hs.LogicalCPUs = runtime.NumCPU()
	}
	if n, err := cpu.Counts(false); err == nil {
		hs.PhysicalCPUs = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		hs.MemoryTotal = vm.Total
		hs.MemoryUsedPercent = vm.UsedPercent
	}
	return hs
}

// SuggestedThreads returns a default thread count for parallel variants:
// the logical CPU count clamped to [1, MaxThreads].
func (h HostStats) SuggestedThreads() int {
	n := h.LogicalCPUs
	if n < 1 {
		return 1
	}
	if n > MaxThreads {
		return MaxThreads
	}
	return n
}
