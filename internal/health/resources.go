package health

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/good-yellow-bee/vigil/internal/models"
)

// ResourceSampler reports host utilization for a snapshot.
type ResourceSampler interface {
	Sample(ctx context.Context) (*models.ResourceUsage, error)
}

// HostSampler reads CPU, memory and disk usage of the local host.
type HostSampler struct {
	// DiskPath is the mount point whose usage is reported.
	DiskPath string
}

// Sample collects current utilization. CPU usage is measured since the
// previous call.
func (s HostSampler) Sample(ctx context.Context) (*models.ResourceUsage, error) {
	path := s.DiskPath
	if path == "" {
		path = "/"
	}

	cpuPct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("cpu usage: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory usage: %w", err)
	}
	du, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("disk usage of %s: %w", path, err)
	}

	usage := &models.ResourceUsage{
		MemoryPercent: vm.UsedPercent,
		DiskPercent:   du.UsedPercent,
	}
	if len(cpuPct) > 0 {
		usage.CPUPercent = cpuPct[0]
	}
	return usage, nil
}
