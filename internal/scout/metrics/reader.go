package metrics

import (
	"context"
	"fmt"
	"slices"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
)

// hostReader is the hardware boundary. The production implementation is
// gopsutil; tests substitute fakes.
type hostReader interface {
	CPUTimes(ctx context.Context) (cpu.TimesStat, error)
	VirtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error)
	DiskUsage(ctx context.Context, path string) (*disk.UsageStat, error)
	DiskIO(ctx context.Context) (map[string]disk.IOCountersStat, error)
	NetIO(ctx context.Context) ([]psnet.IOCountersStat, error)
	Loopbacks(ctx context.Context) (map[string]bool, error)
}

type gopsutilReader struct{}

// Compile-time interface guard.
var _ hostReader = gopsutilReader{}

func (gopsutilReader) CPUTimes(ctx context.Context) (cpu.TimesStat, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return cpu.TimesStat{}, err
	}
	if len(times) == 0 {
		return cpu.TimesStat{}, fmt.Errorf("no aggregate cpu times")
	}
	return times[0], nil
}

func (gopsutilReader) VirtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error) {
	return mem.VirtualMemoryWithContext(ctx)
}

func (gopsutilReader) DiskUsage(ctx context.Context, path string) (*disk.UsageStat, error) {
	return disk.UsageWithContext(ctx, path)
}

func (gopsutilReader) DiskIO(ctx context.Context) (map[string]disk.IOCountersStat, error) {
	return disk.IOCountersWithContext(ctx)
}

func (gopsutilReader) NetIO(ctx context.Context) ([]psnet.IOCountersStat, error) {
	return psnet.IOCountersWithContext(ctx, true)
}

func (gopsutilReader) Loopbacks(ctx context.Context) (map[string]bool, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, ifc := range ifaces {
		if slices.Contains(ifc.Flags, "loopback") {
			out[ifc.Name] = true
		}
	}
	return out, nil
}
