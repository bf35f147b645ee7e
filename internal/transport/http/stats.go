package http

import (
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
)

// processStats samples this server process. Errors leave the section out.
func processStats() *ProcessStats {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		slog.Debug("stats.process failed", "err", err)
		return nil
	}
	ps := &ProcessStats{PID: p.Pid}
	if mi, err := p.MemoryInfo(); err == nil {
		ps.RSSBytes = mi.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		ps.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		ps.Threads = n
	}
	return ps
}

// hostStats reports memory and load of the machine running the code.
func hostStats() *HostStats {
	vm, err := mem.VirtualMemory()
	if err != nil {
		slog.Debug("stats.memory failed", "err", err)
		return nil
	}
	hs := &HostStats{
		MemTotal:    vm.Total,
		MemUsedPct:  vm.UsedPercent,
		CollectedAt: time.Now(),
	}
	if avg, err := load.Avg(); err == nil {
		hs.Load1, hs.Load5, hs.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	return hs
}
