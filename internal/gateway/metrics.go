package gateway

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemMetrics holds process and host resource usage.
type SystemMetrics struct {
	CPULoad1     float64 `json:"cpu_load_1"`
	CPULoad5     float64 `json:"cpu_load_5"`
	CPULoad15    float64 `json:"cpu_load_15"`
	CPUPercent   float64 `json:"cpu_percent"`
	CPUCores     int     `json:"cpu_cores"`
	MemUsedMB    float64 `json:"mem_used_mb"`
	MemTotalMB   float64 `json:"mem_total_mb"`
	MemPercent   float64 `json:"mem_percent"`
	ProcRSSMB    float64 `json:"proc_rss_mb"`
	HeapAllocMB  float64 `json:"heap_alloc_mb"`
	SysMB        float64 `json:"sys_mb"`
	GCRuns       uint32  `json:"gc_runs"`
	Goroutines   int     `json:"goroutines"`
	UptimeSec    int64   `json:"uptime_sec"`
	WSClients    int     `json:"ws_clients"`
	MarketOpen   bool    `json:"market_open"`
	MarketStatus string  `json:"market_status,omitempty"`
	TS           string  `json:"ts"`

	Latency LatencyStats `json:"latency"`
}

// CollectMetrics gathers resource usage. Host figures that cannot be read
// on this platform are left at zero.
func CollectMetrics(ctx context.Context, start time.Time) SystemMetrics {
	m := SystemMetrics{
		Goroutines: runtime.NumGoroutine(),
		UptimeSec:  int64(time.Since(start).Seconds()),
		TS:         time.Now().UTC().Format(time.RFC3339Nano),
		CPUCores:   runtime.NumCPU(),
	}

	// interval 0 compares against the previous call
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		m.CPUPercent = pct[0]
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		m.CPULoad1, m.CPULoad5, m.CPULoad15 = avg.Load1, avg.Load5, avg.Load15
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.MemTotalMB = float64(vm.Total) / 1024 / 1024
		m.MemUsedMB = float64(vm.Used) / 1024 / 1024
		m.MemPercent = vm.UsedPercent
	}
	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if info, err := p.MemoryInfoWithContext(ctx); err == nil {
			m.ProcRSSMB = float64(info.RSS) / 1024 / 1024
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.HeapAllocMB = float64(ms.HeapAlloc) / 1024 / 1024
	m.SysMB = float64(ms.Sys) / 1024 / 1024
	m.GCRuns = ms.NumGC

	return m
}
