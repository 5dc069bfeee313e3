package diagnostics

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemMetrics holds host and process resource usage.
type SystemMetrics struct {
	// CPU
	CPUCores   int     `json:"cpu_cores"`
	CPUPercent float64 `json:"cpu_percent"`

	// Memory (in MB)
	MemTotalMB float64 `json:"mem_total_mb"`
	MemUsedMB  float64 `json:"mem_used_mb"`
	MemPercent float64 `json:"mem_percent"`

	// Disk holding the run store (in GB)
	DiskPath    string  `json:"disk_path"`
	DiskTotalGB float64 `json:"disk_total_gb"`
	DiskUsedGB  float64 `json:"disk_used_gb"`
	DiskPercent float64 `json:"disk_percent"`

	// Load Average (Unix)
	LoadAvg1  float64 `json:"load_avg_1"`
	LoadAvg5  float64 `json:"load_avg_5"`
	LoadAvg15 float64 `json:"load_avg_15"`

	// Process
	Goroutines    int     `json:"goroutines"`
	HeapAllocMB   float64 `json:"heap_alloc_mb"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// SystemMetricsCollector collects system-wide statistics.
type SystemMetricsCollector struct {
	mu           sync.Mutex
	diskPath     string
	started      time.Time
	lastCPUTotal float64
	lastCPUIdle  float64
	cpuCores     int
}

// NewSystemMetricsCollector creates a collector that reports disk usage for
// the filesystem holding diskPath. An empty path means the root filesystem.
func NewSystemMetricsCollector(diskPath string) *SystemMetricsCollector {
	if diskPath == "" {
		diskPath = rootDiskPath()
	}
	return &SystemMetricsCollector{diskPath: diskPath, started: time.Now()}
}

// Collect gathers current statistics.
func (c *SystemMetricsCollector) Collect() SystemMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := SystemMetrics{DiskPath: c.diskPath}
	c.collectCPUInfo(&stats)
	c.collectMemoryInfo(&stats)
	c.collectDiskInfo(&stats)
	c.collectLoadAvg(&stats)
	c.collectProcessInfo(&stats)
	return stats
}

// collectMemoryInfo reads system memory information.
func (c *SystemMetricsCollector) collectMemoryInfo(stats *SystemMetrics) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return
	}
	stats.MemTotalMB = float64(vm.Total) / 1024 / 1024
	stats.MemUsedMB = float64(vm.Used) / 1024 / 1024
	stats.MemPercent = vm.UsedPercent
}

// collectCPUInfo reads system CPU usage as the delta since the last call.
func (c *SystemMetricsCollector) collectCPUInfo(stats *SystemMetrics) {
	if c.cpuCores == 0 {
		if n, err := cpu.Counts(true); err == nil {
			c.cpuCores = n
		}
	}
	stats.CPUCores = c.cpuCores

	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return
	}
	t := times[0]
	total := t.User + t.Nice + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal
	idle := t.Idle + t.Iowait

	if c.lastCPUTotal > 0 {
		totalDelta := total - c.lastCPUTotal
		idleDelta := idle - c.lastCPUIdle
		if totalDelta > 0 {
			stats.CPUPercent = (1 - idleDelta/totalDelta) * 100
		}
	}
	c.lastCPUTotal = total
	c.lastCPUIdle = idle
}

// collectDiskInfo reads usage of the filesystem holding the store.
func (c *SystemMetricsCollector) collectDiskInfo(stats *SystemMetrics) {
	usage, err := disk.Usage(c.diskPath)
	if err != nil {
		return
	}
	stats.DiskTotalGB = float64(usage.Total) / 1024 / 1024 / 1024
	stats.DiskUsedGB = float64(usage.Used) / 1024 / 1024 / 1024
	stats.DiskPercent = usage.UsedPercent
}

// collectLoadAvg reads system load averages.
func (c *SystemMetricsCollector) collectLoadAvg(stats *SystemMetrics) {
	avg, err := load.Avg()
	if err != nil {
		return
	}
	stats.LoadAvg1 = avg.Load1
	stats.LoadAvg5 = avg.Load5
	stats.LoadAvg15 = avg.Load15
}

func (c *SystemMetricsCollector) collectProcessInfo(stats *SystemMetrics) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stats.Goroutines = runtime.NumGoroutine()
	stats.HeapAllocMB = float64(ms.HeapAlloc) / 1024 / 1024
	stats.UptimeSeconds = int64(time.Since(c.started).Seconds())
}

func rootDiskPath() string {
	if runtime.GOOS == "windows" {
		drive := os.Getenv("SystemDrive")
		if drive == "" {
			drive = "C:"
		}
		return drive + "\\"
	}
	return "/"
}
