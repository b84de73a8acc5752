package monitor

import (
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// PerformanceMonitor 进程级的运行统计，供 /stats 使用
type PerformanceMonitor struct {
	totalConnections  atomic.Int64
	activeConnections atomic.Int64
	totalRequests     atomic.Int64
	totalBytes        atomic.Int64

	startTime time.Time

	// 从接受连接到写出响应的耗时
	totalResponseTime atomic.Int64 // 纳秒
	responseCount     atomic.Int64

	proc *process.Process
}

// NewPerformanceMonitor 创建性能监控器
func NewPerformanceMonitor() *PerformanceMonitor {
	pm := &PerformanceMonitor{startTime: time.Now()}
	// 取不到进程信息时 /stats 只是少几个字段
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		pm.proc = proc
	}
	return pm
}

// RecordConnection 记录连接
func (pm *PerformanceMonitor) RecordConnection() {
	pm.totalConnections.Add(1)
	pm.activeConnections.Add(1)
}

// RecordConnectionClose 记录连接关闭
func (pm *PerformanceMonitor) RecordConnectionClose() {
	pm.activeConnections.Add(-1)
}

// RecordRequest 记录一次完成的状态查询或登录应答
func (pm *PerformanceMonitor) RecordRequest(bytes int, responseTime time.Duration) {
	pm.totalRequests.Add(1)
	pm.totalBytes.Add(int64(bytes))
	pm.totalResponseTime.Add(int64(responseTime))
	pm.responseCount.Add(1)
}

// GetStats 获取性能统计
func (pm *PerformanceMonitor) GetStats() map[string]any {
	uptime := time.Since(pm.startTime)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	var avgResponseTime float64
	if n := pm.responseCount.Load(); n > 0 {
		avgResponseTime = float64(pm.totalResponseTime.Load()) / float64(n) / float64(time.Millisecond)
	}

	totalReqs := pm.totalRequests.Load()
	stats := map[string]any{
		"total_connections":    pm.totalConnections.Load(),
		"connection_rate":      pm.GetConnectionRate(),
		"active_connections":   pm.activeConnections.Load(),
		"total_requests":       totalReqs,
		"requests_per_second":  float64(totalReqs) / uptime.Seconds(),
		"total_bytes":          pm.totalBytes.Load(),
		"avg_response_time_ms": avgResponseTime,

		"uptime_seconds":  uptime.Seconds(),
		"goroutines":      runtime.NumGoroutine(),
		"memory_alloc_mb": float64(m.Alloc) / 1024 / 1024,
		"memory_sys_mb":   float64(m.Sys) / 1024 / 1024,
		"gc_count":        m.NumGC,
		"cpu_count":       runtime.NumCPU(),
	}

	for k, v := range pm.processStats() {
		stats[k] = v
	}
	return stats
}

// processStats 操作系统视角的进程资源占用
func (pm *PerformanceMonitor) processStats() map[string]any {
	out := make(map[string]any)
	if pm.proc == nil {
		return out
	}

	if cpu, err := pm.proc.CPUPercent(); err == nil {
		out["process_cpu_percent"] = cpu
	}
	if mem, err := pm.proc.MemoryInfo(); err == nil {
		out["process_rss_mb"] = float64(mem.RSS) / 1024 / 1024
	}
	if threads, err := pm.proc.NumThreads(); err == nil {
		out["process_threads"] = threads
	}
	if fds, err := pm.proc.NumFDs(); err == nil {
		out["process_open_fds"] = fds
	}
	return out
}

// GetConnectionRate 每秒新连接数
func (pm *PerformanceMonitor) GetConnectionRate() float64 {
	uptime := time.Since(pm.startTime).Seconds()
	if uptime == 0 {
		return 0
	}
	return float64(pm.totalConnections.Load()) / uptime
}
