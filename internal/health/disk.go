package health

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// DiskUsage contains disk usage information
type DiskUsage struct {
	TotalBytes     int64   `json:"total_bytes"`
	UsedBytes      int64   `json:"used_bytes"`
	AvailableBytes int64   `json:"available_bytes"`
	UsagePercent   float64 `json:"usage_percent"`
}

// DiskMonitor reports the usage of the filesystem holding the data
// directory. Results are cached for a short while; the metrics scraper and
// the health endpoint both poll it.
type DiskMonitor struct {
	path            string
	maxUsagePercent float64
	cacheDuration   time.Duration

	mu          sync.RWMutex
	lastCheck   time.Time
	cachedUsage *DiskUsage
}

// NewDiskMonitor creates a disk monitor for path
func NewDiskMonitor(path string, maxUsagePercent float64) *DiskMonitor {
	if maxUsagePercent <= 0 || maxUsagePercent > 100 {
		maxUsagePercent = 90
	}
	return &DiskMonitor{
		path:            path,
		maxUsagePercent: maxUsagePercent,
		cacheDuration:   30 * time.Second,
	}
}

// GetUsage returns current disk usage
func (d *DiskMonitor) GetUsage() (*DiskUsage, error) {
	d.mu.RLock()
	if d.cachedUsage != nil && time.Since(d.lastCheck) < d.cacheDuration {
		usage := *d.cachedUsage
		d.mu.RUnlock()
		return &usage, nil
	}
	d.mu.RUnlock()

	usage, err := statfs(d.path)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cachedUsage = usage
	d.lastCheck = time.Now()
	d.mu.Unlock()

	copied := *usage
	return &copied, nil
}

// AvailableBytes returns the free space, or zero when it cannot be read
func (d *DiskMonitor) AvailableBytes() float64 {
	usage, err := d.GetUsage()
	if err != nil {
		return 0
	}
	return float64(usage.AvailableBytes)
}

func statfs(path string) (*DiskUsage, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(absPath, &stat); err != nil {
		return nil, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	totalBytes := int64(stat.Blocks) * int64(stat.Bsize)
	availableBytes := int64(stat.Bavail) * int64(stat.Bsize)
	usedBytes := totalBytes - availableBytes

	var usagePercent float64
	if totalBytes > 0 {
		usagePercent = float64(usedBytes) / float64(totalBytes) * 100.0
	}

	return &DiskUsage{
		TotalBytes:     totalBytes,
		UsedBytes:      usedBytes,
		AvailableBytes: availableBytes,
		UsagePercent:   usagePercent,
	}, nil
}

// DiskChecker degrades the service when the data directory's filesystem
// is nearly full: recordings stop being written once SQLite runs out of
// space.
type DiskChecker struct {
	monitor *DiskMonitor
}

func NewDiskChecker(monitor *DiskMonitor) *DiskChecker {
	return &DiskChecker{monitor: monitor}
}

func (c *DiskChecker) Name() string {
	return "disk"
}

func (c *DiskChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["path"] = c.monitor.path

	usage, err := c.monitor.GetUsage()
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to read disk usage: %v", err)
		return check
	}

	check.Details["usage_percent"] = usage.UsagePercent
	check.Details["available_bytes"] = usage.AvailableBytes

	if usage.UsagePercent >= c.monitor.maxUsagePercent {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Disk usage %.1f%% above %.0f%%", usage.UsagePercent, c.monitor.maxUsagePercent)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Disk space OK"
	return check
}
