package handbrake

import (
	"context"
	"time"

	gprocess "github.com/shirou/gopsutil/v4/process"
)

// ProcessStats is a resource sample of a running job.
type ProcessStats struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
	VMSBytes   uint64    `json:"vms_bytes"`
	Threads    int32     `json:"threads"`
	SampledAt  time.Time `json:"sampled_at"`
}

// Stats samples CPU and memory usage of the running process. CPU percent is
// averaged over the process lifetime. It fails with ErrControlFailed once the
// process has been reaped.
func (h *JobHandle) Stats(ctx context.Context) (ProcessStats, error) {
	pid, err := h.proc.pid(ActionStats)
	if err != nil {
		return ProcessStats{}, err
	}

	p, err := gprocess.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return ProcessStats{}, controlError(ActionStats, err)
	}

	stats := ProcessStats{PID: pid, SampledAt: time.Now()}

	if stats.CPUPercent, err = p.CPUPercentWithContext(ctx); err != nil {
		return ProcessStats{}, controlError(ActionStats, err)
	}

	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return ProcessStats{}, controlError(ActionStats, err)
	}
	stats.RSSBytes = mem.RSS
	stats.VMSBytes = mem.VMS

	// thread counts are not available on every platform
	if threads, err := p.NumThreadsWithContext(ctx); err == nil {
		stats.Threads = threads
	}

	return stats, nil
}
