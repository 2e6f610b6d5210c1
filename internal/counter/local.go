package counter

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// LocalFactories reads counters of the local host through gopsutil.
func LocalFactories() Factories {
	return Factories{
		Processor: func() (Counter, error) {
			return newCPUCounter(func(ctx context.Context) ([]cpu.TimesStat, error) {
				return cpu.TimesWithContext(ctx, false)
			}), nil
		},
		Memory: func() (Counter, error) {
			return newMemoryCounter(mem.VirtualMemoryWithContext), nil
		},
		Disk: func() (Counter, error) {
			return newDiskCounter(func(ctx context.Context) (map[string]disk.IOCountersStat, error) {
				return disk.IOCountersWithContext(ctx)
			}, time.Now), nil
		},
	}
}

// cpuCounter reports the busy percentage of all CPUs since the previous read.
type cpuCounter struct {
	lifecycle
	times func(ctx context.Context) ([]cpu.TimesStat, error)
	prev  *cpu.TimesStat
}

func newCPUCounter(times func(ctx context.Context) ([]cpu.TimesStat, error)) *cpuCounter {
	return &cpuCounter{times: times}
}

func (c *cpuCounter) Next(ctx context.Context) (float64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}

	stats, err := c.times(ctx)
	if err != nil {
		return 0, unavailable("read cpu times", err)
	}
	if len(stats) == 0 {
		return 0, unavailable("read cpu times", errEmpty)
	}

	cur := stats[0]
	prev := c.prev
	c.prev = &cur
	if prev == nil {
		return 0, nil
	}

	total := cpuTotal(cur) - cpuTotal(*prev)
	idle := (cur.Idle + cur.Iowait) - (prev.Idle + prev.Iowait)
	if total <= 0 {
		return 0, nil
	}
	return clampPercent(100 * (total - idle) / total), nil
}

func (c *cpuCounter) Close() error {
	c.markClosed()
	return nil
}

func cpuTotal(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
}

// memoryCounter reports the used percentage of physical memory.
type memoryCounter struct {
	lifecycle
	virtual func(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

func newMemoryCounter(virtual func(ctx context.Context) (*mem.VirtualMemoryStat, error)) *memoryCounter {
	return &memoryCounter{virtual: virtual}
}

func (c *memoryCounter) Next(ctx context.Context) (float64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}

	vm, err := c.virtual(ctx)
	if err != nil {
		return 0, unavailable("read virtual memory", err)
	}
	if vm == nil {
		return 0, unavailable("read virtual memory", errEmpty)
	}
	return clampPercent(vm.UsedPercent), nil
}

func (c *memoryCounter) Close() error {
	c.markClosed()
	return nil
}

// diskCounter reports the busy percentage of the busiest block device since
// the previous read.
type diskCounter struct {
	lifecycle
	counters func(ctx context.Context) (map[string]disk.IOCountersStat, error)
	now      func() time.Time
	prev     map[string]uint64
	prevAt   time.Time
}

func newDiskCounter(counters func(ctx context.Context) (map[string]disk.IOCountersStat, error), now func() time.Time) *diskCounter {
	return &diskCounter{counters: counters, now: now}
}

func (c *diskCounter) Next(ctx context.Context) (float64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}

	stats, err := c.counters(ctx)
	if err != nil {
		return 0, unavailable("read disk io counters", err)
	}
	now := c.now()

	cur := make(map[string]uint64, len(stats))
	for name, s := range stats {
		cur[name] = s.IoTime
	}

	prev, prevAt := c.prev, c.prevAt
	c.prev, c.prevAt = cur, now
	if prev == nil {
		return 0, nil
	}

	elapsed := float64(now.Sub(prevAt).Milliseconds())
	if elapsed <= 0 {
		return 0, nil
	}

	busiest := 0.0
	for name, ioTime := range cur {
		before, ok := prev[name]
		if !ok || ioTime < before {
			continue
		}
		if busy := 100 * float64(ioTime-before) / elapsed; busy > busiest {
			busiest = busy
		}
	}
	return clampPercent(busiest), nil
}

func (c *diskCounter) Close() error {
	c.markClosed()
	return nil
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
