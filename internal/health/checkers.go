// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// DirChecker verifies a scratch directory is writable and has room left.
type DirChecker struct {
	name string
	path string
	// MinFreeBytes turns the check degraded below this much free space.
	MinFreeBytes uint64
}

func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path, MinFreeBytes: 64 << 20}
}

func (c *DirChecker) Name() string { return c.name }

func (c *DirChecker) Check(ctx context.Context) CheckResult {
	info, err := os.Stat(c.path)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.path}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusUnhealthy, Error: "expected directory", Message: c.path}
	}

	f, err := os.CreateTemp(c.path, ".health-*")
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: "not writable: " + err.Error(), Message: c.path}
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	usage, err := disk.UsageWithContext(ctx, c.path)
	if err != nil {
		return CheckResult{Status: StatusHealthy, Message: "writable (usage unavailable)"}
	}
	if usage.Free < c.MinFreeBytes {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("low disk space: %d MiB free", usage.Free>>20),
		}
	}
	return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("writable, %.1f%% used", usage.UsedPercent)}
}

// BinaryChecker verifies an external tool is on PATH. A missing optional
// tool only degrades the service.
type BinaryChecker struct {
	name     string
	binary   string
	required bool
}

func NewBinaryChecker(name, binary string, required bool) *BinaryChecker {
	return &BinaryChecker{name: name, binary: binary, required: required}
}

func (c *BinaryChecker) Name() string { return c.name }

func (c *BinaryChecker) Check(context.Context) CheckResult {
	path, err := exec.LookPath(c.binary)
	if err != nil {
		st := StatusDegraded
		if c.required {
			st = StatusUnhealthy
		}
		return CheckResult{Status: st, Error: err.Error(), Message: c.binary}
	}
	return CheckResult{Status: StatusHealthy, Message: filepath.Clean(path)}
}

// PingChecker wraps a connectivity probe such as a cache or broker ping.
type PingChecker struct {
	name     string
	ping     func(ctx context.Context) error
	required bool
}

func NewPingChecker(name string, required bool, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping, required: required}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	if err := c.ping(ctx); err != nil {
		st := StatusDegraded
		if c.required {
			st = StatusUnhealthy
		}
		return CheckResult{Status: st, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "reachable"}
}

// BreakerChecker reports an open circuit breaker as degraded.
type BreakerChecker struct {
	name  string
	state func() string
}

func NewBreakerChecker(name string, state func() string) *BreakerChecker {
	return &BreakerChecker{name: name, state: state}
}

func (c *BreakerChecker) Name() string { return c.name }

func (c *BreakerChecker) Check(context.Context) CheckResult {
	st := c.state()
	if st == "open" {
		return CheckResult{Status: StatusDegraded, Message: "circuit open"}
	}
	return CheckResult{Status: StatusHealthy, Message: "circuit " + st}
}

// ProcessDetails reports resource usage of this process and the host.
func ProcessDetails(ctx context.Context) map[string]any {
	out := map[string]any{
		"goroutines": runtime.NumGoroutine(),
		"num_cpu":    runtime.NumCPU(),
	}
	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil { // #nosec G115 -- pids fit in int32
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
			out["rss_bytes"] = mi.RSS
		}
		if n, err := p.NumThreadsWithContext(ctx); err == nil {
			out["threads"] = n
		}
		if kids, err := p.ChildrenWithContext(ctx); err == nil {
			out["child_processes"] = len(kids)
		} else {
			out["child_processes"] = 0
		}
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out["host_memory_used_percent"] = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		out["load1"] = avg.Load1
	}
	return out
}
