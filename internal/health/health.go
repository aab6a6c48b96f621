// Package health reports process-level vitals for the /api/health endpoint.
package health

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Status is the health snapshot returned to operators.
type Status struct {
	Status        string  `json:"status"`
	PID           int     `json:"pid"`
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryRSS     uint64  `json:"memoryRssBytes"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Probe samples the running process via gopsutil.
type Probe struct {
	proc      *process.Process
	startedAt time.Time
}

func NewProbe() (*Probe, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Probe{proc: proc, startedAt: time.Now()}, nil
}

// Check returns the current snapshot. Sampling failures degrade individual
// fields to zero instead of failing the endpoint.
func (p *Probe) Check(ctx context.Context) Status {
	st := Status{
		Status:        "ok",
		PID:           os.Getpid(),
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: time.Since(p.startedAt).Seconds(),
	}
	if cpu, err := p.proc.CPUPercentWithContext(ctx); err == nil {
		st.CPUPercent = cpu
	}
	if mem, err := p.proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		st.MemoryRSS = mem.RSS
	}
	return st
}
