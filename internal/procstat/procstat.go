// Package procstat samples resource usage of the running target command for
// the debug heartbeat.
package procstat

import (
	"fmt"
	"log/slog"

	"github.com/shirou/gopsutil/v3/process"
)

// Sample is a snapshot of one process.
type Sample struct {
	PID        int32
	Name       string
	Status     string
	CPUPercent float64
	MemoryMB   float64 // RSS in MB
	NumThreads int32
	Children   int
}

// Take samples the process pid. Fields the system does not expose stay zero.
func Take(pid int) (*Sample, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("process %d not found: %w", pid, err)
	}
	return fetch(p), nil
}

func fetch(p *process.Process) *Sample {
	s := &Sample{PID: p.Pid}

	// may fail for short-lived processes
	if name, err := p.Name(); err == nil {
		s.Name = name
	}

	if status, err := p.Status(); err == nil && len(status) > 0 {
		s.Status = status[0]
	}

	if cpuPercent, err := p.CPUPercent(); err == nil {
		s.CPUPercent = cpuPercent
	}

	if memInfo, err := p.MemoryInfo(); err == nil {
		s.MemoryMB = float64(memInfo.RSS) / 1024 / 1024
	}

	if numThreads, err := p.NumThreads(); err == nil {
		s.NumThreads = numThreads
	}

	if children, err := p.Children(); err == nil {
		s.Children = len(children)
	}

	return s
}

// LogValue makes a Sample print as a group of attributes.
func (s *Sample) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("pid", int(s.PID)),
		slog.String("name", s.Name),
		slog.String("status", s.Status),
		slog.String("cpu", fmt.Sprintf("%.1f%%", s.CPUPercent)),
		slog.String("rss", fmt.Sprintf("%.1fMB", s.MemoryMB)),
		slog.Int("threads", int(s.NumThreads)),
		slog.Int("children", s.Children),
	)
}

// Heartbeat logs a sample of pid at debug level. A process that is already
// gone is not an error worth more than a debug line.
func Heartbeat(logger *slog.Logger, pid int) {
	if pid <= 0 {
		return
	}
	s, err := Take(pid)
	if err != nil {
		logger.Debug("Command stats unavailable", "pid", pid, "error", err)
		return
	}
	logger.Debug("Command still running", "process", s)
}
