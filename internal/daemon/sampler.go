package daemon

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	"goperf/internal/model"
)

// Sampler reads whole-system resource metrics via gopsutil. All reads are
// non-blocking: CPU percentages are computed against the previous call
// rather than sleeping over a measurement window, so sampling never blocks
// the sampled system.
type Sampler struct {
	perNIC     bool
	trackNames map[string]bool
}

// NewSampler creates a sampler. trackNames lists process names (matched
// case-insensitively) to include in the per-process breakdown.
func NewSampler(perNIC bool, trackNames []string) *Sampler {
	tracked := make(map[string]bool, len(trackNames))
	for _, name := range trackNames {
		tracked[strings.ToLower(name)] = true
	}
	return &Sampler{perNIC: perNIC, trackNames: tracked}
}

// Sample captures one system sample. CPU and memory failures fail the whole
// tick; network and per-process failures degrade to missing optional fields.
func (s *Sampler) Sample() (model.SystemSample, error) {
	now := time.Now()

	percentages, err := cpu.Percent(0, false)
	if err != nil {
		return model.SystemSample{}, fmt.Errorf("failed to get CPU percent: %w", err)
	}
	if len(percentages) == 0 {
		return model.SystemSample{}, fmt.Errorf("no CPU percentages returned")
	}

	vmStat, err := mem.VirtualMemory()
	if err != nil {
		return model.SystemSample{}, fmt.Errorf("failed to get memory stats: %w", err)
	}

	sample := model.SystemSample{
		Timestamp:       now,
		CPUPercent:      percentages[0],
		MemoryPercent:   vmStat.UsedPercent,
		MemoryUsedBytes: vmStat.Used,
	}

	if s.perNIC {
		sample.Network = s.collectNetwork()
	}
	if len(s.trackNames) > 0 {
		sample.Processes = s.collectProcesses()
	}

	return sample, nil
}

// collectNetwork reads the per-interface I/O counters.
func (s *Sampler) collectNetwork() map[string]model.NetCounters {
	counters, err := net.IOCounters(true)
	if err != nil {
		log.Printf("Failed to collect network counters: %v", err)
		return nil
	}
	out := make(map[string]model.NetCounters, len(counters))
	for _, counter := range counters {
		out[counter.Name] = model.NetCounters{
			BytesSent:   counter.BytesSent,
			BytesRecv:   counter.BytesRecv,
			PacketsSent: counter.PacketsSent,
			PacketsRecv: counter.PacketsRecv,
		}
	}
	return out
}

// collectProcesses builds the per-tracked-process breakdown.
func (s *Sampler) collectProcesses() []model.ProcessSample {
	procs, err := process.Processes()
	if err != nil {
		log.Printf("Failed to list processes: %v", err)
		return nil
	}

	var out []model.ProcessSample
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || !s.trackNames[strings.ToLower(name)] {
			continue
		}
		cpuPct, err := p.CPUPercent()
		if err != nil {
			continue
		}
		memPct, err := p.MemoryPercent()
		if err != nil {
			continue
		}
		out = append(out, model.ProcessSample{
			PID:           p.Pid,
			Name:          name,
			CPUPercent:    cpuPct,
			MemoryPercent: float64(memPct),
		})
	}
	return out
}
