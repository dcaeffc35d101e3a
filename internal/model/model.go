package model

import (
	"time"
)

// CallRecord holds the measurements for a single tracked function invocation.
type CallRecord struct {
	// Name is the qualified name of the tracked function (package + function).
	Name string `json:"name"`
	// WallTime and CPUTime are independently measured durations in seconds.
	WallTime float64 `json:"wall_time"`
	CPUTime  float64 `json:"cpu_time"`
	// Timestamp is the point in time the call completed.
	Timestamp time.Time `json:"timestamp"`
	// Arguments is a bounded textual capture of the call arguments,
	// present only when argument tracking is enabled.
	Arguments string `json:"arguments,omitempty"`
}

// TimingStats holds the aggregate statistics for one measured dimension
// (wall time or CPU time) across a function's call records.
type TimingStats struct {
	Total   float64 `json:"total"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// FunctionSummary is the aggregate view of all call records for one function.
// It is derived on demand from the records and never stored independently.
type FunctionSummary struct {
	Name      string      `json:"name"`
	CallCount int         `json:"call_count"`
	Wall      TimingStats `json:"wall_time"`
	CPU       TimingStats `json:"cpu_time"`
}

// Batch is one flushed set of call records handed to a sink. The summary
// numerics are carried alongside the records so remote stores can filter
// cheaply without deserializing the payload.
type Batch struct {
	SessionID  string       `json:"session_id"`
	Hostname   string       `json:"hostname"`
	UploadTime time.Time    `json:"upload_time"`
	Records    []CallRecord `json:"records"`

	TotalCalls       int     `json:"total_calls"`
	TotalWallSeconds float64 `json:"total_wall_seconds"`
	TotalCPUSeconds  float64 `json:"total_cpu_seconds"`
}

// NewBatch builds a batch from a snapshot of call records and computes the
// summary numerics.
func NewBatch(sessionID, hostname string, records []CallRecord) *Batch {
	b := &Batch{
		SessionID:  sessionID,
		Hostname:   hostname,
		UploadTime: time.Now(),
		Records:    records,
		TotalCalls: len(records),
	}
	for _, rec := range records {
		b.TotalWallSeconds += rec.WallTime
		b.TotalCPUSeconds += rec.CPUTime
	}
	return b
}

// NetCounters holds the cumulative I/O counters for one network interface.
type NetCounters struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
}

// ProcessSample is the per-tracked-process breakdown captured in a system sample.
type ProcessSample struct {
	PID           int32   `json:"pid"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// SystemSample is one tick of whole-system resource measurements taken by
// the sampler daemon. Samples are strictly ordered by timestamp within one
// sampler run.
type SystemSample struct {
	Timestamp       time.Time              `json:"timestamp"`
	CPUPercent      float64                `json:"cpu_percent"`
	MemoryPercent   float64                `json:"memory_percent"`
	MemoryUsedBytes uint64                 `json:"memory_used_bytes"`
	Network         map[string]NetCounters `json:"network,omitempty"`
	Processes       []ProcessSample        `json:"processes,omitempty"`
}
