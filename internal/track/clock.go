// Package track implements the call-level instrumentation engine: a clock
// source, filter rules, the call recorder, the in-memory aggregation store,
// and the session that ties them to an upload controller.
package track

import (
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Clock provides the wall-clock and process CPU-time readings used by the
// call recorder.
type Clock interface {
	Now() time.Time
	// CPUSeconds returns the cumulative CPU time (user + system) consumed
	// by the current process, in seconds.
	CPUSeconds() (float64, error)
}

// systemClock reads wall time from the runtime and process CPU time via
// gopsutil.
type systemClock struct {
	proc *process.Process
}

// NewSystemClock creates a clock bound to the current process.
func NewSystemClock() (Clock, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open current process for CPU timing: %w", err)
	}
	return &systemClock{proc: proc}, nil
}

func (c *systemClock) Now() time.Time {
	return time.Now()
}

func (c *systemClock) CPUSeconds() (float64, error) {
	times, err := c.proc.Times()
	if err != nil {
		return 0, fmt.Errorf("failed to read process CPU times: %w", err)
	}
	return times.User + times.System, nil
}
