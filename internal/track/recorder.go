package track

import (
	"fmt"
	"log"
	"time"

	"goperf/internal/model"
)

// maxArgumentBytes bounds the captured argument text per call.
const maxArgumentBytes = 256

// Track runs fn under measurement. The wall and CPU durations are captured
// on every exit path, including panic, and fn's own error or panic
// propagates unchanged. Nothing the recorder does can
// fail the call: measurement and filtering errors are logged and swallowed.
func (s *Session) Track(name string, fn func() error) error {
	done := s.Start(name)
	var err error
	defer func() { done(err) }()
	err = fn()
	return err
}

// TrackWithArgs is Track with argument capture. The arguments are recorded
// only when argument tracking is enabled, and are bounded in size.
func (s *Session) TrackWithArgs(name string, args []any, fn func() error) error {
	done := s.start(name, s.formatArgs(args))
	var err error
	defer func() { done(err) }()
	err = fn()
	return err
}

// Start begins a scoped measurement and returns the completion function.
// Callers must invoke it on every exit path, typically via defer:
//
//	done := session.Start("pkg.Operation")
//	defer func() { done(err) }()
//
// The returned function never panics and never alters the caller's control
// flow.
func (s *Session) Start(name string) func(err error) {
	return s.start(name, "")
}

func (s *Session) start(name, args string) func(err error) {
	if !s.enabled {
		return func(error) {}
	}

	startWall := s.clock.Now()
	startCPU, cpuErr := s.clock.CPUSeconds()
	if cpuErr != nil {
		// Measurement failure: the call proceeds uninstrumented.
		log.Printf("CPU time read failed for %s, call will not be recorded: %v", name, cpuErr)
		return func(error) {}
	}

	return func(error) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Recovered from recorder failure for %s: %v", name, r)
			}
		}()
		s.finish(name, args, startWall, startCPU)
	}
}

// finish computes the durations, applies the filter rules, and appends the
// record to the store.
func (s *Session) finish(name, args string, startWall time.Time, startCPU float64) {
	endWall := s.clock.Now()
	wall := endWall.Sub(startWall)

	cpu := 0.0
	endCPU, err := s.clock.CPUSeconds()
	if err != nil {
		log.Printf("CPU time read failed for %s at call completion: %v", name, err)
	} else if endCPU > startCPU {
		cpu = endCPU - startCPU
	}

	if !s.filter.Allow(name) {
		return
	}
	if wall < s.minExec {
		return
	}

	rec := model.CallRecord{
		Name:      name,
		WallTime:  wall.Seconds(),
		CPUTime:   cpu,
		Timestamp: endWall,
		Arguments: args,
	}
	if !s.store.TryRecord(rec, s.maxCalls) {
		// Cap reached: the call was measured but is not stored.
		return
	}
	s.uploader.RecordAdded()
}

// formatArgs renders the argument list when tracking is enabled, truncated
// to the capture bound.
func (s *Session) formatArgs(args []any) string {
	if !s.trackArgs || len(args) == 0 {
		return ""
	}
	text := fmt.Sprintf("%v", args)
	if len(text) > maxArgumentBytes {
		text = text[:maxArgumentBytes]
	}
	return text
}
