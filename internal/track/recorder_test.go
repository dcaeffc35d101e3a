package track

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"goperf/internal/config"
	"goperf/internal/model"
)

// fakeClock is a manually advanced clock so tests control the measured
// wall and CPU durations exactly.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
	cpu float64
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) CPUSeconds() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cpu, nil
}

func (c *fakeClock) advance(wall time.Duration, cpu float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(wall)
	c.cpu += cpu
}

// captureSink collects every batch it is asked to write.
type captureSink struct {
	mu      sync.Mutex
	batches []*model.Batch
}

func (s *captureSink) Write(ctx context.Context, batch *model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Upload.Strategy = "manual"
	cfg.Upload.RetryBaseDelay = "1ms"
	return cfg
}

func testSession(t *testing.T, cfg *config.Config, clock Clock, primary model.Sink) *Session {
	t.Helper()
	s, err := newSession(cfg, clock, primary, nil)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	return s
}

func TestTrack_MeasuresWallAndCPU(t *testing.T) {
	clock := newFakeClock()
	s := testSession(t, testConfig(), clock, &captureSink{})

	err := s.Track("app.Compute", func() error {
		clock.advance(20*time.Millisecond, 0.005)
		return nil
	})
	if err != nil {
		t.Fatalf("Track returned an unexpected error: %v", err)
	}

	recs := s.Records("app.Compute")
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	if diff := recs[0].WallTime - 0.020; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected wall time 0.020s, got %f", recs[0].WallTime)
	}
	if diff := recs[0].CPUTime - 0.005; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected cpu time 0.005s, got %f", recs[0].CPUTime)
	}
}

func TestTrack_MinExecutionTimeBoundary(t *testing.T) {
	cfg := testConfig()
	cfg.Perf.MinExecutionTime = "10ms"
	clock := newFakeClock()
	s := testSession(t, cfg, clock, &captureSink{})

	// Just below the threshold: excluded.
	s.Track("app.Fast", func() error {
		clock.advance(9*time.Millisecond, 0)
		return nil
	})
	if len(s.Records("app.Fast")) != 0 {
		t.Errorf("Expected a call below min_execution_time to be excluded")
	}

	// Exactly at the threshold: included.
	s.Track("app.Edge", func() error {
		clock.advance(10*time.Millisecond, 0)
		return nil
	})
	if len(s.Records("app.Edge")) != 1 {
		t.Errorf("Expected a call exactly at min_execution_time to be recorded")
	}
}

func TestTrack_ErrorPropagatesAndCallIsRecorded(t *testing.T) {
	clock := newFakeClock()
	s := testSession(t, testConfig(), clock, &captureSink{})

	wantErr := errors.New("boom")
	err := s.Track("app.Failing", func() error {
		clock.advance(time.Millisecond, 0)
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected the function's error back, got %v", err)
	}
	if len(s.Records("app.Failing")) != 1 {
		t.Errorf("Expected the failing call to be recorded")
	}
}

func TestTrack_PanicPropagatesAndCallIsRecorded(t *testing.T) {
	clock := newFakeClock()
	s := testSession(t, testConfig(), clock, &captureSink{})

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("Expected the panic to propagate out of Track")
			}
		}()
		s.Track("app.Panicking", func() error {
			clock.advance(2*time.Millisecond, 0)
			panic("kaboom")
		})
	}()

	if len(s.Records("app.Panicking")) != 1 {
		t.Errorf("Expected the panicking call to be recorded")
	}
}

func TestTrack_DisabledSessionRecordsNothing(t *testing.T) {
	cfg := testConfig()
	cfg.Perf.Enabled = false
	clock := newFakeClock()
	s := testSession(t, cfg, clock, &captureSink{})

	s.Track("app.Anything", func() error {
		clock.advance(50*time.Millisecond, 0.01)
		return nil
	})
	if s.Store().Len() != 0 {
		t.Errorf("Expected a disabled session to store nothing, got %d records", s.Store().Len())
	}
}

func TestTrack_FilterRules(t *testing.T) {
	cfg := testConfig()
	cfg.Filter.Exclude = []string{`^runtime\.`}
	clock := newFakeClock()
	s := testSession(t, cfg, clock, &captureSink{})

	s.Track("runtime.GC", func() error {
		clock.advance(time.Millisecond, 0)
		return nil
	})
	s.Track("app.Work", func() error {
		clock.advance(time.Millisecond, 0)
		return nil
	})

	if len(s.Records("runtime.GC")) != 0 {
		t.Errorf("Expected excluded name runtime.GC to be dropped")
	}
	if len(s.Records("app.Work")) != 1 {
		t.Errorf("Expected app.Work to be recorded")
	}
}

func TestTrack_MaxTrackedCallsCap(t *testing.T) {
	cfg := testConfig()
	cfg.Perf.MaxTrackedCalls = 2
	clock := newFakeClock()
	s := testSession(t, cfg, clock, &captureSink{})

	for i := 0; i < 5; i++ {
		s.Track("app.Capped", func() error {
			clock.advance(time.Millisecond, 0)
			return nil
		})
	}
	if got := s.Store().Len(); got != 2 {
		t.Errorf("Expected the store capped at 2 records, got %d", got)
	}
}

func TestSession_MixedWorkloadSummary(t *testing.T) {
	cfg := testConfig()
	cfg.Perf.MinExecutionTime = "10ms"
	clock := newFakeClock()
	s := testSession(t, cfg, clock, &captureSink{})

	for i := 0; i < 5; i++ {
		s.Track("app.Fast", func() error {
			clock.advance(5*time.Millisecond, 0.001)
			return nil
		})
	}
	for i := 0; i < 3; i++ {
		s.Track("app.Slow", func() error {
			clock.advance(20*time.Millisecond, 0.008)
			return nil
		})
	}

	if _, ok := s.Summary("app.Fast"); ok {
		t.Errorf("Expected fast calls under the threshold to have no summary")
	}
	slow, ok := s.Summary("app.Slow")
	if !ok {
		t.Fatalf("Expected a summary for app.Slow")
	}
	if slow.CallCount != 3 {
		t.Errorf("Expected 3 slow calls, got %d", slow.CallCount)
	}
	if diff := slow.Wall.Total - 0.060; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected total slow wall time 0.060s, got %f", slow.Wall.Total)
	}
}

func TestTrackWithArgs_CaptureFollowsConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Perf.TrackArguments = true
	clock := newFakeClock()
	s := testSession(t, cfg, clock, &captureSink{})

	s.TrackWithArgs("app.WithArgs", []any{"user-42", 7}, func() error {
		clock.advance(time.Millisecond, 0)
		return nil
	})
	recs := s.Records("app.WithArgs")
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	if recs[0].Arguments == "" {
		t.Errorf("Expected captured arguments when tracking is enabled")
	}

	cfg2 := testConfig()
	s2 := testSession(t, cfg2, clock, &captureSink{})
	s2.TrackWithArgs("app.WithArgs", []any{"user-42"}, func() error {
		clock.advance(time.Millisecond, 0)
		return nil
	})
	recs2 := s2.Records("app.WithArgs")
	if len(recs2) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs2))
	}
	if recs2[0].Arguments != "" {
		t.Errorf("Expected no captured arguments when tracking is disabled, got %q", recs2[0].Arguments)
	}
}

func TestSession_CloseFlushesExactlyOnce(t *testing.T) {
	cfg := testConfig()
	cfg.Upload.Strategy = "on_exit"
	clock := newFakeClock()
	sink := &captureSink{}
	s := testSession(t, cfg, clock, sink)

	s.Track("app.Work", func() error {
		clock.advance(time.Millisecond, 0)
		return nil
	})
	if sink.count() != 0 {
		t.Fatalf("Expected no flush before Close under on_exit")
	}

	s.Close()
	s.Close()
	if sink.count() != 1 {
		t.Errorf("Expected exactly one flush across repeated Close calls, got %d", sink.count())
	}
	if s.Store().Len() != 0 {
		t.Errorf("Expected the store cleared after the on-exit flush, got %d records", s.Store().Len())
	}
}
