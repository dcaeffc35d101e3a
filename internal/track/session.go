package track

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"goperf/internal/config"
	"goperf/internal/model"
	"goperf/internal/sink"
	"goperf/internal/uploader"
)

// Session is one process lifetime of instrumentation. It owns the
// aggregation store and the upload controller, and is the explicit handle
// instrumentation call sites use; there is no hidden process-wide
// singleton. The host must call Close on every termination path (normally
// a defer in main) so the on-exit flush runs.
type Session struct {
	ID        string
	Hostname  string
	StartTime time.Time

	enabled   bool
	minExec   time.Duration
	maxCalls  int
	trackArgs bool

	clock     Clock
	filter    *Filter
	store     *Store
	uploader  *uploader.Controller
	closeOnce sync.Once
}

// NewSession builds a session from the configuration: system clock, filter,
// store, the configured sink, and (for remote sinks) a local fallback sink.
func NewSession(cfg *config.Config) (*Session, error) {
	clock, err := NewSystemClock()
	if err != nil {
		return nil, err
	}

	primary, err := sink.FromConfig(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create sink: %w", err)
	}

	// Remote sinks get the local store as the retry-exhausted fallback so
	// batches are never silently lost.
	var fallback model.Sink
	if cfg.Storage.Type != "local" {
		fallback, err = sink.NewLocalSink(cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("failed to create fallback sink: %w", err)
		}
	}

	return newSession(cfg, clock, primary, fallback)
}

// newSession wires a session with explicit collaborators.
func newSession(cfg *config.Config, clock Clock, primary, fallback model.Sink) (*Session, error) {
	minExec, err := time.ParseDuration(cfg.Perf.MinExecutionTime)
	if err != nil {
		return nil, fmt.Errorf("invalid min_execution_time: %w", err)
	}

	filter, err := NewFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}

	hostname, err := os.Hostname()
	if err != nil {
		log.Printf("Failed to read hostname: %v", err)
		hostname = "unknown"
	}

	store := NewStore()
	sessionID := uuid.NewString()

	controller, err := uploader.New(cfg.Upload, primary, fallback, store, sessionID, hostname)
	if err != nil {
		return nil, err
	}

	return &Session{
		ID:        sessionID,
		Hostname:  hostname,
		StartTime: time.Now(),
		enabled:   cfg.Perf.Enabled,
		minExec:   minExec,
		maxCalls:  cfg.Perf.MaxTrackedCalls,
		trackArgs: cfg.Perf.TrackArguments,
		clock:     clock,
		filter:    filter,
		store:     store,
		uploader:  controller,
	}, nil
}

// Summary returns the aggregate statistics for one tracked function.
func (s *Session) Summary(name string) (model.FunctionSummary, bool) {
	return s.store.Summary(name)
}

// Summaries returns the aggregate statistics for every tracked function.
func (s *Session) Summaries() map[string]model.FunctionSummary {
	return s.store.Summaries()
}

// Records returns the call records for one tracked function.
func (s *Session) Records(name string) []model.CallRecord {
	return s.store.Records(name)
}

// Store exposes the session's aggregation store for read-only consumers
// such as the correlator.
func (s *Session) Store() *Store {
	return s.store
}

// Flush triggers an explicit flush; this is the only trigger under the
// manual strategy.
func (s *Session) Flush() {
	s.uploader.Flush()
}

// Close runs the session's release action exactly once: the final flush for
// every strategy except manual. It is safe to call multiple times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.uploader.Close()
	})
}
