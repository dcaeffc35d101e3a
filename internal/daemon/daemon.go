package daemon

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"goperf/internal/config"
)

// State is the daemon's lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateCrashed  State = "crashed"
)

const lockFileName = "daemon.lock"

// Daemon is the long-running system sampler. A single cooperative loop
// takes one sample per sample interval into the ring buffer and, on its own
// longer interval, flushes buffered samples to a new metric file and prunes
// files older than the retention window. Exclusive ownership of the data
// directory is held through a lock file for the daemon's lifetime.
type Daemon struct {
	dataDir        string
	sampleInterval time.Duration
	flushInterval  time.Duration
	retention      time.Duration
	cpuAlert       float64
	memAlert       float64

	sampler *Sampler
	ring    *Ring

	mu         sync.Mutex
	state      State
	started    bool
	lastSample time.Time
	lastFlush  time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a daemon from the configuration.
func New(cfg config.DaemonConfig) (*Daemon, error) {
	sampleInterval, err := time.ParseDuration(cfg.SampleInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid sample_interval: %w", err)
	}
	flushInterval, err := time.ParseDuration(cfg.FlushInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid flush_interval: %w", err)
	}
	retention, err := time.ParseDuration(cfg.Retention)
	if err != nil {
		return nil, fmt.Errorf("invalid retention: %w", err)
	}
	if sampleInterval <= 0 || flushInterval <= 0 || retention <= 0 {
		return nil, fmt.Errorf("sample_interval, flush_interval, and retention must be positive durations")
	}

	return &Daemon{
		dataDir:        cfg.DataDir,
		sampleInterval: sampleInterval,
		flushInterval:  flushInterval,
		retention:      retention,
		cpuAlert:       cfg.CPUAlertPercent,
		memAlert:       cfg.MemoryAlertPercent,
		sampler:        NewSampler(cfg.PerNICNetwork, cfg.TrackProcesses),
		ring:           NewRing(cfg.RingCapacity),
		state:          StateStopped,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}, nil
}

// Start acquires exclusive ownership of the data directory and launches the
// sampling loop. It fails without side effects when another instance is
// already sampling into the same directory.
func (d *Daemon) Start() error {
	d.setState(StateStarting)

	if err := os.MkdirAll(d.dataDir, 0755); err != nil {
		d.setState(StateStopped)
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := acquireLock(d.dataDir); err != nil {
		d.setState(StateStopped)
		return err
	}

	d.mu.Lock()
	d.state = StateRunning
	d.started = true
	d.mu.Unlock()
	go d.run()
	log.Printf("Sampler daemon running: data_dir=%s sample_interval=%s flush_interval=%s retention=%s",
		d.dataDir, d.sampleInterval, d.flushInterval, d.retention)
	return nil
}

// Stop requests a cooperative shutdown and waits for the loop to drain the
// ring buffer and exit. It is safe to call multiple times, and returns
// immediately when the loop never started (Start failed or was not called).
func (d *Daemon) Stop() {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return
	}

	d.stopOnce.Do(func() {
		d.setState(StateStopping)
		close(d.stopCh)
	})
	<-d.doneCh
}

// State returns the current lifecycle state.
func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Daemon) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// run is the daemon's single scheduling loop. A slow or failing flush can
// delay the next tick by at most the duration of one flush attempt; flush
// failures are logged and retried on the next scheduled flush, never in a
// tight loop.
func (d *Daemon) run() {
	defer close(d.doneCh)
	defer func() {
		if r := recover(); r != nil {
			d.setState(StateCrashed)
			releaseLock(d.dataDir)
			log.Printf("Sampler daemon crashed: %v", r)
		}
	}()

	sampleTicker := time.NewTicker(d.sampleInterval)
	defer sampleTicker.Stop()
	flushTicker := time.NewTicker(d.flushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-d.stopCh:
			// Drain whatever is pending before reaching STOPPED.
			d.flush()
			releaseLock(d.dataDir)
			d.setState(StateStopped)
			log.Println("Sampler daemon stopped.")
			return
		case <-sampleTicker.C:
			d.tick()
		case <-flushTicker.C:
			d.flush()
		}
	}
}

// tick takes one sample. A failed read is isolated to this tick.
func (d *Daemon) tick() {
	sample, err := d.sampler.Sample()
	if err != nil {
		log.Printf("Sample failed, skipping tick: %v", err)
		return
	}

	if d.cpuAlert > 0 && sample.CPUPercent > d.cpuAlert {
		log.Printf("ALERT: CPU usage %.1f%% exceeds threshold %.1f%%", sample.CPUPercent, d.cpuAlert)
	}
	if d.memAlert > 0 && sample.MemoryPercent > d.memAlert {
		log.Printf("ALERT: memory usage %.1f%% exceeds threshold %.1f%%", sample.MemoryPercent, d.memAlert)
	}

	d.ring.Push(sample)
	d.mu.Lock()
	d.lastSample = sample.Timestamp
	d.mu.Unlock()
}

// flush drains the ring to a new metric file and prunes files older than the
// retention window. On a write failure the samples are returned to the ring
// so the next scheduled flush retries them.
func (d *Daemon) flush() {
	samples := d.ring.Drain()
	if len(samples) > 0 {
		flushTime := time.Now()
		path, err := WriteMetricFile(d.dataDir, flushTime, samples)
		if err != nil {
			log.Printf("Flush failed, will retry on next flush interval: %v", err)
			for _, sample := range samples {
				d.ring.Push(sample)
			}
			return
		}
		d.mu.Lock()
		d.lastFlush = flushTime
		d.mu.Unlock()
		log.Printf("Flushed %d samples to %s", len(samples), filepath.Base(path))
	}

	cutoff := time.Now().Add(-d.retention)
	deleted, err := PruneMetricFiles(d.dataDir, cutoff)
	if err != nil {
		log.Printf("Retention sweep failed: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("Retention sweep removed %d metric file(s) older than %s", deleted, d.retention)
	}
}

// acquireLock takes exclusive ownership of the data directory by creating
// the lock file with the daemon's pid. A lock left behind by a dead process
// is reclaimed.
func acquireLock(dataDir string) error {
	lockPath := filepath.Join(dataDir, lockFileName)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			return f.Close()
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}
		if pid, ok := readLockPid(lockPath); ok && pidAlive(pid) {
			return fmt.Errorf("another sampler daemon (pid %d) owns %s", pid, dataDir)
		}
		// Stale lock from a crashed instance; reclaim it.
		log.Printf("Removing stale lock file %s", lockPath)
		if err := os.Remove(lockPath); err != nil {
			return fmt.Errorf("failed to remove stale lock file: %w", err)
		}
	}
	return fmt.Errorf("failed to acquire lock on %s", dataDir)
}

func releaseLock(dataDir string) {
	lockPath := filepath.Join(dataDir, lockFileName)
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to remove lock file %s: %v", lockPath, err)
	}
}

func readLockPid(lockPath string) (int, bool) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// pidAlive reports whether a process with the given pid exists.
func pidAlive(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	return err == nil && alive
}
