package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"goperf/internal/config"
)

func daemonConfig(dir string) config.DaemonConfig {
	return config.DaemonConfig{
		DataDir:        dir,
		SampleInterval: "10ms",
		FlushInterval:  "40ms",
		Retention:      "24h",
		RingCapacity:   64,
	}
}

func TestDaemon_RejectsInvalidDurations(t *testing.T) {
	cfg := daemonConfig(t.TempDir())
	cfg.SampleInterval = "soon"
	if _, err := New(cfg); err == nil {
		t.Errorf("Expected an error for an unparseable sample interval")
	}

	cfg = daemonConfig(t.TempDir())
	cfg.Retention = "-1h"
	if _, err := New(cfg); err == nil {
		t.Errorf("Expected an error for a non-positive retention")
	}
}

func TestDaemon_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	d, err := New(daemonConfig(dir))
	if err != nil {
		t.Fatalf("Failed to create daemon: %v", err)
	}

	if err := d.Start(); err != nil {
		t.Fatalf("Failed to start daemon: %v", err)
	}
	if d.State() != StateRunning {
		t.Errorf("Expected state running after Start, got %s", d.State())
	}
	if _, err := os.Stat(filepath.Join(dir, lockFileName)); err != nil {
		t.Errorf("Expected a lock file while running: %v", err)
	}

	// Let a few sample ticks land, then stop; Stop drains the ring to disk.
	time.Sleep(60 * time.Millisecond)
	d.Stop()
	d.Stop()

	if d.State() != StateStopped {
		t.Errorf("Expected state stopped after Stop, got %s", d.State())
	}
	if _, err := os.Stat(filepath.Join(dir, lockFileName)); !os.IsNotExist(err) {
		t.Errorf("Expected the lock file removed after Stop")
	}

	files, err := ListMetricFiles(dir)
	if err != nil {
		t.Fatalf("ListMetricFiles failed: %v", err)
	}
	if len(files) == 0 {
		t.Fatalf("Expected the drain flush to write a metric file")
	}
	samples, err := ReadMetricFile(files[len(files)-1].Path)
	if err != nil {
		t.Fatalf("ReadMetricFile failed: %v", err)
	}
	if len(samples) == 0 {
		t.Errorf("Expected at least one sample in the drained file")
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].Timestamp.Before(samples[i-1].Timestamp) {
			t.Errorf("Samples out of timestamp order at index %d", i)
		}
	}
}

func TestDaemon_SecondInstanceRejected(t *testing.T) {
	dir := t.TempDir()
	first, err := New(daemonConfig(dir))
	if err != nil {
		t.Fatalf("Failed to create daemon: %v", err)
	}
	if err := first.Start(); err != nil {
		t.Fatalf("Failed to start first daemon: %v", err)
	}
	defer first.Stop()

	second, err := New(daemonConfig(dir))
	if err != nil {
		t.Fatalf("Failed to create second daemon: %v", err)
	}
	if err := second.Start(); err == nil {
		second.Stop()
		t.Fatalf("Expected the second instance to be rejected while the lock is held")
	}
	if second.State() != StateStopped {
		t.Errorf("Expected the rejected instance back in stopped state, got %s", second.State())
	}
	assertStopReturns(t, second)
}

// assertStopReturns fails the test when Stop blocks instead of returning.
func assertStopReturns(t *testing.T, d *Daemon) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop blocked for a daemon whose loop never started")
	}
}

func TestDaemon_StopBeforeStartReturns(t *testing.T) {
	d, err := New(daemonConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("Failed to create daemon: %v", err)
	}
	assertStopReturns(t, d)
	if d.State() != StateStopped {
		t.Errorf("Expected a never-started daemon to stay stopped, got %s", d.State())
	}
}

func TestAcquireLock_ReclaimsStaleLock(t *testing.T) {
	dir := t.TempDir()

	// A lock naming a pid that cannot exist is stale and reclaimed.
	lockPath := filepath.Join(dir, lockFileName)
	if err := os.WriteFile(lockPath, []byte("99999999\n"), 0644); err != nil {
		t.Fatalf("Failed to plant stale lock: %v", err)
	}
	if err := acquireLock(dir); err != nil {
		t.Fatalf("Expected the stale lock to be reclaimed: %v", err)
	}
	releaseLock(dir)

	// A lock with unreadable content is treated the same way.
	if err := os.WriteFile(lockPath, []byte("not-a-pid\n"), 0644); err != nil {
		t.Fatalf("Failed to plant corrupt lock: %v", err)
	}
	if err := acquireLock(dir); err != nil {
		t.Fatalf("Expected the corrupt lock to be reclaimed: %v", err)
	}
	releaseLock(dir)
}

func TestAcquireLock_LiveLockRejected(t *testing.T) {
	dir := t.TempDir()
	if err := acquireLock(dir); err != nil {
		t.Fatalf("First acquire failed: %v", err)
	}
	defer releaseLock(dir)

	// Our own pid is alive, so the lock is honored.
	if err := acquireLock(dir); err == nil {
		t.Errorf("Expected the second acquire to fail while the owner lives")
	}
}

func TestReadStatus_FromDataDirectory(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{0, time.Hour} {
		ft := base.Add(offset)
		if _, err := WriteMetricFile(dir, ft, samplesFor(ft, 1)); err != nil {
			t.Fatalf("WriteMetricFile failed: %v", err)
		}
	}

	status, err := ReadStatus(dir)
	if err != nil {
		t.Fatalf("ReadStatus failed: %v", err)
	}
	if status.State != StateStopped {
		t.Errorf("Expected stopped without a lock file, got %s", status.State)
	}
	if status.RetainedFiles != 2 {
		t.Errorf("Expected 2 retained files, got %d", status.RetainedFiles)
	}
	if !status.LastFlushTime.Equal(base.Add(time.Hour)) {
		t.Errorf("Expected the newest file's flush time, got %v", status.LastFlushTime)
	}
}

func TestReadStatus_LiveLockMeansRunning(t *testing.T) {
	dir := t.TempDir()
	if err := acquireLock(dir); err != nil {
		t.Fatalf("acquireLock failed: %v", err)
	}
	defer releaseLock(dir)

	status, err := ReadStatus(dir)
	if err != nil {
		t.Fatalf("ReadStatus failed: %v", err)
	}
	if status.State != StateRunning {
		t.Errorf("Expected running while our own pid holds the lock, got %s", status.State)
	}
}
