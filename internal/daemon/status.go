package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
)

// Status reports the daemon's run state and data directory contents. It is
// the interface the correlator depends on to discover whether daemon data
// exists.
type Status struct {
	State          State     `json:"state"`
	DataDir        string    `json:"data_dir"`
	LastSampleTime time.Time `json:"last_sample_time"`
	LastFlushTime  time.Time `json:"last_flush_time"`
	RetainedFiles  int       `json:"retained_files"`
}

// Status snapshots the daemon's current status.
func (d *Daemon) Status() Status {
	files, err := ListMetricFiles(d.dataDir)
	if err != nil {
		log.Printf("Failed to list metric files for status: %v", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		State:          d.state,
		DataDir:        d.dataDir,
		LastSampleTime: d.lastSample,
		LastFlushTime:  d.lastFlush,
		RetainedFiles:  len(files),
	}
}

// ReadStatus inspects a data directory without contacting a live daemon:
// the lock file decides the run state, and the newest metric file supplies
// the last flush time.
func ReadStatus(dataDir string) (Status, error) {
	status := Status{State: StateStopped, DataDir: dataDir}

	files, err := ListMetricFiles(dataDir)
	if err != nil {
		return status, err
	}
	status.RetainedFiles = len(files)
	if len(files) > 0 {
		status.LastFlushTime = files[len(files)-1].FlushTime
	}

	lockPath := filepath.Join(dataDir, lockFileName)
	if pid, ok := readLockPid(lockPath); ok && pidAlive(pid) {
		status.State = StateRunning
	}

	return status, nil
}

// StatusServer exposes the daemon's status and a stop trigger over HTTP.
type StatusServer struct {
	daemon *Daemon
	server *http.Server
}

// NewStatusServer wires the HTTP routes for one daemon.
func NewStatusServer(d *Daemon, addr string) *StatusServer {
	s := &StatusServer{daemon: d}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/api/v1/stop", s.stopHandler).Methods("POST")

	s.server = &http.Server{Addr: addr, Handler: r}
	return s
}

// Start serves the API in the background.
func (s *StatusServer) Start() {
	go func() {
		log.Printf("Status API listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Status API server error: %v", err)
		}
	}()
}

// Shutdown stops the HTTP server.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.daemon.Status())
}

func (s *StatusServer) stopHandler(w http.ResponseWriter, r *http.Request) {
	// Stop in the background: Stop blocks until the loop drains, and the
	// caller only needs the acknowledgement.
	go s.daemon.Stop()
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintln(w, "stopping")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode response: %v", err), http.StatusInternalServerError)
	}
}
