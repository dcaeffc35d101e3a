// Package sink provides the persistence and upload backends for flushed
// call record batches: a local JSON file store, a ClickHouse table store,
// and a NATS stream publisher.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"goperf/internal/config"
	"goperf/internal/model"
)

const (
	batchFilePrefix = "batch_"
	batchTimeLayout = "2006-01-02_15-04-05.000000000"
)

// LocalSink writes each flushed batch to its own JSON file under a
// configured directory. File names encode the upload time plus a sequence
// number so lexical order matches flush order. Once the total retained
// record count exceeds the configured cap, the oldest files are evicted
// first; the newest file is never evicted while older ones remain.
type LocalSink struct {
	dir        string
	maxRecords int

	mu  sync.Mutex
	seq uint64
}

// NewLocalSink creates the storage directory if needed and returns the sink.
func NewLocalSink(cfg config.LocalStorageConfig) (*LocalSink, error) {
	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalSink{dir: cfg.Directory, maxRecords: cfg.MaxRecords}, nil
}

// Write serializes the batch to a new file, made visible atomically via a
// write-then-rename, and then enforces the retained record cap.
func (s *LocalSink) Write(ctx context.Context, batch *model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return model.Permanent(fmt.Errorf("failed to marshal batch: %w", err))
	}

	s.seq++
	name := fmt.Sprintf("%s%s_%06d.json", batchFilePrefix, batch.UploadTime.UTC().Format(batchTimeLayout), s.seq)
	finalPath := filepath.Join(s.dir, name)
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return model.Transient(fmt.Errorf("failed to write batch file: %w", err))
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return model.Transient(fmt.Errorf("failed to publish batch file: %w", err))
	}

	s.evict()
	return nil
}

// batchFileInfo pairs a batch file path with its record count.
type batchFileInfo struct {
	path  string
	count int
}

// evict removes the oldest batch files until the total record count is back
// under the cap. The newest file is always preserved. Failures are logged
// and left for the next write to retry.
func (s *LocalSink) evict() {
	if s.maxRecords <= 0 {
		return
	}
	files, err := s.listBatchFiles()
	if err != nil {
		log.Printf("Failed to scan batch files for eviction: %v", err)
		return
	}

	total := 0
	for _, f := range files {
		total += f.count
	}

	for i := 0; total > s.maxRecords && i < len(files)-1; i++ {
		if err := os.Remove(files[i].path); err != nil {
			log.Printf("Failed to evict batch file %s: %v", files[i].path, err)
			continue
		}
		total -= files[i].count
		log.Printf("Evicted oldest batch file %s (%d records)", filepath.Base(files[i].path), files[i].count)
	}
}

// listBatchFiles returns the batch files sorted oldest first, with the
// record count decoded from each file's summary fields.
func (s *LocalSink) listBatchFiles() ([]batchFileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, batchFilePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	files := make([]batchFileInfo, 0, len(names))
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Failed to read batch file %s: %v", path, err)
			continue
		}
		var header struct {
			TotalCalls int `json:"total_calls"`
		}
		if err := json.Unmarshal(data, &header); err != nil {
			log.Printf("Skipping unreadable batch file %s: %v", path, err)
			continue
		}
		files = append(files, batchFileInfo{path: path, count: header.TotalCalls})
	}
	return files, nil
}

// ReadAll loads every retained batch in flush order. It is used by the
// report command to rebuild a record set from disk.
func ReadAll(dir string) ([]model.Batch, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, batchFilePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	batches := make([]model.Batch, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read batch file %s: %w", name, err)
		}
		var batch model.Batch
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal batch file %s: %w", name, err)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}
