package daemon

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"goperf/internal/model"
)

const (
	metricFilePrefix = "samples_"
	metricTimeLayout = "2006-01-02_15-04-05.000000000"
)

// MetricFile describes one retained metric file. FlushTime is decoded from
// the file name; every sample inside the file is older than or equal to it.
type MetricFile struct {
	Path      string
	FlushTime time.Time
}

// WriteMetricFile atomically persists one flushed batch of samples: the file
// is written to a temporary name and renamed into place, so a concurrent
// reader never observes a partially-written file.
func WriteMetricFile(dir string, flushTime time.Time, samples []model.SystemSample) (string, error) {
	data, err := json.Marshal(samples)
	if err != nil {
		return "", fmt.Errorf("failed to marshal samples: %w", err)
	}

	name := metricFilePrefix + flushTime.UTC().Format(metricTimeLayout) + ".json"
	finalPath := filepath.Join(dir, name)
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write metric file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to publish metric file: %w", err)
	}
	return finalPath, nil
}

// ReadMetricFile loads the samples from one metric file.
func ReadMetricFile(path string) ([]model.SystemSample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metric file: %w", err)
	}
	var samples []model.SystemSample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metric file %s: %w", path, err)
	}
	return samples, nil
}

// ListMetricFiles returns the retained metric files sorted oldest first.
// Files whose names do not parse are skipped.
func ListMetricFiles(dir string) ([]MetricFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var files []MetricFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, metricFilePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, metricFilePrefix), ".json")
		flushTime, err := time.Parse(metricTimeLayout, stamp)
		if err != nil {
			continue
		}
		files = append(files, MetricFile{Path: filepath.Join(dir, name), FlushTime: flushTime})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].FlushTime.Before(files[j].FlushTime)
	})
	return files, nil
}

// PruneMetricFiles deletes whole metric files flushed before the cutoff. A
// file's samples are never newer than its flush time, so a file flushed
// after the cutoff may straddle it and is preserved whole. A file that
// cannot be deleted is logged and left for the next sweep.
func PruneMetricFiles(dir string, cutoff time.Time) (int, error) {
	files, err := ListMetricFiles(dir)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, f := range files {
		if !f.FlushTime.Before(cutoff) {
			break
		}
		if err := os.Remove(f.Path); err != nil {
			log.Printf("Failed to prune metric file %s, leaving it for the next sweep: %v", f.Path, err)
			continue
		}
		deleted++
	}
	return deleted, nil
}
