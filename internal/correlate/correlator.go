// Package correlate joins call records against the sampler daemon's on-disk
// system samples by timestamp proximity. It is read-only: neither the
// aggregation store nor the metric files are mutated.
package correlate

import (
	"sort"
	"time"

	"goperf/internal/daemon"
	"goperf/internal/model"
)

// Source is the view of the aggregation store the correlator reads.
type Source interface {
	AllRecords() []model.CallRecord
	Summaries() map[string]model.FunctionSummary
}

// RecordDetail pairs one call record with the system sample observed
// nearest before it. Sample is nil when no sample with a timestamp at or
// before the record exists.
type RecordDetail struct {
	Record model.CallRecord    `json:"record"`
	Sample *model.SystemSample `json:"sample,omitempty"`
}

// FunctionLoad annotates one function's summary with the system load
// observed around its calls. A zero load value is a real measurement;
// SampleCount is what distinguishes "no samples joined" from "idle system".
type FunctionLoad struct {
	Summary     model.FunctionSummary `json:"summary"`
	SampleCount int                   `json:"sample_count"`
	AvgCPU      float64               `json:"avg_cpu_percent"`
	MaxCPU      float64               `json:"max_cpu_percent"`
	AvgMemory   float64               `json:"avg_memory_percent"`
	MaxMemory   float64               `json:"max_memory_percent"`
}

// Report is the joined output for one time window.
type Report struct {
	From             time.Time      `json:"from"`
	To               time.Time      `json:"to"`
	SamplesAvailable bool           `json:"samples_available"`
	Functions        []FunctionLoad `json:"functions"`
	Records          []RecordDetail `json:"records"`
}

// Correlate reads the metric files overlapping [from, to] and attaches to
// each call record in the window the nearest sample with a timestamp not
// after the record's. When the daemon has produced no samples the report
// still carries the function summaries, with the load fields absent.
func Correlate(src Source, dataDir string, from, to time.Time) (*Report, error) {
	samples, err := loadSamples(dataDir, from, to)
	if err != nil {
		return nil, err
	}

	report := &Report{
		From:             from,
		To:               to,
		SamplesAvailable: len(samples) > 0,
	}

	loads := make(map[string]*FunctionLoad)
	for name, summary := range src.Summaries() {
		loads[name] = &FunctionLoad{Summary: summary}
	}

	for _, rec := range src.AllRecords() {
		if rec.Timestamp.Before(from) || rec.Timestamp.After(to) {
			continue
		}
		detail := RecordDetail{Record: rec}
		if sample := nearestNotAfter(samples, rec.Timestamp); sample != nil {
			detail.Sample = sample
			if load, ok := loads[rec.Name]; ok {
				load.SampleCount++
				load.AvgCPU += sample.CPUPercent
				load.AvgMemory += sample.MemoryPercent
				if sample.CPUPercent > load.MaxCPU {
					load.MaxCPU = sample.CPUPercent
				}
				if sample.MemoryPercent > load.MaxMemory {
					load.MaxMemory = sample.MemoryPercent
				}
			}
		}
		report.Records = append(report.Records, detail)
	}

	names := make([]string, 0, len(loads))
	for name := range loads {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		load := loads[name]
		if load.SampleCount > 0 {
			load.AvgCPU /= float64(load.SampleCount)
			load.AvgMemory /= float64(load.SampleCount)
		}
		report.Functions = append(report.Functions, *load)
	}

	return report, nil
}

// loadSamples reads every metric file that may contain samples relevant to
// the window: files flushed inside or after it, plus the newest file
// flushed before it, which can hold the nearest-preceding sample for
// records near the window start. A missing or empty data directory is not
// an error.
func loadSamples(dataDir string, from, to time.Time) ([]model.SystemSample, error) {
	files, err := daemon.ListMetricFiles(dataDir)
	if err != nil {
		return nil, err
	}

	firstRelevant := 0
	for i, f := range files {
		if f.FlushTime.Before(from) {
			firstRelevant = i
		}
	}

	var samples []model.SystemSample
	for _, f := range files[firstRelevant:] {
		fileSamples, err := daemon.ReadMetricFile(f.Path)
		if err != nil {
			return nil, err
		}
		for _, s := range fileSamples {
			if s.Timestamp.After(to) {
				continue
			}
			samples = append(samples, s)
		}
	}

	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples, nil
}

// nearestNotAfter returns the sample with the greatest timestamp that is
// not after t, or nil when every sample is newer. samples must be sorted
// ascending by timestamp.
func nearestNotAfter(samples []model.SystemSample, t time.Time) *model.SystemSample {
	idx := sort.Search(len(samples), func(i int) bool {
		return samples[i].Timestamp.After(t)
	})
	if idx == 0 {
		return nil
	}
	return &samples[idx-1]
}
