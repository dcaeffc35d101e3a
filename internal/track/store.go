package track

import (
	"sort"
	"sync"

	"goperf/internal/model"
)

// Store is the process-local, in-memory aggregation store. It maps function
// names to the ordered sequence of their call records. Mutation is
// append-only during a session; the upload controller removes records via
// Discard only after a flush has been acknowledged by the sink, and only
// the records it snapshotted, so appends that race a flush are never lost.
//
// The store is safe for concurrent use from multiple goroutines.
type Store struct {
	mu      sync.RWMutex
	records map[string][]model.CallRecord
	total   int
}

// NewStore creates an empty aggregation store.
func NewStore() *Store {
	return &Store{records: make(map[string][]model.CallRecord)}
}

// Record appends a call record to the store.
func (s *Store) Record(rec model.CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Name] = append(s.records[rec.Name], rec)
	s.total++
}

// TryRecord appends the record only while the store holds fewer than max
// records. The check and the append are one atomic step, so concurrent
// recorders cannot push the store past the cap.
func (s *Store) TryRecord(rec model.CallRecord, max int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max > 0 && s.total >= max {
		return false
	}
	s.records[rec.Name] = append(s.records[rec.Name], rec)
	s.total++
	return true
}

// Len returns the total number of records currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Records returns a copy of the call records for one function, in recording
// order.
func (s *Store) Records(name string) []model.CallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[name]
	out := make([]model.CallRecord, len(recs))
	copy(out, recs)
	return out
}

// AllRecords returns a copy of every record in the store, ordered by
// completion timestamp.
func (s *Store) AllRecords() []model.CallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CallRecord, 0, s.total)
	for _, recs := range s.records {
		out = append(out, recs...)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Summary computes the aggregate statistics for one function. The second
// return value is false when the function has no records. Summaries are
// recomputed from the records on every call so they always reflect the
// current in-memory state.
func (s *Store) Summary(name string) (model.FunctionSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs, ok := s.records[name]
	if !ok || len(recs) == 0 {
		return model.FunctionSummary{}, false
	}
	return summarize(name, recs), true
}

// Summaries computes the aggregate statistics for every tracked function.
func (s *Store) Summaries() map[string]model.FunctionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.FunctionSummary, len(s.records))
	for name, recs := range s.records {
		if len(recs) == 0 {
			continue
		}
		out[name] = summarize(name, recs)
	}
	return out
}

// Clear removes all records.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string][]model.CallRecord)
	s.total = 0
}

// Discard removes the given records, which must have come from a prior
// AllRecords snapshot. Mutation is append-only, so a snapshot is a per-name
// prefix of the current contents; records appended after the snapshot was
// taken stay in the store.
func (s *Store) Discard(recs []model.CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int, len(recs))
	for _, rec := range recs {
		counts[rec.Name]++
	}
	for name, n := range counts {
		held := s.records[name]
		if n >= len(held) {
			s.total -= len(held)
			delete(s.records, name)
			continue
		}
		remaining := make([]model.CallRecord, len(held)-n)
		copy(remaining, held[n:])
		s.records[name] = remaining
		s.total -= n
	}
}

func summarize(name string, recs []model.CallRecord) model.FunctionSummary {
	sum := model.FunctionSummary{
		Name:      name,
		CallCount: len(recs),
		Wall:      model.TimingStats{Min: recs[0].WallTime, Max: recs[0].WallTime},
		CPU:       model.TimingStats{Min: recs[0].CPUTime, Max: recs[0].CPUTime},
	}
	for _, rec := range recs {
		sum.Wall.Total += rec.WallTime
		sum.CPU.Total += rec.CPUTime
		if rec.WallTime < sum.Wall.Min {
			sum.Wall.Min = rec.WallTime
		}
		if rec.WallTime > sum.Wall.Max {
			sum.Wall.Max = rec.WallTime
		}
		if rec.CPUTime < sum.CPU.Min {
			sum.CPU.Min = rec.CPUTime
		}
		if rec.CPUTime > sum.CPU.Max {
			sum.CPU.Max = rec.CPUTime
		}
	}
	sum.Wall.Average = sum.Wall.Total / float64(len(recs))
	sum.CPU.Average = sum.CPU.Total / float64(len(recs))
	return sum
}
