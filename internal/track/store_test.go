package track

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"goperf/internal/model"
)

func record(name string, wall, cpu float64, ts time.Time) model.CallRecord {
	return model.CallRecord{Name: name, WallTime: wall, CPUTime: cpu, Timestamp: ts}
}

func TestStore_SummaryMath(t *testing.T) {
	store := NewStore()
	base := time.Now()

	walls := []float64{0.010, 0.030, 0.020}
	cpus := []float64{0.004, 0.012, 0.008}
	for i := range walls {
		store.Record(record("app.Handler", walls[i], cpus[i], base.Add(time.Duration(i)*time.Second)))
	}

	sum, ok := store.Summary("app.Handler")
	if !ok {
		t.Fatalf("Expected a summary for app.Handler")
	}
	if sum.CallCount != 3 {
		t.Errorf("Expected CallCount 3, got %d", sum.CallCount)
	}
	if diff := sum.Wall.Total - 0.060; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected total wall time 0.060, got %f", sum.Wall.Total)
	}
	if sum.Wall.Min != 0.010 || sum.Wall.Max != 0.030 {
		t.Errorf("Expected wall min/max 0.010/0.030, got %f/%f", sum.Wall.Min, sum.Wall.Max)
	}
	if diff := sum.Wall.Average - 0.020; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected wall average 0.020, got %f", sum.Wall.Average)
	}
	if sum.CPU.Min != 0.004 || sum.CPU.Max != 0.012 {
		t.Errorf("Expected cpu min/max 0.004/0.012, got %f/%f", sum.CPU.Min, sum.CPU.Max)
	}
}

func TestStore_SummaryMissing(t *testing.T) {
	store := NewStore()
	if _, ok := store.Summary("nope"); ok {
		t.Errorf("Expected no summary for an untracked function")
	}
}

func TestStore_SummariesReflectCurrentState(t *testing.T) {
	store := NewStore()
	store.Record(record("a.F", 0.01, 0.001, time.Now()))

	if got := len(store.Summaries()); got != 1 {
		t.Fatalf("Expected 1 summary, got %d", got)
	}

	store.Record(record("b.G", 0.02, 0.002, time.Now()))
	if got := len(store.Summaries()); got != 2 {
		t.Fatalf("Expected 2 summaries after second record, got %d", got)
	}

	store.Clear()
	if got := len(store.Summaries()); got != 0 {
		t.Errorf("Expected no summaries after Clear, got %d", got)
	}
	if store.Len() != 0 {
		t.Errorf("Expected empty store after Clear, got %d records", store.Len())
	}
}

func TestStore_ConcurrentAppends(t *testing.T) {
	store := NewStore()
	const goroutines = 8
	const perGoroutine = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			name := fmt.Sprintf("worker.Func%d", g%2)
			for i := 0; i < perGoroutine; i++ {
				store.Record(record(name, 0.001, 0.0005, time.Now()))
			}
		}(g)
	}
	wg.Wait()

	if store.Len() != goroutines*perGoroutine {
		t.Errorf("Expected %d records, got %d", goroutines*perGoroutine, store.Len())
	}
	total := 0
	for _, sum := range store.Summaries() {
		total += sum.CallCount
	}
	if total != goroutines*perGoroutine {
		t.Errorf("Expected summary call counts to add up to %d, got %d", goroutines*perGoroutine, total)
	}
}

func TestStore_TryRecordCap(t *testing.T) {
	store := NewStore()
	for i := 0; i < 5; i++ {
		if !store.TryRecord(record("f", 0.01, 0.001, time.Now()), 3) && i < 3 {
			t.Errorf("Record %d rejected below the cap", i)
		}
	}
	if store.Len() != 3 {
		t.Errorf("Expected the cap to hold the store at 3 records, got %d", store.Len())
	}
}

func TestStore_DiscardRemovesOnlySnapshot(t *testing.T) {
	store := NewStore()
	base := time.Now()
	store.Record(record("a", 0.01, 0, base))
	store.Record(record("a", 0.02, 0, base.Add(time.Second)))
	store.Record(record("b", 0.03, 0, base.Add(2*time.Second)))

	snapshot := store.AllRecords()

	// Appends racing a flush land after the snapshot was taken.
	late := record("a", 0.04, 0, base.Add(3*time.Second))
	store.Record(late)
	store.Record(record("c", 0.05, 0, base.Add(4*time.Second)))

	store.Discard(snapshot)

	if store.Len() != 2 {
		t.Fatalf("Expected the 2 post-snapshot records to survive, got %d", store.Len())
	}
	aRecs := store.Records("a")
	if len(aRecs) != 1 || !aRecs[0].Timestamp.Equal(late.Timestamp) {
		t.Errorf("Expected only the late a record to survive, got %+v", aRecs)
	}
	if len(store.Records("b")) != 0 {
		t.Errorf("Expected every snapshotted b record removed")
	}
	if len(store.Records("c")) != 1 {
		t.Errorf("Expected the post-snapshot c record to survive")
	}

	sum, ok := store.Summary("a")
	if !ok || sum.CallCount != 1 {
		t.Errorf("Expected the summary to reflect the surviving record, got %+v", sum)
	}
}

func TestStore_DiscardFullSnapshotEmptiesStore(t *testing.T) {
	store := NewStore()
	store.Record(record("a", 0.01, 0, time.Now()))
	store.Record(record("b", 0.02, 0, time.Now()))

	store.Discard(store.AllRecords())

	if store.Len() != 0 {
		t.Errorf("Expected an empty store after discarding the full snapshot, got %d", store.Len())
	}
	if got := len(store.Summaries()); got != 0 {
		t.Errorf("Expected no summaries left, got %d", got)
	}
}

func TestStore_AllRecordsOrderedByTimestamp(t *testing.T) {
	store := NewStore()
	base := time.Now()
	store.Record(record("b", 0.01, 0, base.Add(2*time.Second)))
	store.Record(record("a", 0.01, 0, base))
	store.Record(record("c", 0.01, 0, base.Add(time.Second)))

	recs := store.AllRecords()
	if len(recs) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Timestamp.Before(recs[i-1].Timestamp) {
			t.Errorf("Records out of timestamp order at index %d", i)
		}
	}
}
