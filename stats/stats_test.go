package stats

import (
	"sync"
	"testing"
)

func TestConcurrentIncrements(t *testing.T) {
	stats := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				stats.Inc("ledger", "progress")
			}
		}()
	}
	wg.Wait()

	if got := stats.Count("ledger", "progress"); got != 8000 {
		t.Fatalf("expected 8000, got %d", got)
	}

	stats.Inc("active", "confirmed")
	snapshot := stats.Snapshot()
	if len(snapshot) != 2 || snapshot[0].Type != "active" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestNilStatsIsNoop(t *testing.T) {
	var stats *Stats
	stats.Inc("ledger", "fork")

	if stats.Count("ledger", "fork") != 0 {
		t.Fatal("nil stats should count nothing")
	}
}
