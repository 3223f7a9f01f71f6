// Package stats keeps in-process event counters, keyed by a type and a
// detail, e.g. ("ledger", "fork") or ("vote", "replay").
package stats

import (
	"sort"
	"sync"
	"sync/atomic"
)

type key struct {
	Type   string
	Detail string
}

type Stats struct {
	counters      map[key]*atomic.Uint64
	countersMutex sync.RWMutex
}

func New() *Stats {
	return &Stats{counters: make(map[key]*atomic.Uint64)}
}

func (stats *Stats) counter(statType string, detail string) *atomic.Uint64 {
	k := key{statType, detail}

	stats.countersMutex.RLock()
	counter, found := stats.counters[k]
	stats.countersMutex.RUnlock()

	if found {
		return counter
	}

	stats.countersMutex.Lock()
	defer stats.countersMutex.Unlock()

	counter, found = stats.counters[k]
	if !found {
		counter = new(atomic.Uint64)
		stats.counters[k] = counter
	}

	return counter
}

func (stats *Stats) Inc(statType string, detail string) {
	stats.Add(statType, detail, 1)
}

func (stats *Stats) Add(statType string, detail string, value uint64) {
	if stats == nil {
		return
	}

	stats.counter(statType, detail).Add(value)
}

func (stats *Stats) Count(statType string, detail string) uint64 {
	if stats == nil {
		return 0
	}

	return stats.counter(statType, detail).Load()
}

type Entry struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
	Value  uint64 `json:"value"`
}

// Snapshot returns every counter sorted by type then detail.
func (stats *Stats) Snapshot() []Entry {
	stats.countersMutex.RLock()
	entries := make([]Entry, 0, len(stats.counters))
	for k, counter := range stats.counters {
		entries = append(entries, Entry{Type: k.Type, Detail: k.Detail, Value: counter.Load()})
	}
	stats.countersMutex.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type < entries[j].Type
		}
		return entries[i].Detail < entries[j].Detail
	})

	return entries
}
