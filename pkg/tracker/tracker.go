package tracker

import (
	"sync"
	"sync/atomic"
)

// Tracker keeps usage counters per source. A source is either a remote map
// provider (keyed by host) or a graph cache window (keyed by route).
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*SourceStats
}

// SourceStats holds the counters of one source.
// Fields are accessed atomically.
type SourceStats struct {
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	APISuccess  int64 `json:"api_success"`
	APIFailures int64 `json:"api_failures"`
	EmptyGraphs int64 `json:"empty_graphs"`
	Evicted     int64 `json:"evicted_nodes"`
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*SourceStats),
	}
}

// getStats returns the stats object for a source, creating it if needed.
func (t *Tracker) getStats(source string) *SourceStats {
	t.mu.RLock()
	s, ok := t.stats[source]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.stats[source]; ok {
		return s
	}
	s = &SourceStats{}
	t.stats[source] = s
	return s
}

// TrackCacheHit increments the cache hit counter.
func (t *Tracker) TrackCacheHit(source string) {
	atomic.AddInt64(&t.getStats(source).CacheHits, 1)
}

func (t *Tracker) TrackCacheMiss(source string) {
	atomic.AddInt64(&t.getStats(source).CacheMisses, 1)
}

func (t *Tracker) TrackAPISuccess(source string) {
	atomic.AddInt64(&t.getStats(source).APISuccess, 1)
}

func (t *Tracker) TrackAPIFailure(source string) {
	atomic.AddInt64(&t.getStats(source).APIFailures, 1)
}

// TrackEmptyGraph counts a fetch that returned no drivable edges.
func (t *Tracker) TrackEmptyGraph(source string) {
	atomic.AddInt64(&t.getStats(source).EmptyGraphs, 1)
}

// TrackEvicted adds n to the evicted node counter.
func (t *Tracker) TrackEvicted(source string, n int) {
	atomic.AddInt64(&t.getStats(source).Evicted, int64(n))
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]SourceStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]SourceStats)
	for k, v := range t.stats {
		result[k] = SourceStats{
			CacheHits:   atomic.LoadInt64(&v.CacheHits),
			CacheMisses: atomic.LoadInt64(&v.CacheMisses),
			APISuccess:  atomic.LoadInt64(&v.APISuccess),
			APIFailures: atomic.LoadInt64(&v.APIFailures),
			EmptyGraphs: atomic.LoadInt64(&v.EmptyGraphs),
			Evicted:     atomic.LoadInt64(&v.Evicted),
		}
	}
	return result
}
