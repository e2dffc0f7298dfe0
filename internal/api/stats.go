package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"sync"

	"roadspeed/pkg/db"
	"roadspeed/pkg/spatialcache"
	"roadspeed/pkg/tracker"
)

// CacheStatter reports the size of the response cache.
type CacheStatter interface {
	CacheStats(ctx context.Context) (db.CacheStats, error)
}

// WindowSource reports the graph cache windows of the speed endpoint.
type WindowSource interface {
	Window() spatialcache.Window
	SessionWindows() map[string]spatialcache.Window
}

type StatsHandler struct {
	tracker *tracker.Tracker
	store   CacheStatter
	windows WindowSource
	mu      sync.Mutex
	maxMem  uint64
}

// NewStatsHandler creates a StatsHandler. store and windows may be nil.
func NewStatsHandler(t *tracker.Tracker, store CacheStatter, windows WindowSource) *StatsHandler {
	return &StatsHandler{
		tracker: t,
		store:   store,
		windows: windows,
	}
}

type ProviderStatsDTO struct {
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	APISuccess  int64 `json:"api_success"`
	APIFailures int64 `json:"api_errors"`
	EmptyGraphs int64 `json:"empty_graphs"`
	Evicted     int64 `json:"evicted_nodes"`
	HitRate     int64 `json:"hit_rate"`
}

type WindowDTO struct {
	Loaded  bool    `json:"loaded"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Radius  float64 `json:"radius_m"`
	Nodes   int     `json:"nodes"`
	Edges   int     `json:"edges"`
	Fetches int     `json:"fetches"`
	// BBox is [min_lon, min_lat, max_lon, max_lat] of the cached nodes.
	BBox []float64 `json:"bbox,omitempty"`
}

func newWindowDTO(w spatialcache.Window) WindowDTO {
	dto := WindowDTO{
		Loaded:  w.Loaded,
		Lat:     w.Center.Lat,
		Lon:     w.Center.Lon,
		Radius:  w.Radius,
		Nodes:   w.Nodes,
		Edges:   w.Edges,
		Fetches: w.Fetches,
	}
	if w.Nodes > 0 {
		dto.BBox = []float64{w.Bound.Min.Lon(), w.Bound.Min.Lat(), w.Bound.Max.Lon(), w.Bound.Max.Lat()}
	}
	return dto
}

type RuntimeStats struct {
	MemoryMB    uint64 `json:"memory_mb"`
	MemoryMaxMB uint64 `json:"memory_max_mb"`
	Goroutines  int    `json:"goroutines"`
}

type StatsResponse struct {
	Runtime   RuntimeStats                `json:"runtime"`
	Providers map[string]ProviderStatsDTO `json:"providers"`
	Window    *WindowDTO                  `json:"window,omitempty"`
	Sessions  map[string]WindowDTO        `json:"sessions,omitempty"`
	Cache     *db.CacheStats              `json:"cache,omitempty"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := h.tracker.Snapshot()

	h.mu.Lock()
	rt := h.gatherRuntime()
	h.mu.Unlock()

	resp := StatsResponse{
		Runtime:   rt,
		Providers: make(map[string]ProviderStatsDTO),
	}

	for provider, stats := range snapshot {
		totalCache := stats.CacheHits + stats.CacheMisses
		hitRate := int64(0)
		if totalCache > 0 {
			hitRate = (stats.CacheHits * 100) / totalCache
		}
		resp.Providers[provider] = ProviderStatsDTO{
			CacheHits:   stats.CacheHits,
			CacheMisses: stats.CacheMisses,
			APISuccess:  stats.APISuccess,
			APIFailures: stats.APIFailures,
			EmptyGraphs: stats.EmptyGraphs,
			Evicted:     stats.Evicted,
			HitRate:     hitRate,
		}
	}

	if h.windows != nil {
		win := newWindowDTO(h.windows.Window())
		resp.Window = &win
		for id, w := range h.windows.SessionWindows() {
			if resp.Sessions == nil {
				resp.Sessions = make(map[string]WindowDTO)
			}
			resp.Sessions[id] = newWindowDTO(w)
		}
	}

	if h.store != nil {
		cs, err := h.store.CacheStats(r.Context())
		if err != nil {
			slog.Warn("Failed to read cache stats", "error", err)
		} else {
			resp.Cache = &cs
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *StatsHandler) gatherRuntime() RuntimeStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	if m.Sys > h.maxMem {
		h.maxMem = m.Sys
	}
	return RuntimeStats{
		MemoryMB:    bToMb(m.Sys),
		MemoryMaxMB: bToMb(h.maxMem),
		Goroutines:  runtime.NumGoroutine(),
	}
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
