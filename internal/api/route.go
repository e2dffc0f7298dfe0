package api

import (
	"errors"
	"log/slog"
	"net/http"

	"roadspeed/pkg/geo"
	"roadspeed/pkg/resolver"
	"roadspeed/pkg/route"
)

// maxRouteBody bounds the size of a posted route.
const maxRouteBody = 8 << 20

// ResolverFactory builds a resolver with its own graph cache. The name labels
// the cache in logs and stats.
type ResolverFactory func(name string) *resolver.Resolver

// RouteHandler resolves a posted CSV route.
type RouteHandler struct {
	newResolver ResolverFactory
}

// NewRouteHandler creates a RouteHandler. Every request gets a fresh resolver.
func NewRouteHandler(f ResolverFactory) *RouteHandler {
	return &RouteHandler{newResolver: f}
}

func (h *RouteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	points, err := route.Read(http.MaxBytesReader(w, r.Body, maxRouteBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := h.newResolver("route")
	results, err := route.Run(r.Context(), res, points)
	if err != nil {
		if errors.Is(err, geo.ErrInsufficientInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Warn("Route request aborted", "waypoints", len(points), "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	win := res.Window()
	slog.Debug("Route request resolved", "waypoints", len(points), "fetches", win.Fetches, "nodes", win.Nodes)

	if r.URL.Query().Get("format") == "geojson" {
		w.Header().Set("Content-Type", "application/geo+json")
		if err := route.WriteGeoJSON(w, results); err != nil {
			slog.Error("Failed to write route response", "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, results)
}
