// Package resolver answers "what is the speed limit here, heading this way".
package resolver

import (
	"context"
	"errors"
	"log/slog"

	"roadspeed/pkg/geo"
	"roadspeed/pkg/matcher"
	"roadspeed/pkg/roadgraph"
	"roadspeed/pkg/spatialcache"
	"roadspeed/pkg/speed"
)

// DefaultRadius is the fetch radius used when Options.Radius is zero.
const DefaultRadius = 500.0

// Options configures a Resolver.
type Options struct {
	// Radius in meters of every graph fetch, and of the cache hit test.
	Radius     float64
	Normalizer speed.Normalizer
	Logger     *slog.Logger
}

// Resolution is the outcome of one query.
type Resolution struct {
	Point   geo.Point   `json:"point"`
	Bearing float64     `json:"bearing"`
	Speed   speed.Speed `json:"speed_kmh"`
	// Matched is false when no edge could be selected.
	Matched bool             `json:"matched"`
	EdgeID  roadgraph.EdgeID `json:"-"`
	Edge    string           `json:"edge,omitempty"`
	WayID   int64            `json:"way_id,omitempty"`
	Name    string           `json:"name,omitempty"`
	Highway string           `json:"highway,omitempty"`
	// Position is the projection of Point onto the matched edge.
	Position matcher.Position `json:"position"`
}

// Resolver combines the graph cache, edge matching and maxspeed normalization.
// Like the cache it wraps, it serves one stream of queries at a time.
type Resolver struct {
	cache  *spatialcache.Cache
	opts   Options
	logger *slog.Logger
}

// New creates a resolver on top of cache.
func New(cache *spatialcache.Cache, opts Options) *Resolver {
	if opts.Radius <= 0 {
		opts.Radius = DefaultRadius
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cache: cache, opts: opts, logger: logger}
}

// Resolve returns the speed limit at point for a vehicle heading along bearing.
//
// A graph that cannot be fetched is the only failure; the caller decides
// whether to retry. Every other problem (no road nearby, a node without
// edges, an unreadable maxspeed tag) resolves to speed.Unknown.
func (r *Resolver) Resolve(ctx context.Context, point geo.Point, bearing float64) (Resolution, error) {
	res := Resolution{Point: point, Bearing: bearing, Speed: speed.Unknown}

	g, err := r.cache.Ensure(ctx, point, r.opts.Radius)
	if err != nil {
		return res, err
	}

	m, err := matcher.Resolve(g, point, bearing)
	if err != nil {
		if errors.Is(err, matcher.ErrEmptyGraph) || errors.Is(err, matcher.ErrNoIncidentEdges) {
			r.logger.Debug("No edge for point", "point", point, "node", m.Node, "reason", err)
			return res, nil
		}
		return res, err
	}

	res.Matched = true
	res.EdgeID = m.Edge.ID
	res.Edge = m.Edge.ID.String()
	res.WayID = m.Edge.WayID
	res.Name = m.Edge.Name
	res.Highway = m.Edge.Highway
	res.Position = m.Position

	s, err := r.opts.Normalizer.Normalize(m.Edge.MaxSpeed, m.Position.Segment, m.Edge.Segments())
	if err != nil {
		r.logger.Debug("Unreadable maxspeed", "edge", m.Edge.ID, "way", m.Edge.WayID, "maxspeed", m.Edge.MaxSpeed, "error", err)
	}
	res.Speed = s
	return res, nil
}

// Window returns the state of the underlying graph cache.
func (r *Resolver) Window() spatialcache.Window {
	return r.cache.Window()
}

// Radius returns the fetch radius in meters.
func (r *Resolver) Radius() float64 {
	return r.opts.Radius
}
