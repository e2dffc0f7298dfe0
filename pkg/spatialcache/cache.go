package spatialcache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"

	"roadspeed/pkg/geo"
	"roadspeed/pkg/roadgraph"
	"roadspeed/pkg/tracker"
)

// Provider fetches the road graph of a disk around a center point.
type Provider interface {
	Fetch(ctx context.Context, center geo.Point, radius float64) (*roadgraph.Graph, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, center geo.Point, radius float64) (*roadgraph.Graph, error)

// Fetch calls f.
func (f ProviderFunc) Fetch(ctx context.Context, center geo.Point, radius float64) (*roadgraph.Graph, error) {
	return f(ctx, center, radius)
}

// Options configures a Cache.
type Options struct {
	// EvictBeyond drops nodes farther than EvictBeyond * radius from the new
	// center after every merge. Zero keeps every node for the cache lifetime.
	EvictBeyond float64
	// Name labels the cache in logs and tracker stats.
	Name    string
	Tracker *tracker.Tracker
	Logger  *slog.Logger
}

// Cache holds the road graph fetched around a moving reference point.
// It is not safe for concurrent use; each route owns its own Cache.
type Cache struct {
	provider Provider
	opts     Options
	logger   *slog.Logger

	graph   *roadgraph.Graph
	center  geo.Point
	radius  float64
	fetches int
}

// New creates an empty cache backed by p.
func New(p Provider, opts Options) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = "graph"
	}
	return &Cache{
		provider: p,
		opts:     opts,
		logger:   logger.With("cache", opts.Name),
	}
}

// Ensure returns a graph covering point. The cached graph is reused while point
// stays within radius of the last fetch center; otherwise a graph is fetched
// around point and merged into the cached one. A failed fetch leaves the cache
// untouched and returns ErrGraphUnavailable.
func (c *Cache) Ensure(ctx context.Context, point geo.Point, radius float64) (*roadgraph.Graph, error) {
	if c.graph != nil {
		if d := geo.Distance(c.center, point); d <= radius {
			c.track(func(t *tracker.Tracker) { t.TrackCacheHit(c.opts.Name) })
			return c.graph, nil
		}
	}
	c.track(func(t *tracker.Tracker) { t.TrackCacheMiss(c.opts.Name) })

	fresh, err := c.provider.Fetch(ctx, point, radius)
	c.fetches++
	if err != nil {
		c.track(func(t *tracker.Tracker) { t.TrackAPIFailure(c.opts.Name) })
		c.logger.Warn("Road graph fetch failed", "point", point, "radius", radius, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrGraphUnavailable, err)
	}
	if fresh == nil {
		fresh = roadgraph.New()
	}
	c.track(func(t *tracker.Tracker) { t.TrackAPISuccess(c.opts.Name) })
	if fresh.EdgeCount() == 0 {
		c.track(func(t *tracker.Tracker) { t.TrackEmptyGraph(c.opts.Name) })
	}

	if c.graph == nil {
		c.graph = roadgraph.New()
	}
	c.graph.Merge(fresh)
	c.center = point
	c.radius = radius

	if c.opts.EvictBeyond > 0 {
		limit := c.opts.EvictBeyond * radius
		n := c.graph.Prune(func(node roadgraph.Node) bool {
			return geo.Distance(point, node.Point) <= limit
		})
		if n > 0 {
			c.track(func(t *tracker.Tracker) { t.TrackEvicted(c.opts.Name, n) })
			c.logger.Debug("Evicted distant nodes", "count", n, "limit_m", limit)
		}
	}

	c.logger.Debug("Road graph refreshed",
		"center", point,
		"radius", radius,
		"nodes", c.graph.NodeCount(),
		"edges", c.graph.EdgeCount(),
	)
	return c.graph, nil
}

func (c *Cache) track(fn func(*tracker.Tracker)) {
	if c.opts.Tracker != nil {
		fn(c.opts.Tracker)
	}
}

// Window describes the current cache state.
type Window struct {
	Loaded  bool
	Center  geo.Point
	Radius  float64
	Nodes   int
	Edges   int
	Fetches int
	// Bound encloses every cached node, including those merged from earlier windows.
	Bound orb.Bound
}

// Window returns a snapshot of the cache state.
func (c *Cache) Window() Window {
	w := Window{
		Loaded:  c.graph != nil,
		Center:  c.center,
		Radius:  c.radius,
		Fetches: c.fetches,
	}
	if c.graph != nil {
		w.Nodes = c.graph.NodeCount()
		w.Edges = c.graph.EdgeCount()
		w.Bound = c.graph.Bound()
	}
	return w
}

// Graph returns the cached graph, or nil before the first successful fetch.
func (c *Cache) Graph() *roadgraph.Graph {
	return c.graph
}
