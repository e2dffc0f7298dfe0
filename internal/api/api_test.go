package api

import (
	"context"
	"errors"
	"sync"

	"roadspeed/pkg/geo"
	"roadspeed/pkg/resolver"
	"roadspeed/pkg/roadgraph"
	"roadspeed/pkg/spatialcache"
	"roadspeed/pkg/tracker"
)

// hubProvider answers every fetch with a node at the requested center and two
// edges leaving it at 45 and 225 degrees.
type hubProvider struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (p *hubProvider) Fetch(_ context.Context, center geo.Point, _ float64) (*roadgraph.Graph, error) {
	p.mu.Lock()
	p.calls++
	base := roadgraph.NodeID(p.calls * 10)
	fail := p.fail
	p.mu.Unlock()
	if fail != nil {
		return nil, fail
	}

	g := roadgraph.New()
	g.AddNode(roadgraph.Node{ID: base, Point: center})
	g.AddNode(roadgraph.Node{ID: base + 1, Point: geo.DestinationPoint(center, 200, 45)})
	g.AddNode(roadgraph.Node{ID: base + 2, Point: geo.DestinationPoint(center, 200, 225)})
	if err := g.AddEdge(roadgraph.Edge{
		ID:       roadgraph.EdgeID{From: base, To: base + 1},
		MaxSpeed: roadgraph.Scalar(30),
		WayID:    int64(base + 1),
		Name:     "Chemin de Saint-Bernard",
	}); err != nil {
		return nil, err
	}
	if err := g.AddEdge(roadgraph.Edge{
		ID:       roadgraph.EdgeID{From: base, To: base + 2},
		MaxSpeed: roadgraph.Text("40 mph"),
		WayID:    int64(base + 2),
	}); err != nil {
		return nil, err
	}
	return g, nil
}

func (p *hubProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var errOffline = errors.New("overpass offline")

func factory(p spatialcache.Provider, t *tracker.Tracker) ResolverFactory {
	return func(name string) *resolver.Resolver {
		c := spatialcache.New(p, spatialcache.Options{Name: name, Tracker: t})
		return resolver.New(c, resolver.Options{Radius: 500})
	}
}

const routeCSV = `latitude,longitude
43.60,7.08
43.61,7.09
43.62,7.10
`
