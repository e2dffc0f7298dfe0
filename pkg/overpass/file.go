package overpass

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"roadspeed/pkg/geo"
	"roadspeed/pkg/roadgraph"
)

// FileProvider serves road graphs cut from a saved Overpass JSON dump.
// It is safe for concurrent use.
type FileProvider struct {
	graph *roadgraph.Graph
}

// NewFileProvider loads and builds the dump at path.
func NewFileProvider(path string) (*FileProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithMessage(err, "open overpass dump")
	}
	defer f.Close()

	o, err := Decode(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "load %s", path)
	}
	return &FileProvider{graph: Build(o)}, nil
}

// Graph returns the full graph built from the dump.
func (p *FileProvider) Graph() *roadgraph.Graph {
	return p.graph
}

// Fetch returns the edges passing within radius meters of center, with their
// endpoints, plus any other node inside the radius. Like an Overpass around
// query it keeps a long edge whose endpoints both lie outside the disk.
func (p *FileProvider) Fetch(ctx context.Context, center geo.Point, radius float64) (*roadgraph.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g := roadgraph.New()
	for _, n := range p.graph.Nodes() {
		if geo.Distance(center, n.Point) <= radius {
			g.AddNode(n)
		}
	}
	for _, e := range p.graph.Edges() {
		if geo.ProjectOnPolyline(center, e.Geometry).Offset > radius {
			continue
		}
		for _, id := range []roadgraph.NodeID{e.ID.From, e.ID.To} {
			if n, ok := p.graph.Node(id); ok {
				g.AddNode(n)
			}
		}
		if err := g.AddEdge(*e); err != nil {
			return nil, errors.WithMessage(err, "cut overpass dump")
		}
	}
	return g, nil
}
