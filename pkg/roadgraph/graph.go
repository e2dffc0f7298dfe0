package roadgraph

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"

	"roadspeed/pkg/geo"
)

// NodeID is the provider-assigned identifier of a node.
type NodeID int64

// Node is an intersection or road endpoint.
type Node struct {
	ID    NodeID
	Point geo.Point
}

// EdgeID identifies an edge by its endpoints plus a key separating parallel edges.
type EdgeID struct {
	From NodeID
	To   NodeID
	Key  int
}

// Less orders edge identifiers by (From, To, Key).
func (id EdgeID) Less(o EdgeID) bool {
	if id.From != o.From {
		return id.From < o.From
	}
	if id.To != o.To {
		return id.To < o.To
	}
	return id.Key < o.Key
}

func (id EdgeID) String() string {
	return fmt.Sprintf("%d-%d/%d", id.From, id.To, id.Key)
}

// Edge is a road segment between two nodes.
type Edge struct {
	ID       EdgeID
	Geometry []geo.Point
	MaxSpeed SpeedAttr
	WayID    int64
	Name     string
	Highway  string
}

// Segments returns the number of segments in the edge geometry.
func (e *Edge) Segments() int {
	if len(e.Geometry) < 2 {
		return 0
	}
	return len(e.Geometry) - 1
}

// Graph is an undirected road graph. Edges reference nodes by identifier only.
// Every edge endpoint resolves to a node of the same graph.
type Graph struct {
	nodes map[NodeID]Node
	edges map[EdgeID]*Edge
	adj   map[NodeID]map[EdgeID]struct{}
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[NodeID]Node),
		edges: make(map[EdgeID]*Edge),
		adj:   make(map[NodeID]map[EdgeID]struct{}),
	}
}

// AddNode inserts or replaces a node.
func (g *Graph) AddNode(n Node) {
	g.nodes[n.ID] = n
}

// AddEdge inserts or replaces an edge. Both endpoints must already exist.
// An edge without geometry gets the straight segment between its endpoints.
func (g *Graph) AddEdge(e Edge) error {
	from, ok := g.nodes[e.ID.From]
	if !ok {
		return fmt.Errorf("%w: edge %s: missing node %d", ErrDanglingEdge, e.ID, e.ID.From)
	}
	to, ok := g.nodes[e.ID.To]
	if !ok {
		return fmt.Errorf("%w: edge %s: missing node %d", ErrDanglingEdge, e.ID, e.ID.To)
	}

	if len(e.Geometry) < 2 {
		e.Geometry = []geo.Point{from.Point, to.Point}
	} else {
		e.Geometry = append([]geo.Point(nil), e.Geometry...)
	}

	g.edges[e.ID] = &e
	g.link(e.ID.From, e.ID)
	g.link(e.ID.To, e.ID)
	return nil
}

func (g *Graph) link(n NodeID, id EdgeID) {
	set, ok := g.adj[n]
	if !ok {
		set = make(map[EdgeID]struct{})
		g.adj[n] = set
	}
	set[id] = struct{}{}
}

// Node returns the node with the given identifier.
func (g *Graph) Node(id NodeID) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Edge returns the edge with the given identifier.
func (g *Graph) Edge(id EdgeID) (*Edge, bool) {
	e, ok := g.edges[id]
	return e, ok
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Nodes returns all nodes ordered by identifier.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns all edges ordered by identifier.
func (g *Graph) Edges() []*Edge {
	out := make([]*Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

// IncidentEdges returns the edges touching the node at either end, ordered by identifier.
func (g *Graph) IncidentEdges(id NodeID) []*Edge {
	set := g.adj[id]
	out := make([]*Edge, 0, len(set))
	for eid := range set {
		out = append(out, g.edges[eid])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

// Merge folds other into g. On duplicate identifiers the definition from other wins.
func (g *Graph) Merge(other *Graph) {
	if other == nil {
		return
	}
	for _, n := range other.nodes {
		g.nodes[n.ID] = n
	}
	for id, e := range other.edges {
		cp := *e
		cp.Geometry = append([]geo.Point(nil), e.Geometry...)
		g.edges[id] = &cp
		g.link(id.From, id)
		g.link(id.To, id)
	}
}

// Prune removes every node for which keep returns false, along with all edges
// referencing a removed node. It returns the number of removed nodes.
func (g *Graph) Prune(keep func(Node) bool) int {
	removed := 0
	for id, n := range g.nodes {
		if keep(n) {
			continue
		}
		for eid := range g.adj[id] {
			g.removeEdge(eid)
		}
		delete(g.adj, id)
		delete(g.nodes, id)
		removed++
	}
	return removed
}

func (g *Graph) removeEdge(id EdgeID) {
	delete(g.edges, id)
	if set, ok := g.adj[id.From]; ok {
		delete(set, id)
	}
	if set, ok := g.adj[id.To]; ok {
		delete(set, id)
	}
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	c := New()
	c.Merge(g)
	return c
}

// Bound returns the bounding box of all nodes.
func (g *Graph) Bound() orb.Bound {
	mp := make(orb.MultiPoint, 0, len(g.nodes))
	for _, n := range g.nodes {
		mp = append(mp, n.Point.Orb())
	}
	return mp.Bound()
}
