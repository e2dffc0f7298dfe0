// Package matcher finds the road segment an observer is traveling on.
//
// The nearest graph node narrows the search to the edges touching it; the
// observer's heading then picks the edge whose direction matches best. Heading
// is what separates the roads meeting at an intersection, or the two
// carriageways of a divided road.
package matcher

import (
	"math"

	"roadspeed/pkg/geo"
	"roadspeed/pkg/logging"
	"roadspeed/pkg/roadgraph"
)

// Position locates the projected query point on the matched edge.
type Position struct {
	// Segment indexes the edge geometry segment holding the point.
	Segment  int       `json:"segment"`
	Fraction float64   `json:"fraction"`
	Point    geo.Point `json:"point"`
	// Offset is the distance in meters from the query point to Point.
	Offset float64 `json:"offset_m"`
}

// Match is the edge selected for a query.
type Match struct {
	Edge     *roadgraph.Edge
	Node     roadgraph.NodeID
	Position Position
	// EdgeBearing is the bearing from the first to the last geometry vertex.
	EdgeBearing float64
	// AngleDiff is the difference between EdgeBearing and the query bearing, in [0, 180].
	AngleDiff float64
}

// Resolve returns the edge incident to the node nearest to p whose bearing is
// closest to bearing, together with the projection of p onto it.
//
// Ties between nodes go to the lowest node identifier and ties between edges
// go to the lowest edge identifier, so results do not depend on map order.
func Resolve(g *roadgraph.Graph, p geo.Point, bearing float64) (Match, error) {
	node, ok := NearestNode(g, p)
	if !ok {
		return Match{}, ErrEmptyGraph
	}

	candidates := g.IncidentEdges(node.ID)
	if len(candidates) == 0 {
		return Match{Node: node.ID}, ErrNoIncidentEdges
	}

	best := Match{Node: node.ID, AngleDiff: math.Inf(1)}
	for _, e := range candidates {
		eb := geo.Bearing(e.Geometry[0], e.Geometry[len(e.Geometry)-1])
		diff := geo.AngleDiff(eb, bearing)
		logging.TraceDefault("Edge candidate", "node", node.ID, "edge", e.ID, "edge_bearing", eb, "diff", diff)

		// Candidates arrive in identifier order; strict comparison keeps the first on ties.
		if diff < best.AngleDiff {
			best.Edge = e
			best.EdgeBearing = eb
			best.AngleDiff = diff
		}
	}

	if best.Edge == nil {
		// NaN bearing: nothing compares smaller
		e := candidates[0]
		best.Edge = e
		best.EdgeBearing = geo.Bearing(e.Geometry[0], e.Geometry[len(e.Geometry)-1])
	}

	proj := geo.ProjectOnPolyline(p, best.Edge.Geometry)
	best.Position = Position{
		Segment:  proj.Segment,
		Fraction: proj.Fraction,
		Point:    proj.Point,
		Offset:   proj.Offset,
	}
	return best, nil
}

// NearestNode returns the node closest to p by great-circle distance.
func NearestNode(g *roadgraph.Graph, p geo.Point) (roadgraph.Node, bool) {
	var best roadgraph.Node
	found := false
	bestDist := math.MaxFloat64

	// Nodes() is ordered by identifier, so the first minimum is the lowest id.
	for _, n := range g.Nodes() {
		d := geo.Distance(p, n.Point)
		if d < bestDist {
			bestDist = d
			best = n
			found = true
		}
	}
	return best, found
}
