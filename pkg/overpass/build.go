package overpass

import (
	"sort"

	"github.com/paulmach/osm"

	"roadspeed/pkg/geo"
	"roadspeed/pkg/roadgraph"
)

// piece is a stretch of road between two graph nodes.
type piece struct {
	from, to roadgraph.NodeID
	nodes    []roadgraph.NodeID
	// fwd and bwd hold one maxspeed value per segment, in geometry order.
	fwd, bwd []roadgraph.SpeedAttr
	// dir is 0 for two-way roads, 1 when only from->to is allowed and -1 for to->from.
	dir     int
	wayID   int64
	name    string
	highway string
}

func (p *piece) reverse() {
	p.from, p.to = p.to, p.from
	reverseSlice(p.nodes)
	p.fwd, p.bwd = p.bwd, p.fwd
	reverseSlice(p.fwd)
	reverseSlice(p.bwd)
	p.dir = -p.dir
}

func reverseSlice[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// Build turns OSM ways and nodes into a road graph.
//
// Graph nodes are way endpoints and nodes shared between ways; the nodes in
// between become edge geometry. Chains of pieces meeting at a node touched by
// exactly two of them are merged into one edge whose maxspeed is a
// per-segment list when the pieces disagree. Two-way roads get a second edge
// in the opposite direction.
func Build(o *osm.OSM) *roadgraph.Graph {
	points := make(map[roadgraph.NodeID]geo.Point, len(o.Nodes))
	for _, n := range o.Nodes {
		points[roadgraph.NodeID(n.ID)] = geo.Point{Lat: n.Lat, Lon: n.Lon}
	}

	ways := drivableWays(o, points)

	// Endpoints count twice so that they always become graph nodes
	use := make(map[roadgraph.NodeID]int)
	for _, w := range ways {
		for i, id := range w.nodes {
			if i == 0 || i == len(w.nodes)-1 {
				use[id] += 2
			} else {
				use[id]++
			}
		}
	}

	var pieces []*piece
	for _, w := range ways {
		pieces = append(pieces, split(w, use)...)
	}
	pieces = simplify(pieces)

	return assemble(pieces, points)
}

type way struct {
	id       int64
	nodes    []roadgraph.NodeID
	fwd, bwd roadgraph.SpeedAttr
	dir      int
	name     string
	highway  string
}

func drivableWays(o *osm.OSM, points map[roadgraph.NodeID]geo.Point) []way {
	var out []way
	for _, w := range o.Ways {
		highway := w.Tags.Find("highway")
		if highway == "" {
			continue
		}

		nodes := make([]roadgraph.NodeID, 0, len(w.Nodes))
		for _, wn := range w.Nodes {
			id := roadgraph.NodeID(wn.ID)
			if _, ok := points[id]; !ok {
				continue
			}
			if len(nodes) > 0 && nodes[len(nodes)-1] == id {
				continue
			}
			nodes = append(nodes, id)
		}
		if len(nodes) < 2 {
			continue
		}

		maxspeed := w.Tags.Find("maxspeed")
		fwd, bwd := w.Tags.Find("maxspeed:forward"), w.Tags.Find("maxspeed:backward")
		if fwd == "" {
			fwd = maxspeed
		}
		if bwd == "" {
			bwd = maxspeed
		}

		name := w.Tags.Find("name")
		if name == "" {
			name = w.Tags.Find("ref")
		}

		out = append(out, way{
			id:      int64(w.ID),
			nodes:   nodes,
			fwd:     roadgraph.ParseTag(fwd),
			bwd:     roadgraph.ParseTag(bwd),
			dir:     onewayDir(w.Tags),
			name:    name,
			highway: highway,
		})
	}
	return out
}

func onewayDir(tags osm.Tags) int {
	switch tags.Find("oneway") {
	case "yes", "true", "1":
		return 1
	case "-1", "reverse":
		return -1
	case "no", "false", "0":
		return 0
	}
	if tags.Find("junction") == "roundabout" || tags.Find("highway") == "motorway" {
		return 1
	}
	return 0
}

func split(w way, use map[roadgraph.NodeID]int) []*piece {
	var out []*piece
	start := 0
	for i := 1; i < len(w.nodes); i++ {
		if use[w.nodes[i]] < 2 && i < len(w.nodes)-1 {
			continue
		}
		nodes := append([]roadgraph.NodeID(nil), w.nodes[start:i+1]...)
		p := &piece{
			from:    nodes[0],
			to:      nodes[len(nodes)-1],
			nodes:   nodes,
			fwd:     repeat(w.fwd, len(nodes)-1),
			bwd:     repeat(w.bwd, len(nodes)-1),
			dir:     w.dir,
			wayID:   w.id,
			name:    w.name,
			highway: w.highway,
		}
		if p.dir < 0 {
			p.reverse()
		}
		out = append(out, p)
		start = i
	}
	return out
}

func repeat(a roadgraph.SpeedAttr, n int) []roadgraph.SpeedAttr {
	out := make([]roadgraph.SpeedAttr, n)
	for i := range out {
		out[i] = a
	}
	return out
}

// simplify merges pieces across nodes that only connect two of them.
func simplify(pieces []*piece) []*piece {
	live := make(map[*piece]bool, len(pieces))
	incident := make(map[roadgraph.NodeID][]*piece)
	for _, p := range pieces {
		live[p] = true
		incident[p.from] = append(incident[p.from], p)
		incident[p.to] = append(incident[p.to], p)
	}

	ids := make([]roadgraph.NodeID, 0, len(incident))
	for id := range incident {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, n := range ids {
		inc := incident[n]
		if len(inc) != 2 || inc[0] == inc[1] {
			continue
		}
		a, b := orient(inc[0], n, true), orient(inc[1], n, false)
		if a.dir != b.dir {
			continue
		}

		m := &piece{
			from:    a.from,
			to:      b.to,
			nodes:   append(append([]roadgraph.NodeID(nil), a.nodes...), b.nodes[1:]...),
			fwd:     append(append([]roadgraph.SpeedAttr(nil), a.fwd...), b.fwd...),
			bwd:     append(append([]roadgraph.SpeedAttr(nil), a.bwd...), b.bwd...),
			dir:     a.dir,
			wayID:   a.wayID,
			name:    a.name,
			highway: a.highway,
		}
		delete(live, inc[0])
		delete(live, inc[1])
		live[m] = true
		delete(incident, n)
		replace(incident, m.from, inc[0], m)
		replace(incident, m.to, inc[1], m)
		pieces = append(pieces, m)
	}

	out := make([]*piece, 0, len(live))
	for _, p := range pieces {
		if live[p] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].from != out[j].from {
			return out[i].from < out[j].from
		}
		if out[i].to != out[j].to {
			return out[i].to < out[j].to
		}
		return out[i].wayID < out[j].wayID
	})
	return out
}

// orient returns p, or a reversed copy of it, so that it ends at n (end) or
// starts at n (!end).
func orient(p *piece, n roadgraph.NodeID, end bool) *piece {
	if (end && p.to == n) || (!end && p.from == n) {
		return p
	}
	c := *p
	c.nodes = append([]roadgraph.NodeID(nil), p.nodes...)
	c.fwd = append([]roadgraph.SpeedAttr(nil), p.fwd...)
	c.bwd = append([]roadgraph.SpeedAttr(nil), p.bwd...)
	c.reverse()
	return &c
}

func replace(incident map[roadgraph.NodeID][]*piece, n roadgraph.NodeID, old, repl *piece) {
	inc := incident[n]
	for i, p := range inc {
		if p == old {
			inc[i] = repl
			return
		}
	}
}

func assemble(pieces []*piece, points map[roadgraph.NodeID]geo.Point) *roadgraph.Graph {
	g := roadgraph.New()
	keys := make(map[[2]roadgraph.NodeID]int)

	add := func(p *piece, from, to roadgraph.NodeID, nodes []roadgraph.NodeID, speeds []roadgraph.SpeedAttr, minKey int) {
		pair := [2]roadgraph.NodeID{from, to}
		key := max(keys[pair], minKey)
		keys[pair] = key + 1

		geom := make([]geo.Point, len(nodes))
		for i, id := range nodes {
			geom[i] = points[id]
		}
		// Endpoints exist, so AddEdge cannot fail
		_ = g.AddEdge(roadgraph.Edge{
			ID:       roadgraph.EdgeID{From: from, To: to, Key: key},
			Geometry: geom,
			MaxSpeed: collapse(speeds),
			WayID:    p.wayID,
			Name:     p.name,
			Highway:  p.highway,
		})
	}

	for _, p := range pieces {
		g.AddNode(roadgraph.Node{ID: p.from, Point: points[p.from]})
		g.AddNode(roadgraph.Node{ID: p.to, Point: points[p.to]})
	}
	for _, p := range pieces {
		if p.dir >= 0 {
			add(p, p.from, p.to, p.nodes, p.fwd, 0)
		}
		if p.dir <= 0 {
			nodes := append([]roadgraph.NodeID(nil), p.nodes...)
			reverseSlice(nodes)
			speeds := append([]roadgraph.SpeedAttr(nil), p.bwd...)
			reverseSlice(speeds)
			minKey := 0
			if p.dir == 0 {
				minKey = 1
			}
			add(p, p.to, p.from, nodes, speeds, minKey)
		}
	}
	return g
}

// collapse returns the single value of a uniform per-segment slice, or a list.
func collapse(speeds []roadgraph.SpeedAttr) roadgraph.SpeedAttr {
	if len(speeds) == 0 {
		return roadgraph.Absent()
	}
	for _, s := range speeds[1:] {
		if !s.Equal(speeds[0]) {
			return roadgraph.List(speeds...)
		}
	}
	return speeds[0]
}
