package spatialcache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadspeed/pkg/geo"
	"roadspeed/pkg/roadgraph"
	"roadspeed/pkg/tracker"
)

// countingProvider builds a two-node graph around every requested center and
// counts its calls. Node identifiers derive from the call number so successive
// fetches produce disjoint graphs.
type countingProvider struct {
	calls int
	fail  bool
}

func (p *countingProvider) Fetch(ctx context.Context, center geo.Point, radius float64) (*roadgraph.Graph, error) {
	p.calls++
	if p.fail {
		return nil, errors.New("connection refused")
	}
	base := roadgraph.NodeID(p.calls * 10)
	g := roadgraph.New()
	g.AddNode(roadgraph.Node{ID: base, Point: center})
	g.AddNode(roadgraph.Node{ID: base + 1, Point: geo.DestinationPoint(center, 50, 90)})
	if err := g.AddEdge(roadgraph.Edge{ID: roadgraph.EdgeID{From: base, To: base + 1}}); err != nil {
		return nil, err
	}
	return g, nil
}

func TestEnsure_CacheHit(t *testing.T) {
	p := &countingProvider{}
	tr := tracker.New()
	c := New(p, Options{Tracker: tr, Name: "route"})
	ctx := context.Background()
	pt := geo.Point{Lat: 43.6, Lon: 7.08}

	g1, err := c.Ensure(ctx, pt, 500)
	require.NoError(t, err)
	g2, err := c.Ensure(ctx, pt, 500)
	require.NoError(t, err)

	assert.Equal(t, 1, p.calls, "second call must be served from cache")
	assert.Same(t, g1, g2)

	// Still inside the radius
	_, err = c.Ensure(ctx, geo.DestinationPoint(pt, 400, 45), 500)
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls)

	s := tr.Snapshot()["route"]
	assert.Equal(t, int64(2), s.CacheHits)
	assert.Equal(t, int64(1), s.CacheMisses)
}

func TestEnsure_MissMergesSuperset(t *testing.T) {
	p := &countingProvider{}
	c := New(p, Options{})
	ctx := context.Background()
	start := geo.Point{Lat: 43.6, Lon: 7.08}

	g, err := c.Ensure(ctx, start, 500)
	require.NoError(t, err)
	before := g.Clone()

	far := geo.DestinationPoint(start, 1500, 0)
	merged, err := c.Ensure(ctx, far, 500)
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls, "exactly one more fetch")

	for _, n := range before.Nodes() {
		_, ok := merged.Node(n.ID)
		assert.True(t, ok, "node %d dropped by merge", n.ID)
	}
	for _, e := range before.Edges() {
		_, ok := merged.Edge(e.ID)
		assert.True(t, ok, "edge %s dropped by merge", e.ID)
	}
	assert.Equal(t, 4, merged.NodeCount())
	assert.Equal(t, 2, merged.EdgeCount())

	w := c.Window()
	assert.Equal(t, far, w.Center)
	assert.Equal(t, 2, w.Fetches)
	assert.InDelta(t, 500, w.Radius, 1e-9)
	assert.True(t, w.Bound.Contains(start.Orb()), "bound must keep the first window")
	assert.True(t, w.Bound.Contains(far.Orb()))
}

func TestEnsure_FailurePreservesCache(t *testing.T) {
	p := &countingProvider{}
	c := New(p, Options{})
	ctx := context.Background()
	start := geo.Point{Lat: 43.6, Lon: 7.08}

	_, err := c.Ensure(ctx, start, 500)
	require.NoError(t, err)
	before := c.Window()

	p.fail = true
	far := geo.DestinationPoint(start, 2000, 90)
	g, err := c.Ensure(ctx, far, 500)
	assert.Nil(t, g)
	assert.ErrorIs(t, err, ErrGraphUnavailable)

	after := c.Window()
	assert.Equal(t, before.Center, after.Center, "center must not move on failure")
	assert.Equal(t, before.Nodes, after.Nodes)
	assert.Equal(t, before.Edges, after.Edges)

	// Next query retries the fetch
	p.fail = false
	_, err = c.Ensure(ctx, far, 500)
	require.NoError(t, err)
	assert.Equal(t, 3, p.calls)
}

func TestEnsure_EmptyCacheFailure(t *testing.T) {
	c := New(&countingProvider{fail: true}, Options{})
	_, err := c.Ensure(context.Background(), geo.Point{Lat: 1, Lon: 1}, 100)
	assert.ErrorIs(t, err, ErrGraphUnavailable)
	assert.False(t, c.Window().Loaded)
	assert.Nil(t, c.Graph())
}

func TestEnsure_Eviction(t *testing.T) {
	p := &countingProvider{}
	tr := tracker.New()
	c := New(p, Options{EvictBeyond: 2, Tracker: tr})
	ctx := context.Background()
	start := geo.Point{Lat: 43.6, Lon: 7.08}

	_, err := c.Ensure(ctx, start, 500)
	require.NoError(t, err)

	// 5km away: the first window is farther than 2 * radius and gets dropped
	g, err := c.Ensure(ctx, geo.DestinationPoint(start, 5000, 0), 500)
	require.NoError(t, err)
	assert.Equal(t, 2, g.NodeCount())
	assert.Equal(t, 1, g.EdgeCount())
	for _, e := range g.Edges() {
		_, fromOK := g.Node(e.ID.From)
		_, toOK := g.Node(e.ID.To)
		assert.True(t, fromOK && toOK, "edge %s left dangling", e.ID)
	}

	for _, n := range g.Nodes() {
		d := geo.Distance(c.Window().Center, n.Point)
		assert.LessOrEqual(t, d, 1000.0)
	}
	assert.Equal(t, int64(2), tr.Snapshot()["graph"].Evicted)
}

func TestProviderFunc(t *testing.T) {
	called := false
	var p Provider = ProviderFunc(func(ctx context.Context, center geo.Point, radius float64) (*roadgraph.Graph, error) {
		called = true
		return nil, nil
	})
	c := New(p, Options{})
	g, err := c.Ensure(context.Background(), geo.Point{}, 10)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 0, g.NodeCount())
}
