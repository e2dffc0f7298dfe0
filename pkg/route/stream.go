package route

import (
	"context"

	"roadspeed/pkg/geo"
)

// Streamer resolves waypoints as they arrive. A waypoint's bearing needs its
// successor, so Push returns results for earlier waypoints and Flush emits the
// last one. Every pushed waypoint yields exactly one result, with the bearings
// geo.Bearings assigns to the whole sequence.
type Streamer struct {
	r       Resolver
	pending *geo.Point
	// held counts the unemitted copies of pending.
	held    int
	bearing float64
	heading bool
	index   int
}

// NewStreamer creates a Streamer on top of r.
func NewStreamer(r Resolver) *Streamer {
	return &Streamer{r: r}
}

// Push adds a waypoint and returns the results it completes, in waypoint order.
// A repeated waypoint is resolved with the current heading; repeats before the
// first distinct waypoint wait for it.
func (s *Streamer) Push(ctx context.Context, p geo.Point) ([]Result, error) {
	if s.pending == nil {
		s.pending = &p
		s.held = 1
		return nil, nil
	}
	if *s.pending == p {
		if !s.heading {
			s.held++
			return nil, nil
		}
		return s.emit(ctx, p, 1)
	}

	prev, n := *s.pending, s.held
	s.bearing = geo.Bearing(prev, p)
	s.heading = true
	s.pending = &p
	s.held = 1
	return s.emit(ctx, prev, n)
}

// Flush resolves the last waypoint with the inherited bearing. It returns
// geo.ErrInsufficientInput when fewer than two distinct waypoints were pushed.
func (s *Streamer) Flush(ctx context.Context) ([]Result, error) {
	if s.pending == nil || !s.heading {
		return nil, geo.ErrInsufficientInput
	}
	last, n := *s.pending, s.held
	s.pending = nil
	s.held = 0
	return s.emit(ctx, last, n)
}

// Count returns the number of results emitted so far.
func (s *Streamer) Count() int { return s.index }

func (s *Streamer) emit(ctx context.Context, p geo.Point, n int) ([]Result, error) {
	out := make([]Result, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := s.r.Resolve(ctx, p, s.bearing)
		out = append(out, newResult(s.index, res, err))
		s.index++
	}
	return out, nil
}
