package geo

import (
	"math"
	"testing"
)

func TestProjectOnPolyline(t *testing.T) {
	origin := Point{Lat: 43.6, Lon: 7.08}
	mid := DestinationPoint(origin, 100, 90)
	end := DestinationPoint(mid, 100, 0)
	line := []Point{origin, mid, end}

	tests := []struct {
		name        string
		query       Point
		wantSegment int
		wantFrac    float64
		maxOffset   float64
	}{
		{
			name:        "Start Vertex",
			query:       origin,
			wantSegment: 0,
			wantFrac:    0,
			maxOffset:   0.01,
		},
		{
			name:        "Middle Of First Segment",
			query:       DestinationPoint(DestinationPoint(origin, 50, 90), 10, 180),
			wantSegment: 0,
			wantFrac:    0.25,
			maxOffset:   10.1,
		},
		{
			name:        "Second Segment",
			query:       DestinationPoint(DestinationPoint(mid, 50, 0), 5, 90),
			wantSegment: 1,
			wantFrac:    0.75,
			maxOffset:   5.1,
		},
		{
			name:        "Beyond End Clamps",
			query:       DestinationPoint(end, 30, 0),
			wantSegment: 1,
			wantFrac:    1,
			maxOffset:   30.1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProjectOnPolyline(tt.query, line)
			if got.Segment != tt.wantSegment {
				t.Errorf("Segment = %d, want %d", got.Segment, tt.wantSegment)
			}
			if math.Abs(got.Fraction-tt.wantFrac) > 0.01 {
				t.Errorf("Fraction = %v, want %v", got.Fraction, tt.wantFrac)
			}
			if got.Offset > tt.maxOffset {
				t.Errorf("Offset = %v, want <= %v", got.Offset, tt.maxOffset)
			}
		})
	}
}

func TestProjectOnPolyline_Degenerate(t *testing.T) {
	p := Point{Lat: 1, Lon: 1}

	if got := ProjectOnPolyline(p, nil); got.Segment != -1 {
		t.Errorf("empty line: Segment = %d, want -1", got.Segment)
	}

	v := Point{Lat: 1.001, Lon: 1}
	got := ProjectOnPolyline(p, []Point{v})
	if got.Point != v || got.Segment != 0 {
		t.Errorf("single vertex: got %+v", got)
	}

	// Zero-length segments project onto their vertex
	got = ProjectOnPolyline(p, []Point{v, v})
	if got.Segment != 0 || math.Abs(got.Offset-Distance(p, v)) > 1 {
		t.Errorf("zero-length segment: got %+v", got)
	}
}
