package geo

import (
	"math"
)

// Projection describes the point of a polyline closest to a query point.
type Projection struct {
	// Segment is the index of the polyline segment holding the projected point.
	Segment int
	// Fraction is the position along the whole polyline by arc length, in [0, 1].
	Fraction float64
	// Point is the projected point.
	Point Point
	// Offset is the distance in meters between the query point and Point.
	Offset float64
}

// ProjectOnPolyline finds the point of line closest to p.
// Distances are evaluated in a local equirectangular frame centered on p, which
// is accurate at road-segment scale. When two segments are equally close the
// earlier one wins. A single-vertex line projects onto that vertex.
func ProjectOnPolyline(p Point, line []Point) Projection {
	if len(line) == 0 {
		return Projection{Segment: -1, Point: p}
	}
	if len(line) == 1 {
		return Projection{Point: line[0], Offset: Distance(p, line[0])}
	}

	kx, ky := metersPerDegree(p.Lat)
	toXY := func(q Point) (float64, float64) {
		return (q.Lon - p.Lon) * kx, (q.Lat - p.Lat) * ky
	}

	best := Projection{Segment: -1}
	bestDistSq := math.MaxFloat64
	bestAlong := 0.0
	total := 0.0

	for i := 0; i < len(line)-1; i++ {
		ax, ay := toXY(line[i])
		bx, by := toXY(line[i+1])
		dx, dy := bx-ax, by-ay
		segLen := math.Hypot(dx, dy)

		t := 0.0
		if segLen > 0 {
			// origin is p, so the projection parameter is -a·d / |d|²
			t = -(ax*dx + ay*dy) / (segLen * segLen)
			t = math.Max(0, math.Min(1, t))
		}
		cx, cy := ax+t*dx, ay+t*dy
		distSq := cx*cx + cy*cy

		if distSq < bestDistSq {
			bestDistSq = distSq
			bestAlong = total + t*segLen
			best.Segment = i
			best.Point = Point{
				Lat: p.Lat + cy/ky,
				Lon: p.Lon + cx/kx,
			}
		}
		total += segLen
	}

	if total > 0 {
		best.Fraction = bestAlong / total
	}
	best.Offset = math.Sqrt(bestDistSq)
	return best
}

// metersPerDegree returns the approximate length of one degree of longitude and
// latitude at the given latitude.
func metersPerDegree(lat float64) (lon, latM float64) {
	latM = earthRadius * math.Pi / 180.0
	lon = latM * math.Cos(lat*math.Pi/180.0)
	if lon < 1e-9 {
		lon = 1e-9
	}
	return lon, latM
}
