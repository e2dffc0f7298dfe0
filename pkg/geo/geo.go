package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// ErrInsufficientInput is returned when a bearing sequence is requested for fewer than two points.
var ErrInsufficientInput = errors.New("at least two points are required")

const earthRadius = 6371000 // Earth radius in meters

// Point represents a geographic coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// String returns the point as "lat,lon".
func (p Point) String() string {
	return fmt.Sprintf("%.7f,%.7f", p.Lat, p.Lon)
}

// Orb returns the point as an orb.Point (lon, lat order).
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// LineString converts a polyline into an orb.LineString.
func LineString(points []Point) orb.LineString {
	ls := make(orb.LineString, len(points))
	for i, p := range points {
		ls[i] = p.Orb()
	}
	return ls
}

// Distance calculates the Haversine distance between two points in meters.
func Distance(p1, p2 Point) float64 {
	dLat := (p2.Lat - p1.Lat) * (math.Pi / 180.0)
	dLon := (p2.Lon - p1.Lon) * (math.Pi / 180.0)
	lat1 := p1.Lat * (math.Pi / 180.0)
	lat2 := p2.Lat * (math.Pi / 180.0)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

// DestinationPoint calculates the destination point from a start point, given distance (in meters) and bearing (in degrees).
func DestinationPoint(start Point, distMeters, bearing float64) Point {
	lat1 := start.Lat * (math.Pi / 180.0)
	lon1 := start.Lon * (math.Pi / 180.0)
	brng := bearing * (math.Pi / 180.0)

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(distMeters/earthRadius) +
		math.Cos(lat1)*math.Sin(distMeters/earthRadius)*math.Cos(brng))
	lon2 := lon1 + math.Atan2(math.Sin(brng)*math.Sin(distMeters/earthRadius)*math.Cos(lat1),
		math.Cos(distMeters/earthRadius)-math.Sin(lat1)*math.Sin(lat2))

	return Point{
		Lat: lat2 * (180.0 / math.Pi),
		Lon: lon2 * (180.0 / math.Pi),
	}
}

// Bearing calculates the initial bearing (forward azimuth) from p1 to p2 in degrees.
// The result is in [0, 360), 0 being north and 90 east.
func Bearing(p1, p2 Point) float64 {
	lat1 := p1.Lat * (math.Pi / 180.0)
	lat2 := p2.Lat * (math.Pi / 180.0)
	dLon := (p2.Lon - p1.Lon) * (math.Pi / 180.0)

	x := math.Sin(dLon) * math.Cos(lat2)
	y := math.Cos(lat1)*math.Sin(lat2) -
		math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	brng := math.Atan2(x, y)

	deg := math.Mod(brng*(180.0/math.Pi)+360.0, 360.0)
	if deg >= 360.0 {
		// -0 and tiny negatives round up to 360 after the shift
		deg = 0
	}
	return deg
}

// Bearings returns the forward bearing of every point in the sequence.
// bearings[i] points from points[i] to points[i+1]; the last point has no
// successor and inherits the heading of the one before it. A point repeated
// by its successor inherits the previous heading too, and repeats at the start
// take the heading towards the first distinct point. Fewer than two distinct
// points yield ErrInsufficientInput.
func Bearings(points []Point) ([]float64, error) {
	if len(points) < 2 {
		return nil, ErrInsufficientInput
	}

	out := make([]float64, len(points))
	known := false
	for i := 0; i < len(points)-1; i++ {
		if points[i] == points[i+1] {
			if known {
				out[i] = out[i-1]
			}
			continue
		}
		out[i] = Bearing(points[i], points[i+1])
		if !known {
			for j := 0; j < i; j++ {
				out[j] = out[i]
			}
			known = true
		}
	}
	if !known {
		return nil, ErrInsufficientInput
	}
	out[len(points)-1] = out[len(points)-2]
	return out, nil
}

// NormalizeAngle normalizes an angle difference to the range [-180, 180].
func NormalizeAngle(angleDeg float64) float64 {
	for angleDeg > 180 {
		angleDeg -= 360
	}
	for angleDeg < -180 {
		angleDeg += 360
	}
	return angleDeg
}

// AngleDiff returns the absolute angular difference between two headings in [0, 180].
func AngleDiff(a, b float64) float64 {
	return math.Abs(NormalizeAngle(a - b))
}

// Densify inserts linearly interpolated points so that consecutive points are
// at most stepMeters apart. Duplicate consecutive points are dropped.
func Densify(points []Point, stepMeters float64) []Point {
	if len(points) < 2 || stepMeters <= 0 {
		return points
	}

	out := []Point{points[0]}
	for i := 0; i < len(points)-1; i++ {
		a, b := points[i], points[i+1]
		n := int(math.Ceil(Distance(a, b) / stepMeters))
		if n < 1 {
			n = 1
		}
		for j := 1; j <= n; j++ {
			f := float64(j) / float64(n)
			p := Point{
				Lat: a.Lat + f*(b.Lat-a.Lat),
				Lon: a.Lon + f*(b.Lon-a.Lon),
			}
			if p != out[len(out)-1] {
				out = append(out, p)
			}
		}
	}
	return out
}
