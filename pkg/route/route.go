// Package route resolves speed limits along a recorded or planned route.
package route

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"roadspeed/pkg/geo"
	"roadspeed/pkg/resolver"
)

// Resolver is the per-waypoint query used by Run and Streamer.
type Resolver interface {
	Resolve(ctx context.Context, p geo.Point, bearing float64) (resolver.Resolution, error)
}

// Result is the resolution of one waypoint.
type Result struct {
	Index int `json:"index"`
	resolver.Resolution
	// Error is set when the waypoint could not be resolved, usually because
	// the road graph around it could not be fetched.
	Error string `json:"error,omitempty"`
	err   error
}

// Err returns the resolution error, if any.
func (r Result) Err() error { return r.err }

func newResult(i int, res resolver.Resolution, err error) Result {
	out := Result{Index: i, Resolution: res, err: err}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// Read parses waypoints from CSV lines of "lat,lon". A header row, blank
// lines, '#' comments and rows that do not hold a valid coordinate are
// skipped. Extra columns are ignored.
func Read(r io.Reader) ([]geo.Point, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var points []geo.Point
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				slog.Debug("Skipping malformed route line", "line", perr.Line, "error", perr.Err)
				continue
			}
			return nil, fmt.Errorf("reading route: %w", err)
		}

		p, ok := parsePoint(rec)
		if !ok {
			if line > 1 {
				slog.Debug("Skipping malformed route line", "line", line, "record", rec)
			}
			continue
		}
		points = append(points, p)
	}
	return points, nil
}

func parsePoint(rec []string) (geo.Point, bool) {
	if len(rec) < 2 {
		return geo.Point{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
	if err != nil {
		return geo.Point{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
	if err != nil {
		return geo.Point{}, false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return geo.Point{}, false
	}
	return geo.Point{Lat: lat, Lon: lon}, true
}

// Run resolves every waypoint in order. The bearing at a waypoint points to
// its successor; the last waypoint inherits the previous bearing.
//
// A waypoint whose graph cannot be fetched is recorded with its error and
// processing continues, so the next waypoint retries the fetch. Run only
// fails for fewer than two waypoints or a cancelled context.
func Run(ctx context.Context, r Resolver, points []geo.Point) ([]Result, error) {
	bearings, err := geo.Bearings(points)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(points))
	failed := 0
	for i, p := range points {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := r.Resolve(ctx, p, bearings[i])
		if err != nil {
			failed++
			slog.Warn("Waypoint unresolved", "index", i, "point", p, "error", err)
		}
		results = append(results, newResult(i, res, err))
	}

	slog.Info("Route resolved", "waypoints", len(points), "failed", failed)
	return results, nil
}
