package route

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/paulmach/orb/geojson"

	"roadspeed/pkg/geo"
)

// WriteCSV writes one "latitude,longitude,bearing,speed_kmh" row per result.
// Unknown speeds are left empty.
func WriteCSV(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"latitude", "longitude", "bearing", "speed_kmh"}); err != nil {
		return err
	}
	for _, r := range results {
		kmh := ""
		if r.Speed.Known {
			kmh = strconv.FormatFloat(r.Speed.KMH, 'f', 1, 64)
		}
		row := []string{
			strconv.FormatFloat(r.Point.Lat, 'f', 7, 64),
			strconv.FormatFloat(r.Point.Lon, 'f', 7, 64),
			strconv.FormatFloat(r.Bearing, 'f', 1, 64),
			kmh,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FeatureCollection builds a GeoJSON collection holding the route line
// followed by one point feature per result.
func FeatureCollection(results []Result) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	if len(results) > 1 {
		pts := make([]geo.Point, len(results))
		for i, r := range results {
			pts[i] = r.Point
		}
		line := geojson.NewFeature(geo.LineString(pts))
		line.Properties["kind"] = "route"
		fc.Append(line)
	}

	for _, r := range results {
		f := geojson.NewFeature(r.Point.Orb())
		f.Properties["kind"] = "waypoint"
		f.Properties["index"] = r.Index
		f.Properties["bearing"] = r.Bearing
		f.Properties["speed_kmh"] = r.Speed
		if r.Matched {
			f.Properties["edge"] = r.Edge
			f.Properties["way_id"] = r.WayID
			if r.Name != "" {
				f.Properties["name"] = r.Name
			}
		}
		if r.Error != "" {
			f.Properties["error"] = r.Error
		}
		fc.Append(f)
	}
	return fc
}

// WriteGeoJSON writes results as an indented GeoJSON FeatureCollection.
func WriteGeoJSON(w io.Writer, results []Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(FeatureCollection(results))
}
