package overpass

import (
	"fmt"
	"strings"
	"time"

	"roadspeed/pkg/geo"
)

// driveFilter selects public ways open to motor vehicles; service roads,
// tracks and anything under construction are left out.
var driveFilter = strings.Join([]string{
	`["highway"]`,
	`["area"!~"yes"]`,
	`["access"!~"private"]`,
	`["highway"!~"abandoned|bridleway|bus_guideway|construction|corridor|cycleway|elevator|escalator|footway|no|path|pedestrian|planned|platform|proposed|raceway|razed|service|steps|track"]`,
	`["motor_vehicle"!~"no"]`,
	`["motorcar"!~"no"]`,
	`["service"!~"alley|driveway|emergency_access|parking|parking_aisle|private"]`,
}, "")

// Query returns the Overpass QL query for the drivable ways within radius
// meters of center, together with all of their nodes.
func Query(center geo.Point, radius float64, timeout time.Duration) string {
	secs := int(timeout.Seconds())
	if secs <= 0 {
		secs = 180
	}
	return fmt.Sprintf("[out:json][timeout:%d];\nway%s(around:%.0f,%.6f,%.6f);\n(._;>;);\nout body qt;",
		secs, driveFilter, radius, center.Lat, center.Lon)
}
