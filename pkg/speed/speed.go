package speed

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"roadspeed/pkg/roadgraph"
)

// Conversion factors to km/h.
const (
	MphToKmh   = 1.60934
	KnotsToKmh = 1.852
)

// Speed is a resolved speed limit in km/h, or unknown.
type Speed struct {
	KMH   float64
	Known bool
}

// Unknown is the speed returned when no limit can be determined.
var Unknown = Speed{}

// KMH returns a known speed.
func KMH(v float64) Speed { return Speed{KMH: v, Known: true} }

func (s Speed) String() string {
	if !s.Known {
		return "unknown"
	}
	return strconv.FormatFloat(s.KMH, 'f', 1, 64) + " km/h"
}

// MarshalJSON encodes unknown speeds as null.
func (s Speed) MarshalJSON() ([]byte, error) {
	if !s.Known {
		return []byte("null"), nil
	}
	return json.Marshal(s.KMH)
}

// UnmarshalJSON decodes null as unknown.
func (s *Speed) UnmarshalJSON(data []byte) error {
	var v *float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil {
		*s = Unknown
		return nil
	}
	*s = KMH(*v)
	return nil
}

// Normalizer converts raw maxspeed attributes into km/h.
type Normalizer struct {
	// StrictLists makes lists whose length does not match the edge segment
	// count resolve to unknown instead of their first element.
	StrictLists bool
}

var valueRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(mph|km/h|kmh|kph|knots)?$`)

// Normalize returns the speed limit at the given segment of an edge with
// segmentCount segments. Attributes that cannot be interpreted resolve to
// Unknown together with an error wrapping ErrMalformedAttribute; an absent
// attribute is Unknown without error.
func (n Normalizer) Normalize(attr roadgraph.SpeedAttr, segment, segmentCount int) (Speed, error) {
	switch attr.Kind {
	case roadgraph.AttrAbsent:
		return Unknown, nil
	case roadgraph.AttrScalar:
		return scalar(attr.Scalar)
	case roadgraph.AttrText:
		return ParseText(attr.Text)
	case roadgraph.AttrList:
		return n.fromList(attr.List, segment, segmentCount)
	}
	return Unknown, fmt.Errorf("%w: kind %d", ErrMalformedAttribute, attr.Kind)
}

func (n Normalizer) fromList(items []roadgraph.SpeedAttr, segment, segmentCount int) (Speed, error) {
	if len(items) == 0 {
		return Unknown, fmt.Errorf("%w: empty list", ErrMalformedAttribute)
	}

	var item roadgraph.SpeedAttr
	switch {
	case len(items) == segmentCount:
		if segment < 0 || segment >= len(items) {
			return Unknown, fmt.Errorf("%w: segment %d out of range for %d values", ErrMalformedAttribute, segment, len(items))
		}
		item = items[segment]
	case n.StrictLists:
		return Unknown, fmt.Errorf("%w: %d values for %d segments", ErrMalformedAttribute, len(items), segmentCount)
	default:
		item = items[0]
	}

	switch item.Kind {
	case roadgraph.AttrAbsent:
		return Unknown, nil
	case roadgraph.AttrScalar:
		return scalar(item.Scalar)
	case roadgraph.AttrText:
		return ParseText(item.Text)
	}
	return Unknown, fmt.Errorf("%w: nested list", ErrMalformedAttribute)
}

// ParseText parses a maxspeed string such as "50", "50 km/h", "35 mph" or "10 knots".
// Unit names are case-insensitive; a bare number is km/h.
func ParseText(s string) (Speed, error) {
	m := valueRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return Unknown, fmt.Errorf("%w: %q", ErrMalformedAttribute, s)
	}

	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Unknown, fmt.Errorf("%w: %q: %w", ErrMalformedAttribute, s, err)
	}

	switch m[2] {
	case "mph":
		v *= MphToKmh
	case "knots":
		v *= KnotsToKmh
	}
	return KMH(v), nil
}

func scalar(v float64) (Speed, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return Unknown, fmt.Errorf("%w: %v", ErrMalformedAttribute, v)
	}
	return KMH(v), nil
}
