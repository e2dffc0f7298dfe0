package roadgraph

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// AttrKind identifies the shape of a raw speed attribute.
type AttrKind int

const (
	AttrAbsent AttrKind = iota
	AttrScalar
	AttrText
	AttrList
)

// SpeedAttr is the raw, provider-supplied maxspeed value of an edge.
// It is either absent, a number, a string (possibly carrying a unit), or a list
// of such values aligned with the edge geometry's segments.
type SpeedAttr struct {
	Kind   AttrKind
	Scalar float64
	Text   string
	List   []SpeedAttr
}

// Absent returns an empty attribute.
func Absent() SpeedAttr { return SpeedAttr{} }

// Scalar returns a numeric attribute.
func Scalar(v float64) SpeedAttr { return SpeedAttr{Kind: AttrScalar, Scalar: v} }

// Text returns a string attribute.
func Text(s string) SpeedAttr { return SpeedAttr{Kind: AttrText, Text: s} }

// List returns a list attribute.
func List(items ...SpeedAttr) SpeedAttr { return SpeedAttr{Kind: AttrList, List: items} }

// ParseTag turns an OSM-style tag value into an attribute: empty strings are
// absent, plain numbers become scalars, everything else is kept as text.
func ParseTag(v string) SpeedAttr {
	v = strings.TrimSpace(v)
	if v == "" {
		return Absent()
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return Scalar(f)
	}
	return Text(v)
}

// IsAbsent reports whether the attribute carries no value.
func (a SpeedAttr) IsAbsent() bool { return a.Kind == AttrAbsent }

// Equal reports whether two attributes hold the same value.
func (a SpeedAttr) Equal(b SpeedAttr) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case AttrScalar:
		return a.Scalar == b.Scalar
	case AttrText:
		return a.Text == b.Text
	case AttrList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !a.List[i].Equal(b.List[i]) {
				return false
			}
		}
	}
	return true
}

func (a SpeedAttr) String() string {
	switch a.Kind {
	case AttrScalar:
		return strconv.FormatFloat(a.Scalar, 'f', -1, 64)
	case AttrText:
		return a.Text
	case AttrList:
		parts := make([]string, len(a.List))
		for i, item := range a.List {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return "<absent>"
}

// MarshalJSON encodes the attribute as null, a number, a string or an array.
func (a SpeedAttr) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.value())
}

func (a SpeedAttr) value() any {
	switch a.Kind {
	case AttrScalar:
		return a.Scalar
	case AttrText:
		return a.Text
	case AttrList:
		out := make([]any, len(a.List))
		for i, item := range a.List {
			out[i] = item.value()
		}
		return out
	}
	return nil
}

// UnmarshalJSON decodes null, a number, a string or an array.
func (a *SpeedAttr) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	attr, err := fromValue(raw)
	if err != nil {
		return err
	}
	*a = attr
	return nil
}

func fromValue(v any) (SpeedAttr, error) {
	switch t := v.(type) {
	case nil:
		return Absent(), nil
	case float64:
		return Scalar(t), nil
	case string:
		return Text(t), nil
	case []any:
		items := make([]SpeedAttr, len(t))
		for i, item := range t {
			attr, err := fromValue(item)
			if err != nil {
				return SpeedAttr{}, err
			}
			items[i] = attr
		}
		return List(items...), nil
	}
	return SpeedAttr{}, fmt.Errorf("unsupported speed attribute type %T", v)
}
