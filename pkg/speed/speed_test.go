package speed

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"roadspeed/pkg/roadgraph"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		attr      roadgraph.SpeedAttr
		segment   int
		segments  int
		want      Speed
		tolerance float64
		wantErr   bool
	}{
		{name: "Absent", attr: roadgraph.Absent(), segments: 1, want: Unknown},
		{name: "Scalar", attr: roadgraph.Scalar(50), segments: 1, want: KMH(50)},
		{name: "Mph", attr: roadgraph.Text("35 mph"), segments: 1, want: KMH(56.3), tolerance: 0.1},
		{name: "Mph Uppercase", attr: roadgraph.Text("35 MPH"), segments: 1, want: KMH(56.3), tolerance: 0.1},
		{name: "Mph No Space", attr: roadgraph.Text("20mph"), segments: 1, want: KMH(32.19), tolerance: 0.01},
		{name: "Numeric Text", attr: roadgraph.Text("70"), segments: 1, want: KMH(70)},
		{name: "Kmh Suffix", attr: roadgraph.Text("90 km/h"), segments: 1, want: KMH(90)},
		{name: "Knots", attr: roadgraph.Text("5 knots"), segments: 1, want: KMH(9.26), tolerance: 0.001},
		{name: "Signals", attr: roadgraph.Text("signals"), segments: 1, want: Unknown, wantErr: true},
		{name: "Multiple Values", attr: roadgraph.Text("50;70"), segments: 1, want: Unknown, wantErr: true},
		{name: "Country Code", attr: roadgraph.Text("FR:urban"), segments: 1, want: Unknown, wantErr: true},
		{name: "Negative", attr: roadgraph.Scalar(-30), segments: 1, want: Unknown, wantErr: true},
		{name: "NaN", attr: roadgraph.Scalar(math.NaN()), segments: 1, want: Unknown, wantErr: true},
		{
			name:     "List First Segment",
			attr:     roadgraph.List(roadgraph.Scalar(30), roadgraph.Scalar(50)),
			segment:  0,
			segments: 2,
			want:     KMH(30),
		},
		{
			name:     "List Second Segment",
			attr:     roadgraph.List(roadgraph.Scalar(30), roadgraph.Scalar(50)),
			segment:  1,
			segments: 2,
			want:     KMH(50),
		},
		{
			name:      "List Element With Unit",
			attr:      roadgraph.List(roadgraph.Scalar(30), roadgraph.Text("40 mph")),
			segment:   1,
			segments:  2,
			want:      KMH(64.37),
			tolerance: 0.01,
		},
		{
			name:     "List Out Of Range",
			attr:     roadgraph.List(roadgraph.Scalar(30), roadgraph.Scalar(50)),
			segment:  2,
			segments: 2,
			want:     Unknown,
			wantErr:  true,
		},
		{
			name:     "List Length Mismatch Takes First",
			attr:     roadgraph.List(roadgraph.Text("30"), roadgraph.Scalar(50)),
			segment:  2,
			segments: 3,
			want:     KMH(30),
		},
		{
			name:     "List Absent Element",
			attr:     roadgraph.List(roadgraph.Absent(), roadgraph.Scalar(50)),
			segment:  0,
			segments: 2,
			want:     Unknown,
		},
		{
			name:     "Empty List",
			attr:     roadgraph.List(),
			segments: 1,
			want:     Unknown,
			wantErr:  true,
		},
		{
			name:     "Nested List",
			attr:     roadgraph.List(roadgraph.List(roadgraph.Scalar(30))),
			segments: 1,
			want:     Unknown,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalizer{}.Normalize(tt.attr, tt.segment, tt.segments)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Normalize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformedAttribute) {
				t.Errorf("expected ErrMalformedAttribute, got %v", err)
			}
			if got.Known != tt.want.Known {
				t.Fatalf("Normalize() = %v, want %v", got, tt.want)
			}
			if math.Abs(got.KMH-tt.want.KMH) > tt.tolerance {
				t.Errorf("Normalize() = %v, want %v (+/- %v)", got.KMH, tt.want.KMH, tt.tolerance)
			}
			if got.KMH < 0 {
				t.Errorf("negative speed %v", got.KMH)
			}
		})
	}
}

func TestNormalize_StrictLists(t *testing.T) {
	n := Normalizer{StrictLists: true}
	attr := roadgraph.List(roadgraph.Scalar(30), roadgraph.Scalar(50))

	got, err := n.Normalize(attr, 0, 3)
	if !errors.Is(err, ErrMalformedAttribute) {
		t.Errorf("expected ErrMalformedAttribute, got %v", err)
	}
	if got.Known {
		t.Errorf("expected unknown, got %v", got)
	}

	// Aligned lists are unaffected
	got, err = n.Normalize(attr, 1, 2)
	if err != nil || got != KMH(50) {
		t.Errorf("Normalize() = %v, %v; want 50 km/h", got, err)
	}
}

func TestSpeed_JSON(t *testing.T) {
	out, err := json.Marshal([]Speed{KMH(56.5), Unknown})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `[56.5,null]` {
		t.Errorf("Marshal = %s", out)
	}

	var back []Speed
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatal(err)
	}
	if back[0] != KMH(56.5) || back[1] != Unknown {
		t.Errorf("Unmarshal = %v", back)
	}
}

func TestSpeed_String(t *testing.T) {
	if got := KMH(56.327).String(); got != "56.3 km/h" {
		t.Errorf("String() = %q", got)
	}
	if got := Unknown.String(); got != "unknown" {
		t.Errorf("String() = %q", got)
	}
}
