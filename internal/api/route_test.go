package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadspeed/pkg/route"
	"roadspeed/pkg/tracker"
)

func TestRouteHandler(t *testing.T) {
	p := &hubProvider{}
	h := NewRouteHandler(factory(p, tracker.New()))

	req := httptest.NewRequest("POST", "/api/route", strings.NewReader(routeCSV))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var results []route.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&results))
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.True(t, r.Matched)
		assert.InDelta(t, 30, r.Speed.KMH, 0.001)
		assert.Empty(t, r.Error)
	}
	// Last waypoint inherits the previous bearing
	assert.Equal(t, results[1].Bearing, results[2].Bearing)
	assert.Equal(t, 3, p.Calls())
}

func TestRouteHandler_FreshResolverPerRequest(t *testing.T) {
	p := &hubProvider{}
	h := NewRouteHandler(factory(p, nil))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("POST", "/api/route", strings.NewReader(routeCSV)))
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 6, p.Calls())
}

func TestRouteHandler_GeoJSON(t *testing.T) {
	h := NewRouteHandler(factory(&hubProvider{}, nil))

	req := httptest.NewRequest("POST", "/api/route?format=geojson", strings.NewReader(routeCSV))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/geo+json", w.Header().Get("Content-Type"))

	fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	require.NoError(t, err)
	// Route line plus one point per waypoint
	assert.Len(t, fc.Features, 4)
	assert.Equal(t, "route", fc.Features[0].Properties["kind"])
}

func TestRouteHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		fail       error
		wantStatus int
	}{
		{"Single Waypoint", "43.60,7.08\n", nil, http.StatusBadRequest},
		{"Empty Body", "", nil, http.StatusBadRequest},
		{"Only Garbage", "lat,lon\nfoo,bar\n", nil, http.StatusBadRequest},
		{"Graph Unavailable Still Answers", routeCSV, errOffline, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouteHandler(factory(&hubProvider{fail: tt.fail}, nil))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest("POST", "/api/route", strings.NewReader(tt.body)))
			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.fail != nil {
				var results []route.Result
				require.NoError(t, json.NewDecoder(w.Body).Decode(&results))
				require.Len(t, results, 3)
				for _, r := range results {
					assert.False(t, r.Speed.Known)
					assert.Contains(t, r.Error, "overpass offline")
				}
			}
		})
	}
}
