package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadspeed/pkg/resolver"
	"roadspeed/pkg/tracker"
)

func TestSpeedHandler(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		fail       error
		wantStatus int
		validate   func(*testing.T, resolver.Resolution)
	}{
		{
			name:       "Heading Northeast",
			query:      "lat=43.6&lon=7.08&bearing=40",
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, res resolver.Resolution) {
				assert.True(t, res.Matched)
				assert.InDelta(t, 30, res.Speed.KMH, 0.001)
				assert.Equal(t, "Chemin de Saint-Bernard", res.Name)
				assert.Equal(t, "10-11/0", res.Edge)
			},
		},
		{
			name:       "Heading Southwest Mph",
			query:      "lat=43.6&lon=7.08&bearing=220",
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, res resolver.Resolution) {
				assert.InDelta(t, 64.37, res.Speed.KMH, 0.01)
			},
		},
		{
			name:       "Negative Bearing Wraps",
			query:      "lat=43.6&lon=7.08&bearing=-140",
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, res resolver.Resolution) {
				assert.InDelta(t, 220, res.Bearing, 1e-9)
				assert.InDelta(t, 64.37, res.Speed.KMH, 0.01)
			},
		},
		{
			name:       "No Bearing Uses First Edge",
			query:      "lat=43.6&lon=7.08",
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, res resolver.Resolution) {
				assert.Equal(t, "10-11/0", res.Edge)
				assert.Equal(t, 0.0, res.Bearing)
			},
		},
		{name: "Missing Lat", query: "lon=7.08", wantStatus: http.StatusBadRequest},
		{name: "Lat Out Of Range", query: "lat=91&lon=7.08", wantStatus: http.StatusBadRequest},
		{name: "Bad Lon", query: "lat=43.6&lon=east", wantStatus: http.StatusBadRequest},
		{name: "Bad Bearing", query: "lat=43.6&lon=7.08&bearing=NaN", wantStatus: http.StatusBadRequest},
		{name: "Graph Unavailable", query: "lat=43.6&lon=7.08&bearing=40", fail: errOffline, wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &hubProvider{fail: tt.fail}
			h := NewSpeedHandler(factory(p, tracker.New()), SessionOptions{})

			req := httptest.NewRequest("GET", "/api/speed?"+tt.query, http.NoBody)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			resp := w.Result()
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

			if tt.wantStatus != http.StatusOK {
				var e errorResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
				assert.NotEmpty(t, e.Error)
				return
			}

			var res resolver.Resolution
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
			if tt.validate != nil {
				tt.validate(t, res)
			}
		})
	}
}

func TestSpeedHandler_SharedWindow(t *testing.T) {
	p := &hubProvider{}
	h := NewSpeedHandler(factory(p, nil), SessionOptions{})

	// 50m apart: the second query stays inside the first fetch
	for _, q := range []string{"lat=43.6&lon=7.08&bearing=40", "lat=43.6004&lon=7.0804&bearing=40"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/api/speed?"+q, http.NoBody))
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 1, p.Calls())
	assert.Equal(t, 1, h.Window().Fetches)
}

func TestSpeedHandler_Sessions(t *testing.T) {
	p := &hubProvider{}
	h := NewSpeedHandler(factory(p, nil), SessionOptions{TTL: time.Minute, Max: 2})

	query := func(q string, header string) {
		t.Helper()
		req := httptest.NewRequest("GET", "/api/speed?"+q, http.NoBody)
		if header != "" {
			req.Header.Set(SessionHeader, header)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	// Two vehicles far apart each keep their own window
	query("lat=43.6&lon=7.08&bearing=40", "vehicle-one")
	query("lat=48.85&lon=2.35&bearing=40&session=vehicle-two", "")
	query("lat=43.6004&lon=7.0804&bearing=40", "vehicle-one")
	query("lat=48.8504&lon=2.3504&bearing=40&session=vehicle-two", "")
	assert.Equal(t, 2, p.Calls())

	// The shared window is untouched by session queries
	assert.False(t, h.Window().Loaded)

	wins := h.SessionWindows()
	require.Len(t, wins, 2)
	assert.Equal(t, 1, wins["vehicle-one"].Fetches)
	assert.InDelta(t, 48.85, wins["vehicle-two"].Center.Lat, 1e-9)

	// A third vehicle evicts the least recently used session
	query("lat=45.76&lon=4.83&bearing=40", "vehicle-three")
	wins = h.SessionWindows()
	assert.Len(t, wins, 2)
	assert.NotContains(t, wins, "vehicle-one")
}
