package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadspeed/pkg/tracker"
	"roadspeed/pkg/version"
)

func TestServer_Routes(t *testing.T) {
	p := &hubProvider{}
	tr := tracker.New()
	f := factory(p, tr)
	speedH := NewSpeedHandler(f, SessionOptions{})

	shutdown := make(chan struct{})
	srv := NewServer("localhost:0",
		NewStatsHandler(tr, nil, speedH),
		speedH,
		NewRouteHandler(f),
		NewStreamHandler(f),
		func() { close(shutdown) },
	)
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"Health", http.MethodGet, "/health", http.StatusOK, "OK"},
		{"Version", http.MethodGet, "/api/version", http.StatusOK, version.Version},
		{"Speed", http.MethodGet, "/api/speed?lat=43.6&lon=7.08&bearing=40", http.StatusOK, `"speed_kmh":30`},
		{"Stats", http.MethodGet, "/api/stats", http.StatusOK, `"providers"`},
		{"Route Wrong Method", http.MethodGet, "/api/route", http.StatusMethodNotAllowed, ""},
		{"Unknown", http.MethodGet, "/api/pois", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, http.NoBody)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantBody != "" {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Contains(t, string(body), tt.wantBody)
			}
		})
	}

	t.Run("Shutdown", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/shutdown", "text/plain", http.NoBody)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		<-shutdown
	})
}

func TestStatsHandler(t *testing.T) {
	p := &hubProvider{}
	tr := tracker.New()
	speedH := NewSpeedHandler(factory(p, tr), SessionOptions{})

	// Two queries on the same spot: one miss, one hit
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		speedH.ServeHTTP(w, httptest.NewRequest("GET", "/api/speed?lat=43.6&lon=7.08&bearing=40", http.NoBody))
		require.Equal(t, http.StatusOK, w.Code)
	}

	h := NewStatsHandler(tr, nil, speedH)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/stats", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	stats, ok := resp.Providers["speed"]
	require.True(t, ok, "providers: %v", resp.Providers)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)
	assert.Equal(t, int64(1), stats.APISuccess)
	assert.Equal(t, int64(50), stats.HitRate)

	require.NotNil(t, resp.Window)
	assert.True(t, resp.Window.Loaded)
	assert.Equal(t, 3, resp.Window.Nodes)
	assert.Equal(t, 1, resp.Window.Fetches)
	require.Len(t, resp.Window.BBox, 4)
	assert.LessOrEqual(t, resp.Window.BBox[0], 7.08)
	assert.GreaterOrEqual(t, resp.Window.BBox[3], 43.6)
	assert.Nil(t, resp.Cache)
	assert.Greater(t, resp.Runtime.Goroutines, 0)
	assert.GreaterOrEqual(t, resp.Runtime.MemoryMaxMB, resp.Runtime.MemoryMB)
}
