package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"roadspeed/pkg/apisession"
	"roadspeed/pkg/geo"
	"roadspeed/pkg/resolver"
	"roadspeed/pkg/spatialcache"
)

// SessionHeader identifies a client on the speed endpoint; the "session" query
// parameter is accepted as well.
const SessionHeader = "X-Session-ID"

// speedSession is one resolver and the lock serializing its queries.
type speedSession struct {
	mu       sync.Mutex
	resolver *resolver.Resolver
}

func (s *speedSession) window() spatialcache.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolver.Window()
}

// SessionOptions bounds the per-client resolvers of a SpeedHandler.
type SessionOptions struct {
	TTL time.Duration
	Max int
}

// SpeedHandler answers single point queries. Anonymous queries share one
// resolver; a client sending a session ID gets its own, so that several
// vehicles do not keep moving each other's graph window.
type SpeedHandler struct {
	shared   *speedSession
	sessions *apisession.Store[speedSession]
}

// NewSpeedHandler creates a SpeedHandler on resolvers built by f.
func NewSpeedHandler(f ResolverFactory, opts SessionOptions) *SpeedHandler {
	return &SpeedHandler{
		shared: &speedSession{resolver: f("speed")},
		sessions: apisession.New(func(id string) *speedSession {
			slog.Debug("Speed session opened", "session", id)
			return &speedSession{resolver: f("speed-" + shortID(id))}
		}, apisession.Options[speedSession]{
			TTL: opts.TTL,
			Max: opts.Max,
			OnEvict: func(id string, _ *speedSession) {
				slog.Debug("Speed session evicted", "session", id)
			},
		}),
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (h *SpeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		writeError(w, http.StatusBadRequest, "invalid lat")
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil || lon < -180 || lon > 180 {
		writeError(w, http.StatusBadRequest, "invalid lon")
		return
	}

	// Without a bearing the first edge at the nearest node is used
	bearing := math.NaN()
	if s := q.Get("bearing"); s != "" {
		b, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(b) || math.IsInf(b, 0) {
			writeError(w, http.StatusBadRequest, "invalid bearing")
			return
		}
		bearing = math.Mod(math.Mod(b, 360)+360, 360)
	}

	sess := h.shared
	id := r.Header.Get(SessionHeader)
	if id == "" {
		id = q.Get("session")
	}
	if id != "" {
		sess = h.sessions.Get(id)
	}

	sess.mu.Lock()
	res, err := sess.resolver.Resolve(r.Context(), geo.Point{Lat: lat, Lon: lon}, bearing)
	sess.mu.Unlock()
	if err != nil {
		if errors.Is(err, spatialcache.ErrGraphUnavailable) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if math.IsNaN(res.Bearing) {
		res.Bearing = 0
	}

	writeJSON(w, http.StatusOK, res)
}

// Window returns the state of the shared resolver's cache.
func (h *SpeedHandler) Window() spatialcache.Window {
	return h.shared.window()
}

// SessionWindows returns the cache state of every client session.
func (h *SpeedHandler) SessionWindows() map[string]spatialcache.Window {
	var ids []string
	var sessions []*speedSession
	h.sessions.Each(func(id string, s *speedSession) {
		ids = append(ids, id)
		sessions = append(sessions, s)
	})

	// Session locks are taken outside the store lock: a query may hold one
	// for the duration of a fetch.
	out := make(map[string]spatialcache.Window, len(ids))
	for i, s := range sessions {
		out[ids[i]] = s.window()
	}
	return out
}
