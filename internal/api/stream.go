package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"roadspeed/pkg/geo"
	"roadspeed/pkg/route"
)

const (
	streamIdle  = 2 * time.Minute
	streamWrite = 10 * time.Second
)

// waypointMessage is sent by the client, one per waypoint. End closes the route.
type waypointMessage struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
	End bool     `json:"end"`
}

type endMessage struct {
	End     bool   `json:"end"`
	Session string `json:"session"`
	Count   int    `json:"count"`
	Error   string `json:"error,omitempty"`
}

// StreamHandler resolves waypoints pushed over a websocket as they arrive.
type StreamHandler struct {
	newResolver ResolverFactory
	upgrader    websocket.Upgrader
}

// NewStreamHandler creates a StreamHandler. Each connection gets its own resolver.
func NewStreamHandler(f ResolverFactory) *StreamHandler {
	return &StreamHandler{
		newResolver: f,
		upgrader: websocket.Upgrader{
			// Clears the server deadlines once the handshake is written
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	session := uuid.New().String()
	logger := slog.With("session", session)
	logger.Info("Route stream opened", "remote", r.RemoteAddr)

	// The request context ends with the hijacked connection; track the stream instead
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := route.NewStreamer(h.newResolver("ws-" + session[:8]))
	if err := h.serve(ctx, conn, s, session); err != nil {
		logger.Warn("Route stream closed", "count", s.Count(), "error", err)
		return
	}
	logger.Info("Route stream finished", "count", s.Count())
}

func (h *StreamHandler) serve(ctx context.Context, conn *websocket.Conn, s *route.Streamer, session string) error {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(streamIdle)); err != nil {
			return err
		}
		var msg waypointMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if isDecodeError(err) {
				// The connection is still usable after a bad message
				if werr := h.write(conn, errorResponse{Error: "invalid waypoint: " + err.Error()}); werr != nil {
					return werr
				}
				continue
			}
			return err
		}

		if msg.End {
			return h.finish(ctx, conn, s, session)
		}

		if msg.Lat == nil || msg.Lon == nil || *msg.Lat < -90 || *msg.Lat > 90 || *msg.Lon < -180 || *msg.Lon > 180 {
			if err := h.write(conn, errorResponse{Error: "invalid waypoint: lat and lon are required"}); err != nil {
				return err
			}
			continue
		}

		results, err := s.Push(ctx, geo.Point{Lat: *msg.Lat, Lon: *msg.Lon})
		if err != nil {
			return err
		}
		for _, res := range results {
			if err := h.write(conn, res); err != nil {
				return err
			}
		}
	}
}

func (h *StreamHandler) finish(ctx context.Context, conn *websocket.Conn, s *route.Streamer, session string) error {
	end := endMessage{End: true, Session: session}
	results, err := s.Flush(ctx)
	switch {
	case errors.Is(err, geo.ErrInsufficientInput):
		end.Error = err.Error()
	case err != nil:
		return err
	}
	for _, res := range results {
		if err := h.write(conn, res); err != nil {
			return err
		}
	}
	end.Count = s.Count()

	if err := h.write(conn, end); err != nil {
		return err
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(streamWrite))
	return nil
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func (h *StreamHandler) write(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWrite)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}
