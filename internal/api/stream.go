package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"wasteroute/internal/metrics"
)

const heartbeatEvery = 15 * time.Second

// wsOriginCheck accepts clients that send no Origin, pages served from this
// host and the configured CORS origins. Browsers attach the session cookie
// to cross-site upgrades, so anything else is refused.
func wsOriginCheck(allowed []string) func(*http.Request) bool {
	set := map[string]bool{}
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] || set[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// authorizeStream allows admins and the driver assigned to the route.
func (s *Server) authorizeStream(w http.ResponseWriter, r *http.Request, routeID int64) bool {
	p, ok := s.authenticate(w, r)
	if !ok {
		return false
	}
	if p.IsAdmin() {
		return true
	}
	rt, err := s.Store.GetRoute(r.Context(), routeID)
	if err != nil {
		writeError(w, r, err)
		return false
	}
	if !p.IsDriver() || rt.DriverID == nil || *rt.DriverID != p.UserID {
		writeProblem(w, http.StatusForbidden, "Forbidden", "not authorized for route events", r.URL.Path)
		return false
	}
	return true
}

// RouteEventsStreamHandler serves GET /api/routes/{id}/events/stream as SSE.
func (s *Server) RouteEventsStreamHandler(w http.ResponseWriter, r *http.Request, routeID int64) {
	if !s.authorizeStream(w, r, routeID) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	channel := RouteChannel(routeID)
	ch := s.Broker.Subscribe(channel)
	defer s.Broker.Unsubscribe(channel, ch)
	metrics.StreamClients.WithLabelValues("sse").Inc()
	defer metrics.StreamClients.WithLabelValues("sse").Dec()

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"routeId\":%d,\"ts\":%q}\n\n", routeID, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}

// RouteEventsWSHandler serves GET /api/routes/{id}/events/ws. Each route event
// is written as a JSON {type, data} text message; the client only needs to
// answer pings.
func (s *Server) RouteEventsWSHandler(w http.ResponseWriter, r *http.Request, routeID int64) {
	if !s.authorizeStream(w, r, routeID) {
		return
	}
	upgrader := websocket.Upgrader{CheckOrigin: wsOriginCheck(s.Config.AllowOrigins)}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()
	metrics.StreamClients.WithLabelValues("ws").Inc()
	defer metrics.StreamClients.WithLabelValues("ws").Dec()

	channel := RouteChannel(routeID)
	ch := s.Broker.Subscribe(channel)
	defer s.Broker.Unsubscribe(channel, ch)

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	// The reader only drains control frames and notices the client leaving.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	_ = conn.WriteJSON(SSEEvent{Type: "connected", Data: map[string]any{"routeId": routeID}})
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
