package api

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"wasteroute/internal/config"
)

func TestRouteEventsWebSocket(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	rt := createRoute(t, h, "Lenina 1")
	ts := httptest.NewServer(h)
	defer ts.Close()

	hdr := http.Header{}
	hdr.Set("X-Role", "admin")
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + fmt.Sprintf("/api/routes/%d/events/ws", rt.ID)
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var evt SSEEvent
	if err := conn.ReadJSON(&evt); err != nil || evt.Type != "connected" {
		t.Fatalf("first message: %+v %v", evt, err)
	}

	expect(t, do(t, h, admin, http.MethodPut, fmt.Sprintf("/api/routes/%d/cancel", rt.ID), nil), http.StatusOK, "cancel")
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != "route.cancelled" || evt.Data["status"] != "cancelled" {
		t.Fatalf("event: %+v", evt)
	}
}

func TestRouteEventsWebSocketOrigin(t *testing.T) {
	cfg := config.Defaults()
	cfg.RateRPS = 0
	cfg.AllowOrigins = []string{"https://ops.example"}
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	h := s.Handler()
	rt := createRoute(t, h, "Lenina 1")
	ts := httptest.NewServer(h)
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + fmt.Sprintf("/api/routes/%d/events/ws", rt.ID)

	dial := func(origin string) (*websocket.Conn, *http.Response, error) {
		hdr := http.Header{}
		hdr.Set("X-Role", "admin")
		if origin != "" {
			hdr.Set("Origin", origin)
		}
		return websocket.DefaultDialer.Dial(wsURL, hdr)
	}

	_, resp, err := dial("https://evil.example")
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-site upgrade: %v %v", resp, err)
	}
	for _, origin := range []string{"", "https://ops.example", ts.URL} {
		conn, _, err := dial(origin)
		if err != nil {
			t.Fatalf("origin %q refused: %v", origin, err)
		}
		_ = conn.Close()
	}
}

func TestRouteEventsSSEHeartbeat(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	rt := createRoute(t, h, "Lenina 1")
	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+fmt.Sprintf("/api/routes/%d/events/stream", rt.ID), nil)
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil || line != "event: heartbeat\n" {
		t.Fatalf("first line: %q %v", line, err)
	}
}
