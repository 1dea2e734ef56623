// Package main tails the WebSocket event stream of one route.
//
//	go run ./scripts -route 12
//	go run ./scripts -demo            # creates a route, then cancels it
//	go run ./scripts -route 12 -token $TOKEN
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

type wsEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func main() {
	base := flag.String("base", "http://localhost:8080", "API base URL")
	routeID := flag.Int64("route", 0, "route id to follow")
	token := flag.String("token", "", "session token; dev X-Role admin headers are sent when empty")
	demo := flag.Bool("demo", false, "create a demo route and cancel it once connected")
	wait := flag.Duration("wait", 10*time.Second, "how long to listen")
	flag.Parse()

	auth := func(h http.Header) {
		if *token != "" {
			h.Set("Authorization", "Bearer "+*token)
			return
		}
		h.Set("X-Role", "admin")
	}
	call := func(method, path string, body any) (*http.Response, error) {
		var rd io.Reader = http.NoBody
		if body != nil {
			b, _ := json.Marshal(body)
			rd = bytes.NewReader(b)
		}
		req, err := http.NewRequest(method, *base+path, rd)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		auth(req.Header)
		return http.DefaultClient.Do(req)
	}

	if *demo {
		resp, err := call(http.MethodPost, "/api/routes", map[string]any{
			"plannedDate": time.Now().Format(time.DateOnly),
			"stops":       []map[string]any{{"address": "Demo street 1"}, {"address": "Demo street 2"}},
		})
		if err != nil {
			log.Fatal(err)
		}
		var rt struct {
			ID int64 `json:"id"`
		}
		err = json.NewDecoder(resp.Body).Decode(&rt)
		_ = resp.Body.Close()
		if err != nil || rt.ID == 0 {
			log.Fatalf("create demo route: status %d: %v", resp.StatusCode, err)
		}
		*routeID = rt.ID
		log.WithField("route", rt.ID).Info("demo route created")
	}
	if *routeID <= 0 {
		log.Fatal("-route or -demo is required")
	}

	u, err := url.Parse(*base)
	if err != nil {
		log.Fatal(err)
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = fmt.Sprintf("/api/routes/%d/events/ws", *routeID)
	hdr := http.Header{}
	auth(hdr)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial: ", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var e wsEvent
			if err := c.ReadJSON(&e); err != nil {
				log.WithError(err).Info("stream closed")
				return
			}
			log.WithFields(log.Fields(e.Data)).Info(e.Type)
		}
	}()

	if *demo {
		time.Sleep(300 * time.Millisecond)
		resp, err := call(http.MethodPut, fmt.Sprintf("/api/routes/%d/cancel", *routeID), nil)
		if err != nil {
			log.Fatal(err)
		}
		_ = resp.Body.Close()
	}

	select {
	case <-time.After(*wait):
	case <-done:
	}
}
