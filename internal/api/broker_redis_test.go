package api

import (
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
)

func TestRedisBrokerRoundTrip(t *testing.T) {
    mr := miniredis.RunT(t)
    b, err := NewRedisBroker("redis://" + mr.Addr())
    if err != nil { t.Fatalf("NewRedisBroker: %v", err) }
    defer func() { _ = b.Close() }()

    ch := b.Subscribe(RouteChannel(42))
    b.Publish(RouteChannel(42), SSEEvent{Type: "stop.updated", Data: map[string]any{"stopId": 3}})

    select {
    case got := <-ch:
        if got.Type != "stop.updated" { t.Fatalf("type: %s", got.Type) }
        // JSON numbers decode as float64
        if got.Data["stopId"].(float64) != 3 { t.Fatalf("payload: %+v", got.Data) }
    case <-time.After(2 * time.Second):
        t.Fatal("timeout waiting for redis event")
    }

    b.Unsubscribe(RouteChannel(42), ch)
    select {
    case _, ok := <-ch:
        if ok { t.Fatal("expected closed channel after unsubscribe") }
    case <-time.After(2 * time.Second):
        t.Fatal("channel not closed after unsubscribe")
    }
}

func TestNewRedisBrokerRejectsBadURL(t *testing.T) {
    if _, err := NewRedisBroker("not-a-url"); err == nil { t.Fatal("expected error") }
}
