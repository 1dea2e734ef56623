package api

import (
    "testing"
    "time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
    b := NewBroker()
    ch := b.Subscribe(RouteChannel(1))
    other := b.Subscribe(RouteChannel(2))
    defer b.Unsubscribe(RouteChannel(2), other)

    evt := SSEEvent{Type: "route.started", Data: map[string]any{"x": 1}}
    b.Publish(RouteChannel(1), evt)

    select {
    case got := <-ch:
        if got.Type != evt.Type { t.Fatalf("got type %s, want %s", got.Type, evt.Type) }
        if got.Data["x"].(int) != 1 { t.Fatalf("bad payload: %+v", got.Data) }
    case <-time.After(200 * time.Millisecond):
        t.Fatal("timeout waiting for event")
    }
    select {
    case got := <-other:
        t.Fatalf("event leaked to another route: %+v", got)
    default:
    }

    b.Unsubscribe(RouteChannel(1), ch)
    if _, ok := <-ch; ok { t.Fatal("channel should be closed after unsubscribe") }
    // a second unsubscribe is a no-op
    b.Unsubscribe(RouteChannel(1), ch)
}

func TestBrokerDropsWhenSubscriberIsSlow(t *testing.T) {
    b := NewBroker()
    ch := b.Subscribe(DriverChannel(7))
    defer b.Unsubscribe(DriverChannel(7), ch)
    for i := 0; i < 20; i++ {
        b.Publish(DriverChannel(7), SSEEvent{Type: "shift.opened"})
    }
    if len(ch) != cap(ch) { t.Fatalf("buffer: got %d of %d", len(ch), cap(ch)) }
}
