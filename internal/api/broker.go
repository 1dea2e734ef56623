package api

import (
    "strconv"
    "sync"
)

// SSEEvent is one route or driver event as streamed to clients.
type SSEEvent struct {
    Type string         `json:"type"`
    Data map[string]any `json:"data"`
}

// EventBroker fans events out to the subscribers of a channel.
type EventBroker interface {
    Subscribe(channel string) chan SSEEvent
    Unsubscribe(channel string, ch chan SSEEvent)
    Publish(channel string, evt SSEEvent)
}

func RouteChannel(routeID int64) string  { return "route:" + strconv.FormatInt(routeID, 10) }
func DriverChannel(driverID int64) string { return "driver:" + strconv.FormatInt(driverID, 10) }

// Broker is the in-process EventBroker. Slow subscribers drop events rather
// than block publishers.
type Broker struct {
    mu      sync.Mutex
    subs    map[string]map[chan SSEEvent]struct{} // channel -> set of subscribers
}

var _ EventBroker = (*Broker)(nil)

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(channel string) chan SSEEvent {
    ch := make(chan SSEEvent, 8)
    b.mu.Lock()
    if b.subs[channel] == nil { b.subs[channel] = map[chan SSEEvent]struct{}{} }
    b.subs[channel][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(channel string, ch chan SSEEvent) {
    b.mu.Lock()
    defer b.mu.Unlock()
    m := b.subs[channel]
    if _, ok := m[ch]; !ok { return }
    delete(m, ch)
    if len(m) == 0 { delete(b.subs, channel) }
    close(ch)
}

func (b *Broker) Publish(channel string, evt SSEEvent) {
    b.mu.Lock()
    m := b.subs[channel]
    for ch := range m {
        select { case ch <- evt: default: }
    }
    b.mu.Unlock()
}
