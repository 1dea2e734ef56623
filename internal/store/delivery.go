package store

import (
    "crypto/sha256"
    "encoding/hex"
    "encoding/json"
)

// WebhookDelivery is a queued outbound event as seen by the delivery worker.
type WebhookDelivery struct {
    ID             string
    SubscriptionID string
    EventType      string
    URL            string
    Secret         string
    Payload        []byte
    Status         string
    Attempts       int
}

// Delivery statuses.
const (
    DeliveryPending   = "pending"
    DeliveryRetry     = "retry"
    DeliveryDelivered = "delivered"
    DeliveryFailed    = "failed"
)

// computeDedupKey collapses replays of one event to one URL. Events carry
// an "id"; anything else is keyed by a prefix of its content hash.
func computeDedupKey(payload []byte) string {
    var ev struct{ ID string }
    if err := json.Unmarshal(payload, &ev); err == nil && ev.ID != "" { return ev.ID }
    h := sha256.Sum256(payload)
    return "sha256:" + hex.EncodeToString(h[:8])
}
