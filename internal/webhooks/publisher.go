package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"wasteroute/internal/store"
)

// Event is the JSON envelope posted to subscribers.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`
	Data any       `json:"data"`
}

type Publisher struct {
	Store store.Store
	Now   func() time.Time
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s, Now: time.Now}
}

// Emit queues an event for every subscription that wants its type. Failures
// are logged; the state change that caused the event already happened.
func (p *Publisher) Emit(ctx context.Context, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, eventType)
	if err != nil {
		log.WithError(err).WithField("event", eventType).Warn("webhook subscriptions lookup failed")
		return
	}
	if len(subs) == 0 {
		return
	}
	body, err := json.Marshal(Event{ID: "evt_" + uuid.NewString(), Type: eventType, TS: p.Now().UTC(), Data: data})
	if err != nil {
		log.WithError(err).WithField("event", eventType).Error("webhook payload encode failed")
		return
	}
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			log.WithError(err).WithFields(log.Fields{"event": eventType, "subscription": s.ID}).Warn("webhook enqueue failed")
		}
	}
}
