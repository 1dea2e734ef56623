package store

import (
    "context"
    "database/sql"
    "encoding/json"
    "fmt"
    "time"

    "github.com/google/uuid"

    "wasteroute/internal/model"
)

// Sessions

func (p *Postgres) RevokeSession(ctx context.Context, jti string, expiresAt time.Time) error {
    _, err := p.db.ExecContext(ctx, `INSERT INTO revoked_sessions (jti, expires_at) VALUES ($1,$2) ON CONFLICT (jti) DO NOTHING`, jti, expiresAt)
    return err
}

func (p *Postgres) IsSessionRevoked(ctx context.Context, jti string) (bool, error) {
    var ok bool
    err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM revoked_sessions WHERE jti=$1)`, jti).Scan(&ok)
    return ok, err
}

func (p *Postgres) PurgeRevokedSessions(ctx context.Context, before time.Time) (int, error) {
    res, err := p.db.ExecContext(ctx, `DELETE FROM revoked_sessions WHERE expires_at < $1`, before)
    if err != nil { return 0, err }
    n, err := res.RowsAffected()
    return int(n), err
}

// Subscriptions

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(req.Events)
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)`, id, req.URL, ev, nullIfEmpty(req.Secret))
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var secret sql.NullString
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &secret, &ev); err != nil { return nil, err }
        s.Secret = secret.String
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE events @> $1::jsonb OR events @> '["*"]'::jsonb ORDER BY created_at`,
        fmt.Sprintf("[%q]", eventType))
    if err != nil { return nil, err }
    return scanSubscriptions(rows)
}

func (p *Postgres) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions ORDER BY created_at`)
    if err != nil { return nil, err }
    return scanSubscriptions(rows)
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
    if _, err := uuid.Parse(id); err != nil { return fmt.Errorf("%w: subscription %s", ErrNotFound, id) }
    res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return fmt.Errorf("%w: subscription %s", ErrNotFound, id) }
    return nil
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    dk := computeDedupKey(payload)
    err := p.db.QueryRowContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now(),$7)
        ON CONFLICT (event_type, url, dedup_key) DO UPDATE SET updated_at = webhook_deliveries.updated_at
        RETURNING id::text`, id, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk).Scan(&id)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$1, next_attempt_at=$2, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$3`,
            nullIfEmpty(lastError), *nextAttemptAt, id, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

// FailWebhookDelivery parks a delivery in the terminal failed state; failed
// rows are the dead letters an operator can list and retry.
func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
        id, nullIfEmpty(lastError), responseCode, latencyMs)
    return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]model.DeliveryRecord, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, event_type, url, status, attempts, COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0),
        next_attempt_at, delivered_at, created_at
        FROM webhook_deliveries WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC, id LIMIT $2`, status, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.DeliveryRecord{}
    for rows.Next() {
        var d model.DeliveryRecord
        var nextAt, deliveredAt sql.NullTime
        if err := rows.Scan(&d.ID, &d.EventType, &d.URL, &d.Status, &d.Attempts, &d.LastError, &d.ResponseCode, &d.LatencyMs, &nextAt, &deliveredAt, &d.CreatedAt); err != nil { return nil, err }
        if d.Status == DeliveryPending || d.Status == DeliveryRetry { d.NextAttemptAt = nullTime(nextAt) }
        d.DeliveredAt = nullTime(deliveredAt)
        d.CreatedAt = d.CreatedAt.UTC()
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, id string) error {
    if _, err := uuid.Parse(id); err != nil { return fmt.Errorf("%w: delivery %s", ErrNotFound, id) }
    res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now(), updated_at=now() WHERE id=$1`, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return fmt.Errorf("%w: delivery %s", ErrNotFound, id) }
    return nil
}

func (p *Postgres) PurgeWebhookDeliveries(ctx context.Context, before time.Time) (int, error) {
    res, err := p.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE status IN ('delivered','failed') AND created_at < $1`, before)
    if err != nil { return 0, err }
    n, err := res.RowsAffected()
    return int(n), err
}
