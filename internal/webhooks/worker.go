package webhooks

import (
    "bytes"
    "context"
    "fmt"
    "net/http"
    "strconv"
    "sync"
    "time"

    log "github.com/sirupsen/logrus"

    "wasteroute/internal/metrics"
    "wasteroute/internal/store"
)

const maxBackoff = time.Hour

// Worker polls the delivery queue and POSTs due events to subscribers.
type Worker struct {
    Store       store.Store
    Client      *http.Client
    MaxAttempts int
    Interval    time.Duration
    BatchSize   int

    stop     chan struct{}
    done     chan struct{}
    stopOnce sync.Once
}

func NewWorker(s store.Store, maxAttempts int) *Worker {
    if maxAttempts <= 0 { maxAttempts = 8 }
    return &Worker{
        Store:       s,
        Client:      &http.Client{Timeout: 5 * time.Second},
        MaxAttempts: maxAttempts,
        Interval:    time.Second,
        BatchSize:   50,
    }
}

// Start launches the polling loop. Close stops it.
func (w *Worker) Start() {
    w.stop = make(chan struct{})
    w.done = make(chan struct{})
    go func() {
        defer close(w.done)
        t := time.NewTicker(w.Interval)
        defer t.Stop()
        for {
            select {
            case <-w.stop:
                return
            case <-t.C:
                ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
                w.Sweep(ctx)
                cancel()
            }
        }
    }()
}

// Close stops the loop and waits for an in-flight sweep to finish.
func (w *Worker) Close() {
    if w.stop == nil { return }
    w.stopOnce.Do(func() { close(w.stop) })
    <-w.done
}

// Sweep attempts every due delivery once and returns how many it tried.
func (w *Worker) Sweep(ctx context.Context) int {
    batch := w.BatchSize
    if batch <= 0 { batch = 50 }
    due, err := w.Store.FetchDueWebhookDeliveries(ctx, batch)
    if err != nil {
        log.WithError(err).Warn("webhook fetch failed")
        return 0
    }
    for _, d := range due {
        w.settle(ctx, d, w.attempt(ctx, d))
    }
    return len(due)
}

type outcome struct {
    code      int
    latencyMs int
    err       string
}

func (o outcome) ok() bool { return o.err == "" }

func (w *Worker) attempt(ctx context.Context, d store.WebhookDelivery) outcome {
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Payload))
    if err != nil { return outcome{err: err.Error()} }
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Event-Type", d.EventType)
    req.Header.Set("X-Delivery-Id", d.ID)
    req.Header.Set("X-Attempt", strconv.Itoa(d.Attempts+1))
    if d.Secret != "" {
        req.Header.Set(SignatureHeader, Sign(d.Secret, d.Payload))
    }
    start := time.Now()
    resp, err := w.Client.Do(req)
    o := outcome{latencyMs: int(time.Since(start).Milliseconds())}
    if err != nil {
        o.err = err.Error()
        return o
    }
    _ = resp.Body.Close()
    o.code = resp.StatusCode
    if o.code < 200 || o.code > 299 {
        o.err = fmt.Sprintf("unexpected status %d", o.code)
    }
    return o
}

// settle records the attempt. A failure on the last allowed attempt is final.
func (w *Worker) settle(ctx context.Context, d store.WebhookDelivery, o outcome) {
    entry := log.WithFields(log.Fields{"delivery": d.ID, "event": d.EventType, "code": o.code, "attempt": d.Attempts + 1})
    status := store.DeliveryDelivered
    var err error
    switch {
    case o.ok():
        err = w.Store.MarkWebhookDelivery(ctx, d.ID, true, nil, "", o.code, o.latencyMs)
    case d.Attempts+1 >= w.MaxAttempts:
        status = store.DeliveryFailed
        entry.WithField("error", o.err).Warn("webhook delivery gave up")
        err = w.Store.FailWebhookDelivery(ctx, d.ID, o.err, o.code, o.latencyMs)
    default:
        status = store.DeliveryRetry
        next := time.Now().Add(backoff(d.Attempts))
        entry.WithField("error", o.err).Debug("webhook delivery will retry")
        err = w.Store.MarkWebhookDelivery(ctx, d.ID, false, &next, o.err, o.code, o.latencyMs)
    }
    if err != nil { entry.WithError(err).Error("webhook delivery not recorded") }
    metrics.WebhookDeliveries.WithLabelValues(d.EventType, status).Inc()
    metrics.WebhookLatency.WithLabelValues(d.EventType, status).Observe(float64(o.latencyMs))
}

// backoff doubles from one second per previous attempt up to maxBackoff.
func backoff(attempts int) time.Duration {
    if attempts <= 0 { return time.Second }
    if attempts >= 12 { return maxBackoff }
    return min(time.Second<<attempts, maxBackoff)
}
