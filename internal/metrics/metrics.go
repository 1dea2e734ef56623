package metrics

import (
    "sync"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, route pattern, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )
    // RateLimited counts requests rejected by the limiter
    RateLimited = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "http_rate_limited_total", Help: "Requests rejected with 429."},
    )

    // RouteTransitions counts route status changes by target status
    RouteTransitions = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "route_transitions_total", Help: "Route status transitions by target status."},
        []string{"status"},
    )
    // StopUpdates counts driver stop updates by resulting stop status
    StopUpdates = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "stop_updates_total", Help: "Driver stop updates by stop status."},
        []string{"status"},
    )
    // Incidents counts raised and resolved incidents by type
    Incidents = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "incidents_total", Help: "Incidents by type and action."},
        []string{"type", "action"},
    )
    // Shifts counts shift openings and closings
    Shifts = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "shifts_total", Help: "Shift open/close operations."},
        []string{"action"},
    )
    // AutoGenerate counts auto-generation runs by outcome
    AutoGenerate = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "route_autogenerate_total", Help: "Route auto-generation runs by result."},
        []string{"result"},
    )
    // SchedulerRuns counts cron job executions
    SchedulerRuns = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "scheduler_runs_total", Help: "Scheduled job runs by job and result."},
        []string{"job", "result"},
    )
    // StreamClients tracks open SSE and websocket subscribers
    StreamClients = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{Name: "route_stream_clients", Help: "Open route event stream clients."},
        []string{"transport"},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests, HTTPDuration, RateLimited)
        Registry.MustRegister(RouteTransitions, StopUpdates, Incidents, Shifts, AutoGenerate, SchedulerRuns, StreamClients)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
