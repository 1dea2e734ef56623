package api

import (
    "net/http"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "wasteroute/internal/metrics"
)

// Handler assembles the routing table and wraps it in the middleware chain.
func (s *Server) Handler() http.Handler {
    mux := http.NewServeMux()

    // Session
    mux.HandleFunc("/login", s.LoginHandler)
    mux.HandleFunc("/logout", s.LogoutHandler)
    mux.HandleFunc("/me", s.MeHandler)

    // Shifts
    mux.HandleFunc("/api/shifts", s.ShiftsHandler)
    mux.HandleFunc("/api/shifts/", s.ShiftsHandler) // open, my/current, {id}/close, driver/{id}
    mux.HandleFunc("/api/admin/shifts/", s.AdminShiftCloseHandler)

    // Routes, stops and route event streams
    mux.HandleFunc("/api/routes", s.RoutesHandler)
    mux.HandleFunc("/api/routes/", s.RoutesHandler)

    // Incidents
    mux.HandleFunc("/api/incidents", s.IncidentsHandler)
    mux.HandleFunc("/api/incidents/", s.IncidentsHandler)

    // Reference data
    for name, h := range s.ReferenceHandlers() {
        mux.HandleFunc("/api/"+name, h)
        mux.HandleFunc("/api/"+name+"/", h)
    }

    // Admin: webhooks
    mux.HandleFunc("/api/admin/subscriptions", s.SubscriptionsHandler)
    mux.HandleFunc("/api/admin/subscriptions/", s.SubscriptionsHandler)
    mux.HandleFunc("/api/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
    mux.HandleFunc("/api/admin/webhook-deliveries/", s.WebhookDeliveriesHandler)

    // Ops
    mux.HandleFunc("/healthz", s.HealthHandler)
    mux.HandleFunc("/readyz", s.ReadyHandler)
    mux.HandleFunc("/debug/info", s.DebugJSON)
    mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
    mux.HandleFunc("/openapi.json", s.OpenAPIJSONHandler)
    mux.HandleFunc("/docs", s.DocsHandler)
    metrics.RegisterDefault()
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

    var h http.Handler = mux
    if s.Config.RateRPS > 0 {
        h = NewRateLimiter(s.Config.RateRPS, s.Config.RateBurst).Middleware(h)
    }
    h = CORSMiddleware(s.Config.AllowOrigins, h)
    return LogMiddleware(h)
}
