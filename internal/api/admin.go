package api

import (
    "net/http"
    "net/url"
    "strconv"
    "strings"

    "wasteroute/internal/model"
    "wasteroute/internal/store"
)

// EventTypes lists the events a webhook subscription may ask for; "*"
// matches all of them.
var EventTypes = []string{
    "route.assigned", "route.started", "route.completed", "route.cancelled",
    "stop.updated", "incident.raised", "incident.resolved",
    "shift.opened", "shift.closed",
}

func validateSubscription(req model.SubscriptionRequest) error {
    u, err := url.Parse(req.URL)
    if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
        return invalidf("url must be an absolute http(s) URL")
    }
    if len(req.Events) == 0 { return invalidf("events must not be empty") }
    known := map[string]bool{"*": true}
    for _, e := range EventTypes { known[e] = true }
    for _, e := range req.Events {
        if !known[e] { return invalidf("unknown event type %q", e) }
    }
    return nil
}

// SubscriptionsHandler handles /api/admin/subscriptions and DELETE /api/admin/subscriptions/{id}
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    if _, ok := s.requireRole(w, r, model.RoleAdmin); !ok { return }
    id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/admin/subscriptions"), "/")
    if id != "" {
        if r.Method != http.MethodDelete { methodNotAllowed(w, r); return }
        if err := s.Store.DeleteSubscription(r.Context(), id); err != nil { writeError(w, r, err); return }
        w.WriteHeader(http.StatusNoContent)
        return
    }
    switch r.Method {
    case http.MethodPost:
        var req model.SubscriptionRequest
        if !decodeJSON(w, r, &req) { return }
        if err := validateSubscription(req); err != nil { writeError(w, r, err); return }
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil { writeError(w, r, err); return }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        items, err := s.Store.ListSubscriptions(r.Context())
        if err != nil { writeError(w, r, err); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
    default:
        methodNotAllowed(w, r)
    }
}

// WebhookDeliveriesHandler handles GET /api/admin/webhook-deliveries and
// POST /api/admin/webhook-deliveries/{id}/retry
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
    if _, ok := s.requireRole(w, r, model.RoleAdmin); !ok { return }
    rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/admin/webhook-deliveries"), "/")
    if rest == "" {
        if r.Method != http.MethodGet { methodNotAllowed(w, r); return }
        status := r.URL.Query().Get("status")
        switch status {
        case "", store.DeliveryPending, store.DeliveryRetry, store.DeliveryDelivered, store.DeliveryFailed:
        default:
            writeProblem(w, http.StatusBadRequest, "Bad Request", "unknown delivery status "+strconv.Quote(status), r.URL.Path)
            return
        }
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" {
            n, err := strconv.Atoi(v)
            if err != nil { writeProblem(w, http.StatusBadRequest, "Bad Request", "limit must be a number", r.URL.Path); return }
            limit = n
        }
        items, err := s.Store.ListWebhookDeliveries(r.Context(), status, limit)
        if err != nil { writeError(w, r, err); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
        return
    }
    id, ok := strings.CutSuffix(rest, "/retry")
    if !ok || id == "" || strings.Contains(id, "/") { writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodPost { methodNotAllowed(w, r); return }
    if err := s.Store.RetryWebhookDelivery(r.Context(), id); err != nil { writeError(w, r, err); return }
    writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
}
