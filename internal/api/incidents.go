package api

import (
    "net/http"
    "strconv"
    "strings"

    "wasteroute/internal/metrics"
    "wasteroute/internal/model"
)

// IncidentsHandler handles /api/incidents, /api/incidents/{id} and
// /api/incidents/{id}/resolve
func (s *Server) IncidentsHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/incidents"), "/")
    if rest == "" {
        switch r.Method {
        case http.MethodPost:
            s.raiseIncident(w, r)
        case http.MethodGet:
            s.listIncidents(w, r)
        default:
            methodNotAllowed(w, r)
        }
        return
    }
    parts := strings.Split(rest, "/")
    id, ok := parseID(parts[0])
    if !ok { badID(w, r, "incident"); return }
    switch {
    case len(parts) == 1 && r.Method == http.MethodGet:
        if _, ok := s.authenticate(w, r); !ok { return }
        inc, err := s.Store.GetIncident(r.Context(), id)
        if err != nil { writeError(w, r, err); return }
        writeJSON(w, http.StatusOK, inc)
    case len(parts) == 1 && r.Method == http.MethodPut:
        if _, ok := s.requireRole(w, r, model.RoleAdmin); !ok { return }
        var in model.IncidentInput
        if !decodeJSON(w, r, &in) { return }
        inc, err := s.Store.UpdateIncident(r.Context(), id, in)
        if err != nil { writeError(w, r, err); return }
        writeJSON(w, http.StatusOK, inc)
    case len(parts) == 1:
        methodNotAllowed(w, r)
    case len(parts) == 2 && parts[1] == "resolve":
        if r.Method != http.MethodPut { methodNotAllowed(w, r); return }
        if _, ok := s.requireRole(w, r, model.RoleAdmin); !ok { return }
        inc, err := s.Store.ResolveIncident(r.Context(), id)
        if err != nil { writeError(w, r, err); return }
        metrics.Incidents.WithLabelValues(string(inc.Type), "resolved").Inc()
        s.emitIncident(r.Context(), "incident.resolved", inc)
        writeJSON(w, http.StatusOK, inc)
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
    }
}

func (s *Server) raiseIncident(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requireRole(w, r, model.RoleDriver, model.RoleAdmin)
    if !ok { return }
    var in model.IncidentInput
    if !decodeJSON(w, r, &in) { return }
    inc, err := s.Store.CreateIncident(r.Context(), in, p.Login, p.UserID, p.IsAdmin())
    if err != nil { writeError(w, r, err); return }
    metrics.Incidents.WithLabelValues(string(inc.Type), "raised").Inc()
    s.emitIncident(r.Context(), "incident.raised", inc)
    if in.MarkUnavailable {
        metrics.StopUpdates.WithLabelValues(string(model.StopUnavailable)).Inc()
        if rt, err := s.Store.GetRoute(r.Context(), inc.RouteID); err == nil {
            s.emitStop(r.Context(), rt, inc.StopID)
        }
    }
    writeJSON(w, http.StatusCreated, inc)
}

func (s *Server) listIncidents(w http.ResponseWriter, r *http.Request) {
    if _, ok := s.authenticate(w, r); !ok { return }
    q := r.URL.Query()
    var f model.IncidentFilter
    if v := q.Get("resolved"); v != "" {
        b, err := strconv.ParseBool(v)
        if err != nil { writeProblem(w, http.StatusBadRequest, "Bad Request", "resolved must be true or false", r.URL.Path); return }
        f.Resolved = &b
    }
    if v := q.Get("stopId"); v != "" {
        id, ok := parseID(v)
        if !ok { badID(w, r, "stop"); return }
        f.StopID = &id
    }
    if v := q.Get("routeId"); v != "" {
        id, ok := parseID(v)
        if !ok { badID(w, r, "route"); return }
        f.RouteID = &id
    }
    items, err := s.Store.ListIncidents(r.Context(), f)
    if err != nil { writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, items)
}
