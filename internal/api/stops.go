package api

import (
    "net/http"

    "wasteroute/internal/metrics"
    "wasteroute/internal/model"
)

// stopsHandler serves /api/routes/{id}/stops with the remaining path segments.
func (s *Server) stopsHandler(w http.ResponseWriter, r *http.Request, routeID int64, parts []string) {
    if len(parts) == 0 {
        if r.Method != http.MethodPost { methodNotAllowed(w, r); return }
        if _, ok := s.requireRole(w, r, model.RoleAdmin); !ok { return }
        var in model.StopInput
        if !decodeJSON(w, r, &in) { return }
        rt, err := s.Store.CreateStop(r.Context(), routeID, in)
        if err != nil { writeError(w, r, err); return }
        writeJSON(w, http.StatusCreated, rt)
        return
    }
    stopID, ok := parseID(parts[0])
    if !ok { badID(w, r, "stop"); return }
    switch {
    case len(parts) == 1:
        if r.Method != http.MethodPut { methodNotAllowed(w, r); return }
        s.updateStop(w, r, routeID, stopID)
    case len(parts) == 2 && parts[1] == "plan":
        s.stopPlan(w, r, routeID, stopID)
    case len(parts) == 2 && parts[1] == "events":
        if r.Method != http.MethodGet { methodNotAllowed(w, r); return }
        if _, ok := s.authenticate(w, r); !ok { return }
        items, err := s.Store.ListStopEvents(r.Context(), routeID, stopID)
        if err != nil { writeError(w, r, err); return }
        writeJSON(w, http.StatusOK, items)
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
    }
}

// updateStop applies a driver's status/capacity/note replacement.
func (s *Server) updateStop(w http.ResponseWriter, r *http.Request, routeID, stopID int64) {
    p, ok := s.requireRole(w, r, model.RoleDriver, model.RoleAdmin)
    if !ok { return }
    var upd model.StopUpdate
    if !decodeJSON(w, r, &upd) { return }
    rt, err := s.Store.UpdateStop(r.Context(), routeID, stopID, p.UserID, p.IsAdmin(), upd)
    if err != nil { writeError(w, r, err); return }
    metrics.StopUpdates.WithLabelValues(string(upd.Status)).Inc()
    s.emitStop(r.Context(), rt, stopID)
    writeJSON(w, http.StatusOK, rt)
}

func (s *Server) stopPlan(w http.ResponseWriter, r *http.Request, routeID, stopID int64) {
    if _, ok := s.requireRole(w, r, model.RoleAdmin); !ok { return }
    switch r.Method {
    case http.MethodPut:
        var in model.StopInput
        if !decodeJSON(w, r, &in) { return }
        rt, err := s.Store.UpdateStopPlan(r.Context(), routeID, stopID, in)
        if err != nil { writeError(w, r, err); return }
        writeJSON(w, http.StatusOK, rt)
    case http.MethodDelete:
        rt, err := s.Store.DeleteStop(r.Context(), routeID, stopID)
        if err != nil { writeError(w, r, err); return }
        writeJSON(w, http.StatusOK, rt)
    default:
        methodNotAllowed(w, r)
    }
}
