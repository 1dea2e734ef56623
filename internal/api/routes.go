package api

import (
    "fmt"
    "net/http"
    "strings"
    "time"

    "wasteroute/internal/auth"
    "wasteroute/internal/lifecycle"
    "wasteroute/internal/metrics"
    "wasteroute/internal/model"
)

// RoutesHandler handles /api/routes and everything below it:
// /my, /auto-generate, /{id}, /{id}/my, /{id}/{start,accept,finish,assign,cancel},
// /{id}/stops[/{stopId}[/plan|/events]] and /{id}/events/{stream,ws}
func (s *Server) RoutesHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/routes"), "/")
    if rest == "" {
        switch r.Method {
        case http.MethodGet:
            if _, ok := s.requireRole(w, r, model.RoleAdmin); !ok { return }
            s.listRoutes(w, r, nil)
        case http.MethodPost:
            s.createRoute(w, r)
        default:
            methodNotAllowed(w, r)
        }
        return
    }
    parts := strings.Split(rest, "/")
    switch parts[0] {
    case "my":
        if len(parts) != 1 { break }
        if r.Method != http.MethodGet { methodNotAllowed(w, r); return }
        p, ok := s.requireRole(w, r, model.RoleDriver)
        if !ok { return }
        s.listRoutes(w, r, &p.UserID)
        return
    case "auto-generate":
        if len(parts) != 1 { break }
        if r.Method != http.MethodPost { methodNotAllowed(w, r); return }
        s.autoGenerate(w, r)
        return
    }
    id, ok := parseID(parts[0])
    if !ok { badID(w, r, "route"); return }
    if len(parts) == 1 {
        s.routeByID(w, r, id)
        return
    }
    switch parts[1] {
    case "my":
        if len(parts) != 2 { break }
        if r.Method != http.MethodGet { methodNotAllowed(w, r); return }
        s.myRoute(w, r, id)
        return
    case "start", "accept", "finish", "assign", "cancel":
        if len(parts) != 2 { break }
        if r.Method != http.MethodPut { methodNotAllowed(w, r); return }
        s.routeAction(w, r, id, parts[1])
        return
    case "stops":
        s.stopsHandler(w, r, id, parts[2:])
        return
    case "events":
        if len(parts) != 3 { break }
        if r.Method != http.MethodGet { methodNotAllowed(w, r); return }
        switch parts[2] {
        case "stream":
            s.RouteEventsStreamHandler(w, r, id)
            return
        case "ws":
            s.RouteEventsWSHandler(w, r, id)
            return
        }
    }
    writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
}

func (s *Server) listRoutes(w http.ResponseWriter, r *http.Request, driverID *int64) {
    q := r.URL.Query()
    f := model.RouteFilter{Status: model.RouteStatus(q.Get("status")), Date: q.Get("date"), DriverID: driverID}
    if f.Status != "" && !f.Status.Valid() {
        writeProblem(w, http.StatusBadRequest, "Bad Request", fmt.Sprintf("unknown route status %q", f.Status), r.URL.Path)
        return
    }
    if f.Date != "" {
        if _, err := time.Parse(time.DateOnly, f.Date); err != nil {
            writeProblem(w, http.StatusBadRequest, "Bad Request", "date must be YYYY-MM-DD", r.URL.Path)
            return
        }
    }
    if v := q.Get("driverId"); v != "" && driverID == nil {
        id, ok := parseID(v)
        if !ok { badID(w, r, "driver"); return }
        f.DriverID = &id
    }
    items, err := s.Store.ListRoutes(r.Context(), f)
    if err != nil { writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, items)
}

func (s *Server) createRoute(w http.ResponseWriter, r *http.Request) {
    if _, ok := s.requireRole(w, r, model.RoleAdmin); !ok { return }
    var in model.RouteInput
    if !decodeJSON(w, r, &in) { return }
    rt, err := s.Store.CreateRoute(r.Context(), in)
    if err != nil { writeError(w, r, err); return }
    writeJSON(w, http.StatusCreated, rt)
}

func (s *Server) routeByID(w http.ResponseWriter, r *http.Request, id int64) {
    if _, ok := s.requireRole(w, r, model.RoleAdmin); !ok { return }
    switch r.Method {
    case http.MethodGet:
        rt, err := s.Store.GetRoute(r.Context(), id)
        if err != nil { writeError(w, r, err); return }
        writeJSON(w, http.StatusOK, rt)
    case http.MethodPut:
        var in model.RouteInput
        if !decodeJSON(w, r, &in) { return }
        rt, err := s.Store.UpdateRoute(r.Context(), id, in)
        if err != nil { writeError(w, r, err); return }
        writeJSON(w, http.StatusOK, rt)
    case http.MethodDelete:
        if err := s.Store.DeleteRoute(r.Context(), id); err != nil { writeError(w, r, err); return }
        w.WriteHeader(http.StatusNoContent)
    default:
        methodNotAllowed(w, r)
    }
}

// myRoute returns a route of the calling driver; routes of other drivers
// read as not found.
func (s *Server) myRoute(w http.ResponseWriter, r *http.Request, id int64) {
    p, ok := s.requireRole(w, r, model.RoleDriver)
    if !ok { return }
    rt, err := s.Store.GetRoute(r.Context(), id)
    if err == nil && (rt.DriverID == nil || *rt.DriverID != p.UserID) {
        err = fmt.Errorf("%w: route %d", lifecycle.ErrNotFound, id)
    }
    if err != nil { writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, rt)
}

func (s *Server) routeAction(w http.ResponseWriter, r *http.Request, id int64, action string) {
    var (
        rt    model.Route
        err   error
        event string
        p     auth.Principal
        ok    bool
    )
    switch action {
    case "start", "accept":
        if p, ok = s.requireRole(w, r, model.RoleDriver); !ok { return }
        rt, err = s.Store.StartRoute(r.Context(), id, p.UserID)
        event = "route.started"
    case "finish":
        if p, ok = s.requireRole(w, r, model.RoleDriver, model.RoleAdmin); !ok { return }
        rt, err = s.Store.FinishRoute(r.Context(), id, p.UserID, p.IsAdmin())
        event = "route.completed"
    case "assign":
        if _, ok = s.requireRole(w, r, model.RoleAdmin); !ok { return }
        var req model.AssignRequest
        if !decodeJSON(w, r, &req) { return }
        rt, err = s.Store.AssignRoute(r.Context(), id, req)
        event = "route.assigned"
    case "cancel":
        if _, ok = s.requireRole(w, r, model.RoleAdmin); !ok { return }
        rt, err = s.Store.CancelRoute(r.Context(), id)
        event = "route.cancelled"
    }
    if err != nil { writeError(w, r, err); return }
    if action != "assign" { metrics.RouteTransitions.WithLabelValues(string(rt.Status)).Inc() }
    s.emitRoute(r.Context(), event, rt)
    writeJSON(w, http.StatusOK, rt)
}
