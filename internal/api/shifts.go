package api

import (
    "errors"
    "io"
    "net/http"
    "strings"

    "wasteroute/internal/metrics"
    "wasteroute/internal/model"
)

// ShiftsHandler handles /api/shifts, /api/shifts/open, /api/shifts/my/current,
// /api/shifts/{id}/close and /api/shifts/driver/{driverId}
func (s *Server) ShiftsHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/shifts"), "/")
    parts := strings.Split(rest, "/")
    switch {
    case rest == "":
        if r.Method != http.MethodGet { methodNotAllowed(w, r); return }
        if _, ok := s.requireRole(w, r, model.RoleAdmin); !ok { return }
        s.listShifts(w, r, nil)
    case rest == "open":
        if r.Method != http.MethodPost { methodNotAllowed(w, r); return }
        s.openShift(w, r)
    case rest == "my/current":
        if r.Method != http.MethodGet { methodNotAllowed(w, r); return }
        p, ok := s.requireRole(w, r, model.RoleDriver)
        if !ok { return }
        sh, err := s.Store.CurrentShift(r.Context(), p.UserID)
        if err != nil { writeError(w, r, err); return }
        writeJSON(w, http.StatusOK, sh)
    case len(parts) == 2 && parts[0] == "driver":
        if r.Method != http.MethodGet { methodNotAllowed(w, r); return }
        if _, ok := s.requireRole(w, r, model.RoleAdmin); !ok { return }
        id, ok := parseID(parts[1])
        if !ok { badID(w, r, "driver"); return }
        s.listShifts(w, r, &id)
    case len(parts) == 2 && parts[1] == "close":
        if r.Method != http.MethodPut { methodNotAllowed(w, r); return }
        p, ok := s.requireRole(w, r, model.RoleDriver)
        if !ok { return }
        s.closeShift(w, r, parts[0], p.UserID, false)
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
    }
}

// AdminShiftCloseHandler handles PUT /api/admin/shifts/{id}/close
func (s *Server) AdminShiftCloseHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/admin/shifts/"), "/")
    parts := strings.Split(rest, "/")
    if len(parts) != 2 || parts[1] != "close" { writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodPut { methodNotAllowed(w, r); return }
    p, ok := s.requireRole(w, r, model.RoleAdmin)
    if !ok { return }
    s.closeShift(w, r, parts[0], p.UserID, true)
}

func (s *Server) openShift(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requireRole(w, r, model.RoleDriver)
    if !ok { return }
    var req model.ShiftOpenRequest
    if !decodeOptionalJSON(w, r, &req) { return }
    sh, err := s.Store.OpenShift(r.Context(), p.UserID, req.VehicleID)
    if err != nil { writeError(w, r, err); return }
    metrics.Shifts.WithLabelValues("open").Inc()
    s.emitShift(r.Context(), "shift.opened", sh)
    writeJSON(w, http.StatusCreated, sh)
}

func (s *Server) closeShift(w http.ResponseWriter, r *http.Request, rawID string, callerID int64, admin bool) {
    id, ok := parseID(rawID)
    if !ok { badID(w, r, "shift"); return }
    sh, err := s.Store.CloseShift(r.Context(), id, callerID, admin)
    if err != nil { writeError(w, r, err); return }
    metrics.Shifts.WithLabelValues("close").Inc()
    s.emitShift(r.Context(), "shift.closed", sh)
    writeJSON(w, http.StatusOK, sh)
}

func (s *Server) listShifts(w http.ResponseWriter, r *http.Request, driverID *int64) {
    items, err := s.Store.ListShifts(r.Context(), driverID)
    if err != nil { writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, items)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
    if r.Body == nil || r.ContentLength == 0 { return true }
    if err := jsonDecode(r, v); err != nil && !errors.Is(err, io.EOF) {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return false
    }
    return true
}
