package lifecycle

import (
    "fmt"
    "time"

    "wasteroute/internal/model"
)

func ValidateIncidentInput(in model.IncidentInput) error {
    if in.StopID <= 0 {
        return fmt.Errorf("%w: stopId is required", ErrInvalid)
    }
    if !in.Type.Valid() {
        return fmt.Errorf("%w: unknown incident type %q", ErrInvalid, in.Type)
    }
    return nil
}

// CanReport lets drivers raise incidents only on stops of their own routes.
func CanReport(r model.Route, callerID int64, admin bool) error {
    return ownsRoute(r, callerID, admin)
}

func CanResolve(inc model.Incident) error {
    if inc.Resolved {
        return fmt.Errorf("%w: Incident is already resolved", ErrPrecondition)
    }
    return nil
}

func ApplyResolve(inc *model.Incident, now time.Time) {
    inc.Resolved = true
    t := now
    inc.ResolvedAt = &t
    inc.UpdatedAt = now
}

// IncidentNote is the stop note recorded when an incident makes a stop
// unavailable.
func IncidentNote(t model.IncidentType) string {
    return "Инцидент: " + t.Label()
}

// CanMarkUnavailable checks the stop update an incident asks for. Unlike a
// plain update it never touches a stop that already has an outcome.
func CanMarkUnavailable(r model.Route, st model.Stop, callerID int64, admin bool) error {
    if st.Status.Terminal() {
        return fmt.Errorf("%w: stop %d is already %s", ErrPrecondition, st.ID, st.Status)
    }
    return ValidateStopUpdate(r, st, callerID, admin, UnavailableUpdate(model.IncidentOther))
}

// UnavailableUpdate is the stop update that accompanies an incident.
func UnavailableUpdate(t model.IncidentType) model.StopUpdate {
    note := IncidentNote(t)
    return model.StopUpdate{Status: model.StopUnavailable, Note: &note}
}
