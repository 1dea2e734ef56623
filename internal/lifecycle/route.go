package lifecycle

import (
    "fmt"
    "time"

    "wasteroute/internal/model"
)

// CanAssign allows (re)assignment only before execution starts.
func CanAssign(r model.Route) error {
    if r.Status != model.RoutePlanned {
        return fmt.Errorf("%w: Route cannot be assigned. Current status: %s", ErrPrecondition, r.Status)
    }
    return nil
}

func ApplyAssign(r *model.Route, req model.AssignRequest) {
    d := req.DriverID
    r.DriverID = &d
    r.PlannedStartAt = req.PlannedStartAt
    r.PlannedEndAt = req.PlannedEndAt
}

// CanStart requires a planned route owned by (or unassigned and claimable
// by) the driver, and an open shift for that driver.
func CanStart(r model.Route, driverID int64, shift *model.Shift) error {
    if r.Status != model.RoutePlanned {
        return fmt.Errorf("%w: Route cannot be started. Current status: %s", ErrPrecondition, r.Status)
    }
    if r.DriverID != nil && *r.DriverID != driverID {
        return fmt.Errorf("%w: route %d is assigned to another driver", ErrPrecondition, r.ID)
    }
    if shift == nil || shift.Status != model.ShiftOpen || shift.DriverID != driverID {
        return fmt.Errorf("%w: Driver has no open shift", ErrPrecondition)
    }
    return nil
}

// ApplyStart binds the route to the shift. The shift vehicle is used only
// when the route has none.
func ApplyStart(r *model.Route, sh model.Shift, now time.Time) {
    d := sh.DriverID
    r.DriverID = &d
    sid := sh.ID
    r.ShiftID = &sid
    if r.VehicleID == nil && sh.VehicleID != nil {
        v := *sh.VehicleID
        r.VehicleID = &v
    }
    r.Status = model.RouteInProgress
    t := now
    r.StartedAt = &t
}

func CanFinish(r model.Route, callerID int64, admin bool) error {
    if err := ownsRoute(r, callerID, admin); err != nil { return err }
    if r.Status != model.RouteInProgress {
        return fmt.Errorf("%w: Route cannot be completed. Current status: %s", ErrPrecondition, r.Status)
    }
    return nil
}

// ApplyFinish forces every non-terminal stop to skipped and completes the
// route. It returns the indexes of the stops it changed.
func ApplyFinish(r *model.Route, now time.Time) []int {
    var changed []int
    for i := range r.Stops {
        if !r.Stops[i].Status.Terminal() {
            r.Stops[i].Status = model.StopSkipped
            changed = append(changed, i)
        }
    }
    r.Status = model.RouteCompleted
    t := now
    r.FinishedAt = &t
    return changed
}

func CanCancel(r model.Route) error {
    switch r.Status {
    case model.RouteCompleted:
        return fmt.Errorf("%w: Completed routes cannot be cancelled", ErrPrecondition)
    case model.RouteCancelled:
        return fmt.Errorf("%w: Route is already cancelled", ErrPrecondition)
    }
    return nil
}

func ApplyCancel(r *model.Route, now time.Time) {
    r.Status = model.RouteCancelled
    t := now
    r.FinishedAt = &t
}

// CanDelete refuses to drop a route that a driver is executing.
func CanDelete(r model.Route) error {
    if r.Status == model.RouteInProgress {
        return fmt.Errorf("%w: route %d is in progress", ErrConflict, r.ID)
    }
    return nil
}

// CanEditPlan guards admin edits of the route plan and its stops.
func CanEditPlan(r model.Route) error {
    if r.Status != model.RoutePlanned {
        return fmt.Errorf("%w: route plan can only change while planned, current status: %s", ErrPrecondition, r.Status)
    }
    return nil
}

func ValidateRouteInput(in model.RouteInput) error {
    if in.PlannedDate != "" {
        if _, err := time.Parse(time.DateOnly, in.PlannedDate); err != nil {
            return fmt.Errorf("%w: plannedDate must be YYYY-MM-DD", ErrInvalid)
        }
    }
    if in.PlannedStartAt != nil && in.PlannedEndAt != nil && in.PlannedEndAt.Before(*in.PlannedStartAt) {
        return fmt.Errorf("%w: plannedEndAt must not precede plannedStartAt", ErrInvalid)
    }
    for i, s := range in.Stops {
        if err := ValidateStopInput(s); err != nil {
            return fmt.Errorf("stops[%d]: %w", i, err)
        }
    }
    return nil
}

func ValidateAssign(req model.AssignRequest) error {
    if req.DriverID <= 0 {
        return fmt.Errorf("%w: driverId is required", ErrInvalid)
    }
    if req.PlannedStartAt != nil && req.PlannedEndAt != nil && req.PlannedEndAt.Before(*req.PlannedStartAt) {
        return fmt.Errorf("%w: plannedEndAt must not precede plannedStartAt", ErrInvalid)
    }
    return nil
}

func ownsRoute(r model.Route, callerID int64, admin bool) error {
    if admin { return nil }
    if r.DriverID == nil || *r.DriverID != callerID {
        return fmt.Errorf("%w: route %d is not assigned to you", ErrForbidden, r.ID)
    }
    return nil
}
