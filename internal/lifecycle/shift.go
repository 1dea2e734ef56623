package lifecycle

import (
    "fmt"
    "time"

    "wasteroute/internal/model"
)

// CanOpenShift fails when the driver already holds an open shift.
func CanOpenShift(current *model.Shift) error {
    if current != nil && current.Status == model.ShiftOpen {
        return fmt.Errorf("%w: Driver already has an open shift: %d", ErrConflict, current.ID)
    }
    return nil
}

// NewShift builds an open shift for the driver.
func NewShift(driverID int64, vehicleID *int64, now time.Time) model.Shift {
    return model.Shift{DriverID: driverID, VehicleID: vehicleID, Status: model.ShiftOpen, OpenedAt: now}
}

// CanCloseShift checks ownership, status and that no route bound to the
// shift is still being executed.
func CanCloseShift(sh model.Shift, callerID int64, admin bool, activeRoutes int) error {
    if !admin && sh.DriverID != callerID {
        return fmt.Errorf("%w: shift %d belongs to another driver", ErrForbidden, sh.ID)
    }
    if sh.Status != model.ShiftOpen {
        return fmt.Errorf("%w: Shift is already closed", ErrPrecondition)
    }
    if activeRoutes > 0 {
        return fmt.Errorf("%w: shift has %d route(s) in progress", ErrPrecondition, activeRoutes)
    }
    return nil
}

func CloseShift(sh *model.Shift, now time.Time) {
    sh.Status = model.ShiftClosed
    t := now
    sh.ClosedAt = &t
}
