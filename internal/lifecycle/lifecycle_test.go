package lifecycle

import (
    "errors"
    "math"
    "strings"
    "testing"
    "time"

    "wasteroute/internal/model"
)

func i64(v int64) *int64 { return &v }
func str(v string) *string { return &v }

var now = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func TestShiftGate(t *testing.T) {
    if err := CanOpenShift(nil); err != nil { t.Fatalf("open without shift: %v", err) }
    open := NewShift(7, i64(3), now)
    open.ID = 11
    err := CanOpenShift(&open)
    if !errors.Is(err, ErrConflict) { t.Fatalf("want conflict, got %v", err) }
    if !strings.Contains(err.Error(), "Driver already has an open shift: 11") { t.Fatalf("message: %v", err) }

    if err := CanCloseShift(open, 8, false, 0); !errors.Is(err, ErrForbidden) { t.Fatalf("other driver close: %v", err) }
    if err := CanCloseShift(open, 7, false, 1); !errors.Is(err, ErrPrecondition) { t.Fatalf("active routes close: %v", err) }
    if err := CanCloseShift(open, 1, true, 0); err != nil { t.Fatalf("admin close: %v", err) }
    CloseShift(&open, now)
    if open.Status != model.ShiftClosed || open.ClosedAt == nil { t.Fatalf("close not applied: %+v", open) }
    err = CanCloseShift(open, 7, false, 0)
    if !errors.Is(err, ErrPrecondition) || !strings.Contains(err.Error(), "Shift is already closed") { t.Fatalf("double close: %v", err) }
    if err := CanOpenShift(&open); err != nil { t.Fatalf("closed shift must not block: %v", err) }
}

func TestStartRequiresOpenShift(t *testing.T) {
    r := model.Route{ID: 5, Status: model.RoutePlanned}
    err := CanStart(r, 7, nil)
    if !errors.Is(err, ErrPrecondition) || !strings.Contains(err.Error(), "Driver has no open shift") { t.Fatalf("no shift: %v", err) }

    sh := NewShift(7, i64(3), now)
    sh.ID = 2
    if err := CanStart(r, 7, &sh); err != nil { t.Fatalf("start: %v", err) }
    ApplyStart(&r, sh, now)
    if r.Status != model.RouteInProgress || *r.DriverID != 7 || *r.ShiftID != 2 || *r.VehicleID != 3 || r.StartedAt == nil {
        t.Fatalf("start not applied: %+v", r)
    }
    err = CanStart(r, 7, &sh)
    if !errors.Is(err, ErrPrecondition) || !strings.Contains(err.Error(), "Current status: in_progress") { t.Fatalf("restart: %v", err) }
}

func TestStartKeepsRouteVehicleAndDriver(t *testing.T) {
    r := model.Route{ID: 1, Status: model.RoutePlanned, DriverID: i64(9), VehicleID: i64(4)}
    sh := NewShift(7, i64(3), now)
    if err := CanStart(r, 7, &sh); !errors.Is(err, ErrPrecondition) { t.Fatalf("foreign route: %v", err) }
    r.DriverID = i64(7)
    ApplyStart(&r, sh, now)
    if *r.VehicleID != 4 { t.Fatalf("vehicle overwritten: %d", *r.VehicleID) }
}

func TestFinishSkipsOpenStops(t *testing.T) {
    r := model.Route{ID: 1, Status: model.RouteInProgress, DriverID: i64(7), Stops: []model.Stop{
        {ID: 1, SeqNo: 1, Status: model.StopDone},
        {ID: 2, SeqNo: 2, Status: model.StopArrived},
        {ID: 3, SeqNo: 3, Status: model.StopPlanned},
        {ID: 4, SeqNo: 4, Status: model.StopUnavailable},
    }}
    if err := CanFinish(r, 8, false); !errors.Is(err, ErrForbidden) { t.Fatalf("foreign finish: %v", err) }
    if err := CanFinish(r, 7, false); err != nil { t.Fatalf("finish: %v", err) }
    changed := ApplyFinish(&r, now)
    if len(changed) != 2 || changed[0] != 1 || changed[1] != 2 { t.Fatalf("changed: %v", changed) }
    for _, s := range r.Stops {
        if !s.Status.Terminal() { t.Fatalf("stop %d left %s", s.ID, s.Status) }
    }
    if r.Stops[3].Status != model.StopUnavailable { t.Fatalf("terminal stop rewritten") }
    if err := CanFinish(r, 7, false); !errors.Is(err, ErrPrecondition) { t.Fatalf("double finish: %v", err) }
}

func TestCancelDeleteEdit(t *testing.T) {
    cases := []struct {
        status            model.RouteStatus
        cancel, del, edit error
    }{
        {model.RoutePlanned, nil, nil, nil},
        {model.RouteInProgress, nil, ErrConflict, ErrPrecondition},
        {model.RouteCompleted, ErrPrecondition, nil, ErrPrecondition},
        {model.RouteCancelled, ErrPrecondition, nil, ErrPrecondition},
    }
    for _, c := range cases {
        r := model.Route{ID: 1, Status: c.status}
        if err := CanCancel(r); !errors.Is(err, c.cancel) { t.Errorf("%s cancel: %v", c.status, err) }
        if err := CanDelete(r); !errors.Is(err, c.del) { t.Errorf("%s delete: %v", c.status, err) }
        if err := CanEditPlan(r); !errors.Is(err, c.edit) { t.Errorf("%s edit: %v", c.status, err) }
    }
    err := CanCancel(model.Route{Status: model.RouteCompleted})
    if !strings.Contains(err.Error(), "Completed routes cannot be cancelled") { t.Fatalf("message: %v", err) }
}

func TestStopUpdateRules(t *testing.T) {
    r := model.Route{ID: 5, Status: model.RouteInProgress, DriverID: i64(7)}
    st := model.Stop{ID: 42, RouteID: 5, Status: model.StopArrived}
    ok := model.StopUpdate{Status: model.StopDone}
    if err := ValidateStopUpdate(r, st, 7, false, ok); err != nil { t.Fatalf("valid update: %v", err) }
    if err := ValidateStopUpdate(r, st, 7, false, model.StopUpdate{Status: "flying"}); !errors.Is(err, ErrInvalid) { t.Fatalf("bad status: %v", err) }
    neg := -1.0
    if err := ValidateStopUpdate(r, st, 7, false, model.StopUpdate{Status: model.StopDone, ActualCapacity: &neg}); !errors.Is(err, ErrInvalid) { t.Fatalf("negative capacity: %v", err) }
    nan := math.NaN()
    if err := ValidateStopUpdate(r, st, 7, false, model.StopUpdate{Status: model.StopDone, ActualCapacity: &nan}); !errors.Is(err, ErrInvalid) { t.Fatalf("NaN capacity: %v", err) }
    if err := ValidateStopUpdate(r, st, 8, false, ok); !errors.Is(err, ErrForbidden) { t.Fatalf("foreign driver: %v", err) }
    if err := ValidateStopUpdate(r, st, 1, true, ok); err != nil { t.Fatalf("admin: %v", err) }

    planned := r
    planned.Status = model.RoutePlanned
    if err := ValidateStopUpdate(planned, st, 7, false, ok); !errors.Is(err, ErrPrecondition) { t.Fatalf("planned route: %v", err) }

    done := st
    done.Status = model.StopDone
    if err := ValidateStopUpdate(r, done, 7, false, model.StopUpdate{Status: model.StopArrived}); !errors.Is(err, ErrPrecondition) { t.Fatalf("revert terminal: %v", err) }
    for _, next := range []model.StopStatus{model.StopSkipped, model.StopUnavailable} {
        if err := ValidateStopUpdate(r, done, 7, false, model.StopUpdate{Status: next}); !errors.Is(err, ErrPrecondition) { t.Fatalf("done to %s: %v", next, err) }
    }
    if err := ValidateStopUpdate(r, done, 7, false, model.StopUpdate{Status: model.StopDone, Note: str("late note")}); err != nil { t.Fatalf("same terminal status: %v", err) }
}

func TestMarkUnavailableRules(t *testing.T) {
    r := model.Route{ID: 5, Status: model.RouteInProgress, DriverID: i64(7)}
    st := model.Stop{ID: 42, RouteID: 5, Status: model.StopArrived}
    if err := CanMarkUnavailable(r, st, 7, false); err != nil { t.Fatalf("open stop: %v", err) }
    if err := CanMarkUnavailable(r, st, 8, false); !errors.Is(err, ErrForbidden) { t.Fatalf("foreign driver: %v", err) }
    for _, s := range []model.StopStatus{model.StopDone, model.StopSkipped, model.StopUnavailable} {
        st.Status = s
        if err := CanMarkUnavailable(r, st, 7, true); !errors.Is(err, ErrPrecondition) { t.Fatalf("%s stop: %v", s, err) }
    }
    if err := CanReport(model.Route{ID: 5}, 7, false); !errors.Is(err, ErrForbidden) { t.Fatalf("unassigned route: %v", err) }
    if err := CanReport(r, 7, false); err != nil { t.Fatalf("own route: %v", err) }
}

func TestApplyStopUpdateEvents(t *testing.T) {
    st := model.Stop{ID: 1, Status: model.StopPlanned}
    ev, ok := ApplyStopUpdate(&st, model.StopUpdate{Status: model.StopEnroute})
    if !ok || ev != model.EventStart { t.Fatalf("enroute event: %v %v", ev, ok) }
    ev, ok = ApplyStopUpdate(&st, model.StopUpdate{Status: model.StopEnroute, Note: str("gate closed")})
    if !ok || ev != model.EventComment { t.Fatalf("note event: %v %v", ev, ok) }
    load := 1.5
    _, ok = ApplyStopUpdate(&st, model.StopUpdate{Status: model.StopEnroute, Note: str("gate closed"), ActualCapacity: &load})
    if ok { t.Fatalf("capacity-only change should not record an event") }
    if st.ActualCapacity == nil || *st.ActualCapacity != 1.5 { t.Fatalf("capacity not applied") }
    _, _ = ApplyStopUpdate(&st, model.StopUpdate{Status: model.StopEnroute})
    if st.Note != nil || st.ActualCapacity != nil { t.Fatalf("omitted fields must be cleared: %+v", st) }
}

func TestDecorateCurrentStop(t *testing.T) {
    r := model.Route{Stops: []model.Stop{
        {ID: 3, SeqNo: 3, Status: model.StopPlanned},
        {ID: 1, SeqNo: 1, Status: model.StopDone},
        {ID: 2, SeqNo: 2, Status: model.StopArrived},
    }}
    Decorate(&r)
    if r.Stops[0].ID != 1 || r.Stops[2].ID != 3 { t.Fatalf("order: %+v", r.Stops) }
    if r.CurrentStopID == nil || *r.CurrentStopID != 2 { t.Fatalf("current: %v", r.CurrentStopID) }
    for i := range r.Stops { r.Stops[i].Status = model.StopSkipped }
    Decorate(&r)
    if r.CurrentStopID != nil { t.Fatalf("no current stop expected") }
}

func TestStopInput(t *testing.T) {
    if err := ValidateStopInput(model.StopInput{}); !errors.Is(err, ErrInvalid) { t.Fatalf("empty stop: %v", err) }
    if err := ValidateStopInput(model.StopInput{GarbagePointID: i64(1), Address: str("Main st 1")}); !errors.Is(err, ErrInvalid) { t.Fatalf("both: %v", err) }
    if err := ValidateStopInput(model.StopInput{Address: str("  ")}); !errors.Is(err, ErrInvalid) { t.Fatalf("blank address: %v", err) }
    if err := ValidateStopInput(model.StopInput{GarbagePointID: i64(1)}); err != nil { t.Fatalf("point stop: %v", err) }
    stops := []model.Stop{{ID: 1, SeqNo: 1}, {ID: 2, SeqNo: 4}}
    if NextSeqNo(stops) != 5 || NextSeqNo(nil) != 1 { t.Fatalf("next seq") }
    if err := CheckSeqNoFree(stops, 4, 1); !errors.Is(err, ErrConflict) { t.Fatalf("seq taken: %v", err) }
    if err := CheckSeqNoFree(stops, 4, 2); err != nil { t.Fatalf("own seq: %v", err) }
    err := ValidateRouteInput(model.RouteInput{PlannedDate: "10.03.2025"})
    if !errors.Is(err, ErrInvalid) { t.Fatalf("bad date: %v", err) }
}

func TestIncidentRules(t *testing.T) {
    if err := ValidateIncidentInput(model.IncidentInput{StopID: 42, Type: model.IncidentTraffic}); err != nil { t.Fatalf("valid: %v", err) }
    if err := ValidateIncidentInput(model.IncidentInput{StopID: 42, Type: "ALIENS"}); !errors.Is(err, ErrInvalid) { t.Fatalf("bad type: %v", err) }
    if got := IncidentNote(model.IncidentTraffic); got != "Инцидент: Пробки" { t.Fatalf("note: %q", got) }
    inc := model.Incident{ID: 1}
    if err := CanResolve(inc); err != nil { t.Fatalf("resolve: %v", err) }
    ApplyResolve(&inc, now)
    if !inc.Resolved || inc.ResolvedAt == nil { t.Fatalf("resolve not applied") }
    err := CanResolve(inc)
    if !errors.Is(err, ErrPrecondition) || !strings.Contains(err.Error(), "Incident is already resolved") { t.Fatalf("double resolve: %v", err) }
}
