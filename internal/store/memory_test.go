package store

import (
    "context"
    "errors"
    "testing"
    "time"

    "wasteroute/internal/lifecycle"
    "wasteroute/internal/model"
)

func i64(v int64) *int64 { return &v }
func str(v string) *string { return &v }

type fixture struct {
    m      *Memory
    driver model.User
    other  model.User
    truck  model.Vehicle
    point  model.GarbagePoint
}

func newFixture(t *testing.T) fixture {
    t.Helper()
    ctx := context.Background()
    m := NewMemory()
    clock := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
    m.Now = func() time.Time { clock = clock.Add(time.Second); return clock }
    d, err := m.CreateUser(ctx, model.RoleDriver, model.UserInput{Login: "ivanov", Name: "Ivanov"}, "x")
    if err != nil { t.Fatalf("CreateUser: %v", err) }
    o, err := m.CreateUser(ctx, model.RoleDriver, model.UserInput{Login: "petrov", Name: "Petrov"}, "x")
    if err != nil { t.Fatalf("CreateUser: %v", err) }
    v, err := m.CreateVehicle(ctx, model.VehicleInput{PlateNumber: "A123BC", Name: "KAMAZ", Capacity: 10})
    if err != nil { t.Fatalf("CreateVehicle: %v", err) }
    p, err := m.CreateGarbagePoint(ctx, model.GarbagePointInput{Address: "Lenina 1", Capacity: 4})
    if err != nil { t.Fatalf("CreateGarbagePoint: %v", err) }
    return fixture{m: m, driver: d, other: o, truck: v, point: p}
}

func (f fixture) route(t *testing.T, stops int) model.Route {
    t.Helper()
    in := model.RouteInput{PlannedDate: "2025-03-10", DriverID: &f.driver.ID}
    for i := 0; i < stops; i++ {
        in.Stops = append(in.Stops, model.StopInput{GarbagePointID: &f.point.ID})
    }
    r, err := f.m.CreateRoute(context.Background(), in)
    if err != nil { t.Fatalf("CreateRoute: %v", err) }
    return r
}

func TestMemoryShiftGateAndStart(t *testing.T) {
    ctx := context.Background()
    f := newFixture(t)
    r := f.route(t, 2)
    if _, err := f.m.StartRoute(ctx, r.ID, f.driver.ID); !errors.Is(err, lifecycle.ErrPrecondition) {
        t.Fatalf("start without shift: %v", err)
    }
    got, _ := f.m.GetRoute(ctx, r.ID)
    if got.Status != model.RoutePlanned { t.Fatalf("status changed on failed start: %s", got.Status) }

    sh, err := f.m.OpenShift(ctx, f.driver.ID, &f.truck.ID)
    if err != nil { t.Fatalf("OpenShift: %v", err) }
    if _, err := f.m.OpenShift(ctx, f.driver.ID, nil); !errors.Is(err, lifecycle.ErrConflict) { t.Fatalf("second shift: %v", err) }

    got, err = f.m.StartRoute(ctx, r.ID, f.driver.ID)
    if err != nil { t.Fatalf("StartRoute: %v", err) }
    if got.Status != model.RouteInProgress || *got.ShiftID != sh.ID || *got.VehicleID != f.truck.ID { t.Fatalf("started route: %+v", got) }
    if got.CurrentStopID == nil || *got.CurrentStopID != got.Stops[0].ID { t.Fatalf("current stop: %v", got.CurrentStopID) }

    if _, err := f.m.CloseShift(ctx, sh.ID, f.driver.ID, false); !errors.Is(err, lifecycle.ErrPrecondition) { t.Fatalf("close with active route: %v", err) }
    if _, err := f.m.FinishRoute(ctx, r.ID, f.driver.ID, false); err != nil { t.Fatalf("FinishRoute: %v", err) }
    closed, err := f.m.CloseShift(ctx, sh.ID, f.driver.ID, false)
    if err != nil || closed.Status != model.ShiftClosed { t.Fatalf("CloseShift: %v %+v", err, closed) }
    if _, err := f.m.CurrentShift(ctx, f.driver.ID); !errors.Is(err, ErrNotFound) { t.Fatalf("current after close: %v", err) }
}

func TestMemoryStopUpdateAndFinish(t *testing.T) {
    ctx := context.Background()
    f := newFixture(t)
    r := f.route(t, 3)
    if _, err := f.m.OpenShift(ctx, f.driver.ID, nil); err != nil { t.Fatal(err) }
    if _, err := f.m.StartRoute(ctx, r.ID, f.driver.ID); err != nil { t.Fatal(err) }
    s1, s2 := r.Stops[0].ID, r.Stops[1].ID

    load := 0.8
    got, err := f.m.UpdateStop(ctx, r.ID, s1, f.driver.ID, false, model.StopUpdate{Status: model.StopDone, ActualCapacity: &load})
    if err != nil { t.Fatalf("UpdateStop: %v", err) }
    if *got.CurrentStopID != s2 { t.Fatalf("current stop after done: %d", *got.CurrentStopID) }
    if _, err := f.m.UpdateStop(ctx, r.ID, s1, f.driver.ID, false, model.StopUpdate{Status: model.StopArrived}); !errors.Is(err, lifecycle.ErrPrecondition) {
        t.Fatalf("terminal revert: %v", err)
    }
    if _, err := f.m.UpdateStop(ctx, r.ID, s2, f.other.ID, false, model.StopUpdate{Status: model.StopArrived}); !errors.Is(err, lifecycle.ErrForbidden) {
        t.Fatalf("foreign driver: %v", err)
    }
    if _, err := f.m.UpdateStop(ctx, r.ID, 999, f.driver.ID, false, model.StopUpdate{Status: model.StopArrived}); !errors.Is(err, ErrNotFound) {
        t.Fatalf("unknown stop: %v", err)
    }

    done, err := f.m.FinishRoute(ctx, r.ID, f.driver.ID, false)
    if err != nil { t.Fatalf("FinishRoute: %v", err) }
    if done.Status != model.RouteCompleted || done.FinishedAt == nil || done.CurrentStopID != nil { t.Fatalf("finished route: %+v", done) }
    if done.Stops[1].Status != model.StopSkipped || done.Stops[2].Status != model.StopSkipped { t.Fatalf("open stops not skipped: %+v", done.Stops) }
    evs, err := f.m.ListStopEvents(ctx, r.ID, s2)
    if err != nil || len(evs) != 1 || evs[0].EventType != model.EventSkipped { t.Fatalf("skip events: %v %+v", err, evs) }
    evs, _ = f.m.ListStopEvents(ctx, r.ID, s1)
    if len(evs) != 1 || evs[0].EventType != model.EventDone { t.Fatalf("done events: %+v", evs) }
}

func TestMemoryIncidentMarkUnavailable(t *testing.T) {
    ctx := context.Background()
    f := newFixture(t)
    r := f.route(t, 1)
    stop := r.Stops[0].ID
    // A plain incident needs no running route.
    inc, err := f.m.CreateIncident(ctx, model.IncidentInput{StopID: stop, Type: model.IncidentOther}, "ivanov", f.driver.ID, false)
    if err != nil || inc.RouteID != r.ID || *inc.CreatedByLogin != "ivanov" { t.Fatalf("plain incident: %v %+v", err, inc) }
    if _, err := f.m.CreateIncident(ctx, model.IncidentInput{StopID: stop, Type: model.IncidentOther}, "petrov", f.other.ID, false); !errors.Is(err, lifecycle.ErrForbidden) {
        t.Fatalf("incident on foreign route: %v", err)
    }
    if _, err := f.m.CreateIncident(ctx, model.IncidentInput{StopID: stop, Type: model.IncidentOther}, "admin", 0, true); err != nil { t.Fatalf("admin incident: %v", err) }
    if _, err := f.m.CreateIncident(ctx, model.IncidentInput{StopID: stop, Type: model.IncidentTraffic, MarkUnavailable: true}, "ivanov", f.driver.ID, false); !errors.Is(err, lifecycle.ErrPrecondition) {
        t.Fatalf("mark unavailable on planned route: %v", err)
    }
    list, _ := f.m.ListIncidents(ctx, model.IncidentFilter{})
    if len(list) != 2 { t.Fatalf("failed incident must not be stored: %d", len(list)) }

    if _, err := f.m.OpenShift(ctx, f.driver.ID, nil); err != nil { t.Fatal(err) }
    if _, err := f.m.StartRoute(ctx, r.ID, f.driver.ID); err != nil { t.Fatal(err) }
    if _, err := f.m.CreateIncident(ctx, model.IncidentInput{StopID: stop, Type: model.IncidentTraffic, MarkUnavailable: true}, "ivanov", f.driver.ID, false); err != nil {
        t.Fatalf("incident with stop update: %v", err)
    }
    got, _ := f.m.GetRoute(ctx, r.ID)
    if got.Stops[0].Status != model.StopUnavailable || *got.Stops[0].Note != "Инцидент: Пробки" { t.Fatalf("stop: %+v", got.Stops[0]) }

    res, err := f.m.ResolveIncident(ctx, inc.ID)
    if err != nil || !res.Resolved { t.Fatalf("resolve: %v", err) }
    if _, err := f.m.ResolveIncident(ctx, inc.ID); !errors.Is(err, lifecycle.ErrPrecondition) { t.Fatalf("double resolve: %v", err) }
    open := false
    list, _ = f.m.ListIncidents(ctx, model.IncidentFilter{Resolved: &open})
    if len(list) != 2 { t.Fatalf("unresolved: %+v", list) }
}

func TestMemoryTerminalStopIsFinal(t *testing.T) {
    ctx := context.Background()
    f := newFixture(t)
    r := f.route(t, 2)
    if _, err := f.m.OpenShift(ctx, f.driver.ID, nil); err != nil { t.Fatal(err) }
    if _, err := f.m.StartRoute(ctx, r.ID, f.driver.ID); err != nil { t.Fatal(err) }
    s1 := r.Stops[0].ID
    load := 2.0
    if _, err := f.m.UpdateStop(ctx, r.ID, s1, f.driver.ID, false, model.StopUpdate{Status: model.StopDone, ActualCapacity: &load}); err != nil { t.Fatalf("done: %v", err) }

    for _, next := range []model.StopStatus{model.StopSkipped, model.StopUnavailable} {
        if _, err := f.m.UpdateStop(ctx, r.ID, s1, f.driver.ID, false, model.StopUpdate{Status: next}); !errors.Is(err, lifecycle.ErrPrecondition) {
            t.Fatalf("done -> %s: %v", next, err)
        }
    }
    if _, err := f.m.CreateIncident(ctx, model.IncidentInput{StopID: s1, Type: model.IncidentVehicleIssue, MarkUnavailable: true}, "ivanov", f.driver.ID, false); !errors.Is(err, lifecycle.ErrPrecondition) {
        t.Fatalf("incident on finished stop: %v", err)
    }
    if list, _ := f.m.ListIncidents(ctx, model.IncidentFilter{}); len(list) != 0 { t.Fatalf("incident stored: %+v", list) }

    got, err := f.m.UpdateStop(ctx, r.ID, s1, f.driver.ID, false, model.StopUpdate{Status: model.StopDone, ActualCapacity: &load, Note: str("lid broken")})
    if err != nil { t.Fatalf("note on done stop: %v", err) }
    st := got.Stops[0]
    if st.Status != model.StopDone || *st.ActualCapacity != 2 || *st.Note != "lid broken" { t.Fatalf("stop: %+v", st) }
    evs, _ := f.m.ListStopEvents(ctx, r.ID, s1)
    if len(evs) != 2 || evs[0].EventType != model.EventDone || evs[1].EventType != model.EventComment { t.Fatalf("events: %+v", evs) }
}

func TestMemoryRouteDeleteAndCancel(t *testing.T) {
    ctx := context.Background()
    f := newFixture(t)
    r := f.route(t, 1)
    if _, err := f.m.OpenShift(ctx, f.driver.ID, nil); err != nil { t.Fatal(err) }
    if _, err := f.m.StartRoute(ctx, r.ID, f.driver.ID); err != nil { t.Fatal(err) }
    if err := f.m.DeleteRoute(ctx, r.ID); !errors.Is(err, lifecycle.ErrConflict) { t.Fatalf("delete in progress: %v", err) }
    c, err := f.m.CancelRoute(ctx, r.ID)
    if err != nil || c.Status != model.RouteCancelled { t.Fatalf("cancel: %v", err) }
    if err := f.m.DeleteRoute(ctx, r.ID); err != nil { t.Fatalf("delete: %v", err) }
    if _, err := f.m.GetRoute(ctx, r.ID); !errors.Is(err, ErrNotFound) { t.Fatalf("deleted route still readable: %v", err) }
}

func TestMemoryStopPlanEditing(t *testing.T) {
    ctx := context.Background()
    f := newFixture(t)
    r := f.route(t, 1)
    got, err := f.m.CreateStop(ctx, r.ID, model.StopInput{Address: str("Mira 5")})
    if err != nil { t.Fatalf("CreateStop: %v", err) }
    if len(got.Stops) != 2 || got.Stops[1].SeqNo != 2 { t.Fatalf("seq: %+v", got.Stops) }
    seq := 2
    if _, err := f.m.CreateStop(ctx, r.ID, model.StopInput{Address: str("Mira 7"), SeqNo: &seq}); !errors.Is(err, lifecycle.ErrConflict) {
        t.Fatalf("duplicate seq: %v", err)
    }
    got, err = f.m.DeleteStop(ctx, r.ID, got.Stops[1].ID)
    if err != nil || len(got.Stops) != 1 { t.Fatalf("DeleteStop: %v", err) }
    if _, err := f.m.CreateStop(ctx, r.ID, model.StopInput{GarbagePointID: i64(404)}); !errors.Is(err, lifecycle.ErrInvalid) {
        t.Fatalf("missing point: %v", err)
    }
}

func TestMemoryAutoGenerateHelpers(t *testing.T) {
    ctx := context.Background()
    f := newFixture(t)
    fr, _ := f.m.CreateFraction(ctx, model.FractionInput{Name: "Plastic", Code: "PL"})
    cs, _ := f.m.CreateContainerSize(ctx, model.ContainerSizeInput{Code: "S", Capacity: 1})
    for _, w := range []float64{1.5, 1.5} {
        if _, err := f.m.CreateKioskOrder(ctx, f.point.ID, model.KioskOrderInput{ContainerSizeID: cs.ID, FractionID: fr.ID, Weight: w}); err != nil { t.Fatal(err) }
    }
    cancelled, _ := f.m.CreateKioskOrder(ctx, f.point.ID, model.KioskOrderInput{ContainerSizeID: cs.ID, FractionID: fr.ID, Weight: 9, Status: model.OrderCancelled})
    loads, err := f.m.ActiveOrderLoad(ctx)
    if err != nil || len(loads) != 1 || loads[0].Weight != 3 || len(loads[0].OrderIDs) != 2 { t.Fatalf("load: %v %+v", err, loads) }

    // an order placed after planning is not part of the route
    late, _ := f.m.CreateKioskOrder(ctx, f.point.ID, model.KioskOrderInput{ContainerSizeID: cs.ID, FractionID: fr.ID, Weight: 2})

    in := model.RouteInput{Stops: []model.StopInput{{GarbagePointID: &f.point.ID, Address: &f.point.Address}}}
    r, err := f.m.CreateRouteFromOrders(ctx, in, loads[0].OrderIDs)
    if err != nil { t.Fatalf("CreateRouteFromOrders: %v", err) }
    if r.PlannedDate != "2025-03-10" || len(r.Stops) != 1 { t.Fatalf("generated route: %+v", r) }
    left, _ := f.m.ActiveOrderLoad(ctx)
    if len(left) != 1 || left[0].Weight != 2 || len(left[0].OrderIDs) != 1 || left[0].OrderIDs[0] != late.ID { t.Fatalf("only the planned orders should be collected: %+v", left) }
    for _, id := range loads[0].OrderIDs {
        if o, _ := f.m.GetKioskOrder(ctx, id); o.Status != model.OrderCollected { t.Fatalf("order %d: %s", id, o.Status) }
    }
    o, _ := f.m.GetKioskOrder(ctx, cancelled.ID)
    if o.Status != model.OrderCancelled { t.Fatalf("cancelled order touched: %s", o.Status) }

    // a second run planned from the same snapshot loses
    routes, _ := f.m.ListRoutes(ctx, model.RouteFilter{})
    if _, err := f.m.CreateRouteFromOrders(ctx, in, loads[0].OrderIDs); !errors.Is(err, lifecycle.ErrConflict) { t.Fatalf("replayed orders: %v", err) }
    if again, _ := f.m.ListRoutes(ctx, model.RouteFilter{}); len(again) != len(routes) { t.Fatalf("route stored on conflict: %d -> %d", len(routes), len(again)) }
}

func TestMemoryReferenceConflicts(t *testing.T) {
    ctx := context.Background()
    f := newFixture(t)
    if _, err := f.m.CreateVehicle(ctx, model.VehicleInput{PlateNumber: "a123bc"}); !errors.Is(err, lifecycle.ErrConflict) { t.Fatalf("plate: %v", err) }
    if _, err := f.m.CreateUser(ctx, model.RoleKiosk, model.UserInput{Login: "IVANOV"}, "x"); !errors.Is(err, lifecycle.ErrConflict) { t.Fatalf("login: %v", err) }
    f.route(t, 1)
    if err := f.m.DeleteGarbagePoint(ctx, f.point.ID); !errors.Is(err, lifecycle.ErrConflict) { t.Fatalf("point in use: %v", err) }
    if err := f.m.DeleteUser(ctx, f.driver.ID, model.RoleDriver); !errors.Is(err, lifecycle.ErrConflict) { t.Fatalf("driver in use: %v", err) }
    if err := f.m.DeleteUser(ctx, f.other.ID, model.RoleKiosk); !errors.Is(err, ErrNotFound) { t.Fatalf("wrong role delete: %v", err) }
    if err := f.m.DeleteUser(ctx, f.other.ID, model.RoleDriver); err != nil { t.Fatalf("delete free driver: %v", err) }
}

func TestMemoryWebhookQueue(t *testing.T) {
    ctx := context.Background()
    m := NewMemory()
    id, err := m.EnqueueWebhook(ctx, "sub", "route.started", "http://x.test", "", []byte(`{"id":"evt_1"}`))
    if err != nil { t.Fatal(err) }
    again, _ := m.EnqueueWebhook(ctx, "sub", "route.started", "http://x.test", "", []byte(`{"id":"evt_1"}`))
    if again != id { t.Fatalf("duplicate event enqueued twice") }
    due, _ := m.FetchDueWebhookDeliveries(ctx, 10)
    if len(due) != 1 { t.Fatalf("due: %d", len(due)) }
    later := time.Now().Add(time.Hour)
    _ = m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 3)
    due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
    if len(due) != 0 { t.Fatalf("retry scheduled in the future should not be due") }
    if err := m.RetryWebhookDelivery(ctx, id); err != nil { t.Fatal(err) }
    due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
    if len(due) != 1 || due[0].Attempts != 1 { t.Fatalf("after retry: %+v", due) }
    _ = m.FailWebhookDelivery(ctx, id, "boom", 500, 3)
    recs, _ := m.ListWebhookDeliveries(ctx, DeliveryFailed, 10)
    if len(recs) != 1 || recs[0].Attempts != 2 { t.Fatalf("failed list: %+v", recs) }
    n, _ := m.PurgeWebhookDeliveries(ctx, time.Now().Add(time.Minute))
    if n != 1 { t.Fatalf("purged %d", n) }
    if err := m.RetryWebhookDelivery(ctx, id); !errors.Is(err, ErrNotFound) { t.Fatalf("retry purged: %v", err) }
}
