package store

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "strings"
    "time"

    "wasteroute/internal/lifecycle"
    "wasteroute/internal/model"
)

type dbtx interface {
    ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
    QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
    QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Shifts

const shiftCols = `id, driver_id, vehicle_id, status, opened_at, closed_at`

func scanShift(s scanner) (model.Shift, error) {
    var sh model.Shift
    var vehicle sql.NullInt64
    var closed sql.NullTime
    if err := s.Scan(&sh.ID, &sh.DriverID, &vehicle, &sh.Status, &sh.OpenedAt, &closed); err != nil { return sh, err }
    sh.VehicleID, sh.ClosedAt = nullInt64(vehicle), nullTime(closed)
    sh.OpenedAt = sh.OpenedAt.UTC()
    return sh, nil
}

// openShift returns the driver's open shift or nil, locking it when lock is set.
func openShift(ctx context.Context, q dbtx, driverID int64, lock bool) (*model.Shift, error) {
    stmt := `SELECT ` + shiftCols + ` FROM shifts WHERE driver_id=$1 AND status='open'`
    if lock { stmt += ` FOR UPDATE` }
    sh, err := scanShift(q.QueryRowContext(ctx, stmt, driverID))
    if errors.Is(err, sql.ErrNoRows) { return nil, nil }
    if err != nil { return nil, err }
    return &sh, nil
}

func requireVehicle(ctx context.Context, q dbtx, id *int64) error {
    if id == nil { return nil }
    var one int
    if err := q.QueryRowContext(ctx, `SELECT 1 FROM vehicles WHERE id=$1`, *id).Scan(&one); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return invalid("vehicle %d does not exist", *id) }
        return err
    }
    return nil
}

func (p *Postgres) OpenShift(ctx context.Context, driverID int64, vehicleID *int64) (model.Shift, error) {
    var out model.Shift
    err := p.inTx(ctx, func(tx *sql.Tx) error {
        if err := requireRole(ctx, tx, driverID, model.RoleDriver); err != nil {
            if errors.Is(err, lifecycle.ErrInvalid) { return notFound("driver", driverID) }
            return err
        }
        if err := requireVehicle(ctx, tx, vehicleID); err != nil { return err }
        cur, err := openShift(ctx, tx, driverID, true)
        if err != nil { return err }
        if err := lifecycle.CanOpenShift(cur); err != nil { return err }
        sh := lifecycle.NewShift(driverID, vehicleID, p.now())
        out, err = scanShift(tx.QueryRowContext(ctx, `INSERT INTO shifts (driver_id, vehicle_id, status, opened_at) VALUES ($1,$2,$3,$4) RETURNING `+shiftCols,
            sh.DriverID, sh.VehicleID, sh.Status, sh.OpenedAt))
        return err
    })
    return out, err
}

func (p *Postgres) CloseShift(ctx context.Context, shiftID, callerID int64, admin bool) (model.Shift, error) {
    var out model.Shift
    err := p.inTx(ctx, func(tx *sql.Tx) error {
        sh, err := scanShift(tx.QueryRowContext(ctx, `SELECT `+shiftCols+` FROM shifts WHERE id=$1 FOR UPDATE`, shiftID))
        if err != nil { return noRows(err, "shift", shiftID) }
        var active int
        if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM routes WHERE shift_id=$1 AND status='in_progress'`, shiftID).Scan(&active); err != nil { return err }
        if err := lifecycle.CanCloseShift(sh, callerID, admin, active); err != nil { return err }
        lifecycle.CloseShift(&sh, p.now())
        if _, err := tx.ExecContext(ctx, `UPDATE shifts SET status=$1, closed_at=$2 WHERE id=$3`, sh.Status, sh.ClosedAt, sh.ID); err != nil { return err }
        out = sh
        return nil
    })
    return out, err
}

func (p *Postgres) CurrentShift(ctx context.Context, driverID int64) (model.Shift, error) {
    sh, err := openShift(ctx, p.db, driverID, false)
    if err != nil { return model.Shift{}, err }
    if sh == nil { return model.Shift{}, fmt.Errorf("%w: Driver has no open shift", ErrNotFound) }
    return *sh, nil
}

func (p *Postgres) ListShifts(ctx context.Context, driverID *int64) ([]model.Shift, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT `+shiftCols+` FROM shifts WHERE ($1::bigint IS NULL OR driver_id=$1) ORDER BY opened_at DESC, id DESC`, driverID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Shift{}
    for rows.Next() {
        sh, err := scanShift(rows)
        if err != nil { return nil, err }
        out = append(out, sh)
    }
    return out, rows.Err()
}

// Routes

const routeCols = `id, planned_date, status, driver_id, vehicle_id, shift_id, planned_start_at, planned_end_at, started_at, finished_at, created_at`

const stopCols = `id, route_id, seq_no, garbage_point_id, address, time_from, time_to, expected_capacity, actual_capacity, status, note`

func scanRoute(s scanner) (model.Route, error) {
    var r model.Route
    var date time.Time
    var driver, vehicle, shift sql.NullInt64
    var ps, pe, st, fin sql.NullTime
    if err := s.Scan(&r.ID, &date, &r.Status, &driver, &vehicle, &shift, &ps, &pe, &st, &fin, &r.CreatedAt); err != nil { return r, err }
    r.PlannedDate = date.Format(time.DateOnly)
    r.DriverID, r.VehicleID, r.ShiftID = nullInt64(driver), nullInt64(vehicle), nullInt64(shift)
    r.PlannedStartAt, r.PlannedEndAt, r.StartedAt, r.FinishedAt = nullTime(ps), nullTime(pe), nullTime(st), nullTime(fin)
    r.CreatedAt = r.CreatedAt.UTC()
    return r, nil
}

func scanStop(s scanner) (model.Stop, error) {
    var st model.Stop
    var point sql.NullInt64
    var addr, note sql.NullString
    var from, to sql.NullTime
    var expected sql.NullInt64
    var actual sql.NullFloat64
    if err := s.Scan(&st.ID, &st.RouteID, &st.SeqNo, &point, &addr, &from, &to, &expected, &actual, &st.Status, &note); err != nil { return st, err }
    st.GarbagePointID, st.Address, st.Note = nullInt64(point), nullString(addr), nullString(note)
    st.TimeFrom, st.TimeTo = nullTime(from), nullTime(to)
    st.ExpectedCapacity, st.ActualCapacity = nullInt(expected), nullFloat(actual)
    return st, nil
}

// loadRoute reads a route with its stops. lock takes a row lock on the route,
// which serializes every guarded change to the route and its stops.
func loadRoute(ctx context.Context, q dbtx, id int64, lock bool) (model.Route, error) {
    stmt := `SELECT ` + routeCols + ` FROM routes WHERE id=$1`
    if lock { stmt += ` FOR UPDATE` }
    r, err := scanRoute(q.QueryRowContext(ctx, stmt, id))
    if err != nil { return r, noRows(err, "route", id) }
    stops, err := loadStops(ctx, q, []int64{id})
    if err != nil { return r, err }
    r.Stops = stops[id]
    lifecycle.Decorate(&r)
    return r, nil
}

func loadStops(ctx context.Context, q dbtx, routeIDs []int64) (map[int64][]model.Stop, error) {
    out := map[int64][]model.Stop{}
    if len(routeIDs) == 0 { return out, nil }
    rows, err := q.QueryContext(ctx, `SELECT `+stopCols+` FROM stops WHERE route_id = ANY($1) ORDER BY seq_no, id`, routeIDs)
    if err != nil { return nil, err }
    defer rows.Close()
    for rows.Next() {
        st, err := scanStop(rows)
        if err != nil { return nil, err }
        out[st.RouteID] = append(out[st.RouteID], st)
    }
    return out, rows.Err()
}

func stopIndex(r model.Route, stopID int64) (int, error) {
    for i := range r.Stops {
        if r.Stops[i].ID == stopID { return i, nil }
    }
    return -1, fmt.Errorf("%w: stop %d on route %d", ErrNotFound, stopID, r.ID)
}

func checkRouteRefs(ctx context.Context, q dbtx, in model.RouteInput) error {
    if err := requireVehicle(ctx, q, in.VehicleID); err != nil { return err }
    if in.DriverID != nil {
        if err := requireRole(ctx, q, *in.DriverID, model.RoleDriver); err != nil { return err }
    }
    for _, s := range in.Stops {
        if s.GarbagePointID == nil { continue }
        var one int
        if err := q.QueryRowContext(ctx, `SELECT 1 FROM garbage_points WHERE id=$1`, *s.GarbagePointID).Scan(&one); err != nil {
            if errors.Is(err, sql.ErrNoRows) { return invalid("garbage point %d does not exist", *s.GarbagePointID) }
            return err
        }
    }
    return nil
}

func insertStop(ctx context.Context, q dbtx, st model.Stop) (model.Stop, error) {
    return scanStop(q.QueryRowContext(ctx, `INSERT INTO stops (route_id, seq_no, garbage_point_id, address, time_from, time_to, expected_capacity, actual_capacity, status, note)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING `+stopCols,
        st.RouteID, st.SeqNo, st.GarbagePointID, st.Address, st.TimeFrom, st.TimeTo, st.ExpectedCapacity, st.ActualCapacity, st.Status, st.Note))
}

func (p *Postgres) insertRoute(ctx context.Context, tx *sql.Tx, in model.RouteInput) (model.Route, error) {
    if err := checkRouteRefs(ctx, tx, in); err != nil { return model.Route{}, err }
    date := in.PlannedDate
    if date == "" { date = p.now().Format(time.DateOnly) }
    r, err := scanRoute(tx.QueryRowContext(ctx, `INSERT INTO routes (planned_date, status, driver_id, vehicle_id, planned_start_at, planned_end_at, created_at)
        VALUES ($1::date,$2,$3,$4,$5,$6,$7) RETURNING `+routeCols,
        date, model.RoutePlanned, in.DriverID, in.VehicleID, in.PlannedStartAt, in.PlannedEndAt, p.now()))
    if err != nil { return r, err }
    for _, si := range in.Stops {
        seq := lifecycle.NextSeqNo(r.Stops)
        if si.SeqNo != nil { seq = *si.SeqNo }
        if err := lifecycle.CheckSeqNoFree(r.Stops, seq, 0); err != nil { return r, err }
        st, err := insertStop(ctx, tx, lifecycle.NewStop(r.ID, seq, si))
        if err != nil { return r, err }
        r.Stops = append(r.Stops, st)
    }
    lifecycle.Decorate(&r)
    return r, nil
}

func (p *Postgres) CreateRoute(ctx context.Context, in model.RouteInput) (model.Route, error) {
    if err := lifecycle.ValidateRouteInput(in); err != nil { return model.Route{}, err }
    var out model.Route
    err := p.inTx(ctx, func(tx *sql.Tx) error {
        var err error
        out, err = p.insertRoute(ctx, tx, in)
        return err
    })
    return out, err
}

func (p *Postgres) CreateRouteFromOrders(ctx context.Context, in model.RouteInput, orderIDs []int64) (model.Route, error) {
    if err := validateGeneratedStops(in); err != nil { return model.Route{}, err }
    var out model.Route
    err := p.inTx(ctx, func(tx *sql.Tx) error {
        // row locks serialise concurrent runs; the loser sees the orders collected
        rows, err := tx.QueryContext(ctx, `UPDATE kiosk_orders SET status='COLLECTED' WHERE id = ANY($1) AND status IN ('CREATED','CONFIRMED') RETURNING id`, orderIDs)
        if err != nil { return err }
        claimed := map[int64]bool{}
        for rows.Next() {
            var id int64
            if err := rows.Scan(&id); err != nil { _ = rows.Close(); return err }
            claimed[id] = true
        }
        if err := rows.Err(); err != nil { _ = rows.Close(); return err }
        if err := rows.Close(); err != nil { return err }
        for _, id := range orderIDs {
            if !claimed[id] { return ordersTaken(id) }
        }
        out, err = p.insertRoute(ctx, tx, in)
        return err
    })
    return out, err
}

// saveRoute persists the mutable route columns.
func saveRoute(ctx context.Context, q dbtx, r model.Route) error {
    _, err := q.ExecContext(ctx, `UPDATE routes SET planned_date=$1::date, status=$2, driver_id=$3, vehicle_id=$4, shift_id=$5, planned_start_at=$6, planned_end_at=$7, started_at=$8, finished_at=$9 WHERE id=$10`,
        r.PlannedDate, r.Status, r.DriverID, r.VehicleID, r.ShiftID, r.PlannedStartAt, r.PlannedEndAt, r.StartedAt, r.FinishedAt, r.ID)
    return err
}

// mutateRoute locks the route, applies fn and saves the route row.
func (p *Postgres) mutateRoute(ctx context.Context, id int64, fn func(tx *sql.Tx, r *model.Route) error) (model.Route, error) {
    var out model.Route
    err := p.inTx(ctx, func(tx *sql.Tx) error {
        r, err := loadRoute(ctx, tx, id, true)
        if err != nil { return err }
        if err := fn(tx, &r); err != nil { return err }
        if err := saveRoute(ctx, tx, r); err != nil { return err }
        lifecycle.Decorate(&r)
        out = r
        return nil
    })
    return out, err
}

func (p *Postgres) UpdateRoute(ctx context.Context, id int64, in model.RouteInput) (model.Route, error) {
    in.Stops = nil
    if err := lifecycle.ValidateRouteInput(in); err != nil { return model.Route{}, err }
    return p.mutateRoute(ctx, id, func(tx *sql.Tx, r *model.Route) error {
        if err := lifecycle.CanEditPlan(*r); err != nil { return err }
        if err := checkRouteRefs(ctx, tx, in); err != nil { return err }
        if in.PlannedDate != "" { r.PlannedDate = in.PlannedDate }
        r.PlannedStartAt, r.PlannedEndAt, r.VehicleID = in.PlannedStartAt, in.PlannedEndAt, in.VehicleID
        if in.DriverID != nil { r.DriverID = in.DriverID }
        return nil
    })
}

func (p *Postgres) GetRoute(ctx context.Context, id int64) (model.Route, error) {
    return loadRoute(ctx, p.db, id, false)
}

func (p *Postgres) ListRoutes(ctx context.Context, f model.RouteFilter) ([]model.Route, error) {
    a := &sqlArgs{}
    where := []string{"TRUE"}
    if f.Status != "" { where = append(where, "status = "+a.add(string(f.Status))) }
    if f.Date != "" { where = append(where, "planned_date = "+a.add(f.Date)+"::date") }
    if f.DriverID != nil { where = append(where, "driver_id = "+a.add(*f.DriverID)) }
    rows, err := p.db.QueryContext(ctx, `SELECT `+routeCols+` FROM routes WHERE `+strings.Join(where, " AND ")+` ORDER BY planned_date DESC, id DESC`, a.args...)
    if err != nil { return nil, mapError(err) }
    defer rows.Close()
    out := []model.Route{}
    var ids []int64
    for rows.Next() {
        r, err := scanRoute(rows)
        if err != nil { return nil, err }
        out = append(out, r)
        ids = append(ids, r.ID)
    }
    if err := rows.Err(); err != nil { return nil, err }
    stops, err := loadStops(ctx, p.db, ids)
    if err != nil { return nil, err }
    for i := range out {
        out[i].Stops = stops[out[i].ID]
        lifecycle.Decorate(&out[i])
    }
    return out, nil
}

func (p *Postgres) AssignRoute(ctx context.Context, id int64, req model.AssignRequest) (model.Route, error) {
    if err := lifecycle.ValidateAssign(req); err != nil { return model.Route{}, err }
    return p.mutateRoute(ctx, id, func(tx *sql.Tx, r *model.Route) error {
        if err := requireRole(ctx, tx, req.DriverID, model.RoleDriver); err != nil { return err }
        if err := lifecycle.CanAssign(*r); err != nil { return err }
        lifecycle.ApplyAssign(r, req)
        return nil
    })
}

func (p *Postgres) StartRoute(ctx context.Context, id, driverID int64) (model.Route, error) {
    return p.mutateRoute(ctx, id, func(tx *sql.Tx, r *model.Route) error {
        sh, err := openShift(ctx, tx, driverID, true)
        if err != nil { return err }
        if err := lifecycle.CanStart(*r, driverID, sh); err != nil { return err }
        lifecycle.ApplyStart(r, *sh, p.now())
        return nil
    })
}

func (p *Postgres) FinishRoute(ctx context.Context, id, callerID int64, admin bool) (model.Route, error) {
    return p.mutateRoute(ctx, id, func(tx *sql.Tx, r *model.Route) error {
        if err := lifecycle.CanFinish(*r, callerID, admin); err != nil { return err }
        now := p.now()
        for _, i := range lifecycle.ApplyFinish(r, now) {
            st := r.Stops[i]
            if _, err := tx.ExecContext(ctx, `UPDATE stops SET status=$1 WHERE id=$2`, st.Status, st.ID); err != nil { return err }
            if err := insertEvent(ctx, tx, st.ID, model.EventSkipped, nil, now); err != nil { return err }
        }
        return nil
    })
}

func (p *Postgres) CancelRoute(ctx context.Context, id int64) (model.Route, error) {
    return p.mutateRoute(ctx, id, func(tx *sql.Tx, r *model.Route) error {
        if err := lifecycle.CanCancel(*r); err != nil { return err }
        lifecycle.ApplyCancel(r, p.now())
        return nil
    })
}

func (p *Postgres) DeleteRoute(ctx context.Context, id int64) error {
    return p.inTx(ctx, func(tx *sql.Tx) error {
        r, err := loadRoute(ctx, tx, id, true)
        if err != nil { return err }
        if err := lifecycle.CanDelete(r); err != nil { return err }
        if _, err := tx.ExecContext(ctx, `DELETE FROM routes WHERE id=$1`, id); err != nil { return mapDeleteError("route", id, err) }
        return nil
    })
}

// Stops

func insertEvent(ctx context.Context, q dbtx, stopID int64, t model.StopEventType, comment *string, at time.Time) error {
    _, err := q.ExecContext(ctx, `INSERT INTO stop_events (stop_id, event_type, created_at, comment) VALUES ($1,$2,$3,$4)`, stopID, t, at, comment)
    return err
}

func (p *Postgres) CreateStop(ctx context.Context, routeID int64, in model.StopInput) (model.Route, error) {
    if err := lifecycle.ValidateStopInput(in); err != nil { return model.Route{}, err }
    return p.mutateRoute(ctx, routeID, func(tx *sql.Tx, r *model.Route) error {
        if err := lifecycle.CanEditPlan(*r); err != nil { return err }
        if err := checkRouteRefs(ctx, tx, model.RouteInput{Stops: []model.StopInput{in}}); err != nil { return err }
        seq := lifecycle.NextSeqNo(r.Stops)
        if in.SeqNo != nil { seq = *in.SeqNo }
        if err := lifecycle.CheckSeqNoFree(r.Stops, seq, 0); err != nil { return err }
        st, err := insertStop(ctx, tx, lifecycle.NewStop(routeID, seq, in))
        if err != nil { return err }
        r.Stops = append(r.Stops, st)
        return nil
    })
}

func (p *Postgres) UpdateStopPlan(ctx context.Context, routeID, stopID int64, in model.StopInput) (model.Route, error) {
    if err := lifecycle.ValidateStopInput(in); err != nil { return model.Route{}, err }
    return p.mutateRoute(ctx, routeID, func(tx *sql.Tx, r *model.Route) error {
        i, err := stopIndex(*r, stopID)
        if err != nil { return err }
        if err := lifecycle.CanEditPlan(*r); err != nil { return err }
        if err := checkRouteRefs(ctx, tx, model.RouteInput{Stops: []model.StopInput{in}}); err != nil { return err }
        seq := r.Stops[i].SeqNo
        if in.SeqNo != nil { seq = *in.SeqNo }
        if err := lifecycle.CheckSeqNoFree(r.Stops, seq, stopID); err != nil { return err }
        st := lifecycle.NewStop(routeID, seq, in)
        st.ID, st.Status, st.Note, st.ActualCapacity = stopID, r.Stops[i].Status, r.Stops[i].Note, r.Stops[i].ActualCapacity
        _, err = tx.ExecContext(ctx, `UPDATE stops SET seq_no=$1, garbage_point_id=$2, address=$3, time_from=$4, time_to=$5, expected_capacity=$6 WHERE id=$7`,
            st.SeqNo, st.GarbagePointID, st.Address, st.TimeFrom, st.TimeTo, st.ExpectedCapacity, stopID)
        if err != nil { return err }
        r.Stops[i] = st
        return nil
    })
}

func (p *Postgres) DeleteStop(ctx context.Context, routeID, stopID int64) (model.Route, error) {
    return p.mutateRoute(ctx, routeID, func(tx *sql.Tx, r *model.Route) error {
        i, err := stopIndex(*r, stopID)
        if err != nil { return err }
        if err := lifecycle.CanEditPlan(*r); err != nil { return err }
        if _, err := tx.ExecContext(ctx, `DELETE FROM stops WHERE id=$1`, stopID); err != nil { return mapDeleteError("stop", stopID, err) }
        r.Stops = append(r.Stops[:i:i], r.Stops[i+1:]...)
        return nil
    })
}

// applyStopUpdate validates, applies and records one driver update on a
// locked route.
func (p *Postgres) applyStopUpdate(ctx context.Context, tx *sql.Tx, r *model.Route, i int, callerID int64, admin bool, upd model.StopUpdate) error {
    if err := lifecycle.ValidateStopUpdate(*r, r.Stops[i], callerID, admin, upd); err != nil { return err }
    ev, changed := lifecycle.ApplyStopUpdate(&r.Stops[i], upd)
    st := r.Stops[i]
    if _, err := tx.ExecContext(ctx, `UPDATE stops SET status=$1, actual_capacity=$2, note=$3 WHERE id=$4`, st.Status, st.ActualCapacity, st.Note, st.ID); err != nil { return err }
    if changed { return insertEvent(ctx, tx, st.ID, ev, upd.Note, p.now()) }
    return nil
}

func (p *Postgres) UpdateStop(ctx context.Context, routeID, stopID, callerID int64, admin bool, upd model.StopUpdate) (model.Route, error) {
    return p.mutateRoute(ctx, routeID, func(tx *sql.Tx, r *model.Route) error {
        i, err := stopIndex(*r, stopID)
        if err != nil { return err }
        return p.applyStopUpdate(ctx, tx, r, i, callerID, admin, upd)
    })
}

func (p *Postgres) ListStopEvents(ctx context.Context, routeID, stopID int64) ([]model.StopEvent, error) {
    var one int
    if err := p.db.QueryRowContext(ctx, `SELECT 1 FROM routes WHERE id=$1`, routeID).Scan(&one); err != nil { return nil, noRows(err, "route", routeID) }
    if err := p.db.QueryRowContext(ctx, `SELECT 1 FROM stops WHERE id=$1 AND route_id=$2`, stopID, routeID).Scan(&one); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return nil, fmt.Errorf("%w: stop %d on route %d", ErrNotFound, stopID, routeID) }
        return nil, err
    }
    rows, err := p.db.QueryContext(ctx, `SELECT id, stop_id, event_type, created_at, photo_url, comment FROM stop_events WHERE stop_id=$1 ORDER BY created_at, id`, stopID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.StopEvent{}
    for rows.Next() {
        var ev model.StopEvent
        var photo, comment sql.NullString
        if err := rows.Scan(&ev.ID, &ev.StopID, &ev.EventType, &ev.CreatedAt, &photo, &comment); err != nil { return nil, err }
        ev.PhotoURL, ev.Comment = nullString(photo), nullString(comment)
        ev.CreatedAt = ev.CreatedAt.UTC()
        out = append(out, ev)
    }
    return out, rows.Err()
}

// Incidents

const incidentCols = `id, stop_id, route_id, type, description, photo_url, resolved, created_by_login, created_at, updated_at, resolved_at`

func scanIncident(s scanner) (model.Incident, error) {
    var inc model.Incident
    var desc, photo, by sql.NullString
    var resolvedAt sql.NullTime
    if err := s.Scan(&inc.ID, &inc.StopID, &inc.RouteID, &inc.Type, &desc, &photo, &inc.Resolved, &by, &inc.CreatedAt, &inc.UpdatedAt, &resolvedAt); err != nil { return inc, err }
    inc.Description, inc.PhotoURL, inc.CreatedByLogin = nullString(desc), nullString(photo), nullString(by)
    inc.ResolvedAt = nullTime(resolvedAt)
    inc.CreatedAt, inc.UpdatedAt = inc.CreatedAt.UTC(), inc.UpdatedAt.UTC()
    return inc, nil
}

func (p *Postgres) CreateIncident(ctx context.Context, in model.IncidentInput, createdBy string, callerID int64, admin bool) (model.Incident, error) {
    if err := lifecycle.ValidateIncidentInput(in); err != nil { return model.Incident{}, err }
    var out model.Incident
    err := p.inTx(ctx, func(tx *sql.Tx) error {
        var routeID int64
        if err := tx.QueryRowContext(ctx, `SELECT route_id FROM stops WHERE id=$1`, in.StopID).Scan(&routeID); err != nil { return noRows(err, "stop", in.StopID) }
        r, err := loadRoute(ctx, tx, routeID, in.MarkUnavailable)
        if err != nil { return err }
        if err := lifecycle.CanReport(r, callerID, admin); err != nil { return err }
        if in.MarkUnavailable {
            i, err := stopIndex(r, in.StopID)
            if err != nil { return err }
            if err := lifecycle.CanMarkUnavailable(r, r.Stops[i], callerID, admin); err != nil { return err }
            upd := lifecycle.UnavailableUpdate(in.Type)
            upd.ActualCapacity = r.Stops[i].ActualCapacity
            if err := p.applyStopUpdate(ctx, tx, &r, i, callerID, admin, upd); err != nil { return err }
        }
        now := p.now()
        out, err = scanIncident(tx.QueryRowContext(ctx, `INSERT INTO incidents (stop_id, route_id, type, description, photo_url, created_by_login, created_at, updated_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$7) RETURNING `+incidentCols,
            in.StopID, routeID, in.Type, in.Description, in.PhotoURL, nullIfEmpty(createdBy), now))
        return err
    })
    return out, err
}

// mutateIncident locks an open incident and stores what fn changed.
func (p *Postgres) mutateIncident(ctx context.Context, id int64, fn func(inc *model.Incident)) (model.Incident, error) {
    var out model.Incident
    err := p.inTx(ctx, func(tx *sql.Tx) error {
        inc, err := scanIncident(tx.QueryRowContext(ctx, `SELECT `+incidentCols+` FROM incidents WHERE id=$1 FOR UPDATE`, id))
        if err != nil { return noRows(err, "incident", id) }
        if err := lifecycle.CanResolve(inc); err != nil { return err }
        fn(&inc)
        _, err = tx.ExecContext(ctx, `UPDATE incidents SET type=$1, description=$2, photo_url=$3, resolved=$4, updated_at=$5, resolved_at=$6 WHERE id=$7`,
            inc.Type, inc.Description, inc.PhotoURL, inc.Resolved, inc.UpdatedAt, inc.ResolvedAt, id)
        out = inc
        return err
    })
    return out, err
}

func (p *Postgres) UpdateIncident(ctx context.Context, id int64, in model.IncidentInput) (model.Incident, error) {
    if !in.Type.Valid() { return model.Incident{}, invalid("unknown incident type %q", in.Type) }
    now := p.now()
    return p.mutateIncident(ctx, id, func(inc *model.Incident) {
        inc.Type, inc.Description, inc.PhotoURL, inc.UpdatedAt = in.Type, in.Description, in.PhotoURL, now
    })
}

func (p *Postgres) ResolveIncident(ctx context.Context, id int64) (model.Incident, error) {
    now := p.now()
    return p.mutateIncident(ctx, id, func(inc *model.Incident) { lifecycle.ApplyResolve(inc, now) })
}

func (p *Postgres) GetIncident(ctx context.Context, id int64) (model.Incident, error) {
    inc, err := scanIncident(p.db.QueryRowContext(ctx, `SELECT `+incidentCols+` FROM incidents WHERE id=$1`, id))
    if err != nil { return inc, noRows(err, "incident", id) }
    return inc, nil
}

func (p *Postgres) ListIncidents(ctx context.Context, f model.IncidentFilter) ([]model.Incident, error) {
    a := &sqlArgs{}
    where := []string{"TRUE"}
    if f.Resolved != nil { where = append(where, "resolved = "+a.add(*f.Resolved)) }
    if f.StopID != nil { where = append(where, "stop_id = "+a.add(*f.StopID)) }
    if f.RouteID != nil { where = append(where, "route_id = "+a.add(*f.RouteID)) }
    rows, err := p.db.QueryContext(ctx, `SELECT `+incidentCols+` FROM incidents WHERE `+strings.Join(where, " AND ")+` ORDER BY created_at DESC, id DESC`, a.args...)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Incident{}
    for rows.Next() {
        inc, err := scanIncident(rows)
        if err != nil { return nil, err }
        out = append(out, inc)
    }
    return out, rows.Err()
}
