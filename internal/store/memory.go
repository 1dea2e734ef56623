package store

import (
    "context"
    "fmt"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"

    "wasteroute/internal/lifecycle"
    "wasteroute/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
// Every method runs under one mutex, so guarded mutations are atomic.
type Memory struct {
    mu  sync.Mutex
    Now func() time.Time

    seq       map[string]int64
    users     map[int64]model.User
    vehicles  map[int64]model.Vehicle
    points    map[int64]model.GarbagePoint
    fractions map[int64]model.Fraction
    sizes     map[int64]model.ContainerSize
    orders    map[int64]model.KioskOrder
    shifts    map[int64]model.Shift
    routes    map[int64]*model.Route
    stopRoute map[int64]int64             // stop id -> route id
    events    map[int64][]model.StopEvent // stop id -> events
    incidents map[int64]model.Incident
    revoked   map[string]time.Time
    subs      []model.Subscription
    // Webhooks queue state
    deliveries  map[string]*memDelivery
    deliveryIDs []string
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
    return &Memory{
        Now:        time.Now,
        seq:        map[string]int64{},
        users:      map[int64]model.User{},
        vehicles:   map[int64]model.Vehicle{},
        points:     map[int64]model.GarbagePoint{},
        fractions:  map[int64]model.Fraction{},
        sizes:      map[int64]model.ContainerSize{},
        orders:     map[int64]model.KioskOrder{},
        shifts:     map[int64]model.Shift{},
        routes:     map[int64]*model.Route{},
        stopRoute:  map[int64]int64{},
        events:     map[int64][]model.StopEvent{},
        incidents:  map[int64]model.Incident{},
        revoked:    map[string]time.Time{},
        deliveries: map[string]*memDelivery{},
    }
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
    CreatedAt     time.Time
    DedupKey      string
}

func (m *Memory) next(kind string) int64 {
    m.seq[kind]++
    return m.seq[kind]
}

func (m *Memory) now() time.Time { return m.Now().UTC() }

func (m *Memory) Ping(ctx context.Context) error { return nil }

func sortedValues[T any](src map[int64]T) []T {
    keys := make([]int64, 0, len(src))
    for k := range src { keys = append(keys, k) }
    sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
    out := make([]T, 0, len(keys))
    for _, k := range keys { out = append(out, src[k]) }
    return out
}

func notFound(entity string, id int64) error {
    return fmt.Errorf("%w: %s %d", ErrNotFound, entity, id)
}

func invalid(format string, args ...any) error {
    return fmt.Errorf("%w: %s", lifecycle.ErrInvalid, fmt.Sprintf(format, args...))
}

func conflict(format string, args ...any) error {
    return fmt.Errorf("%w: %s", lifecycle.ErrConflict, fmt.Sprintf(format, args...))
}

func boolOr(p *bool, d bool) bool {
    if p == nil { return d }
    return *p
}

// Users

func (m *Memory) loginTakenLocked(login string, except int64) bool {
    for _, u := range m.users {
        if u.ID != except && strings.EqualFold(u.Login, login) { return true }
    }
    return false
}

func (m *Memory) CreateUser(ctx context.Context, role model.Role, in model.UserInput, passwordHash string) (model.User, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if !role.Valid() { return model.User{}, invalid("unknown role %q", role) }
    if m.loginTakenLocked(in.Login, 0) { return model.User{}, conflict("login %q is already taken", in.Login) }
    u := model.User{ID: m.next("user"), Login: in.Login, Name: in.Name, Phone: in.Phone, Role: role, Active: boolOr(in.Active, true), PasswordHash: passwordHash, CreatedAt: m.now()}
    m.users[u.ID] = u
    return u, nil
}

func (m *Memory) UpdateUser(ctx context.Context, id int64, role model.Role, in model.UserInput, passwordHash string) (model.User, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    u, ok := m.users[id]
    if !ok || u.Role != role { return model.User{}, notFound(string(role), id) }
    if m.loginTakenLocked(in.Login, id) { return model.User{}, conflict("login %q is already taken", in.Login) }
    u.Login, u.Name, u.Phone = in.Login, in.Name, in.Phone
    u.Active = boolOr(in.Active, u.Active)
    if passwordHash != "" { u.PasswordHash = passwordHash }
    m.users[id] = u
    return u, nil
}

func (m *Memory) GetUser(ctx context.Context, id int64) (model.User, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    u, ok := m.users[id]
    if !ok { return model.User{}, notFound("user", id) }
    return u, nil
}

func (m *Memory) GetUserByLogin(ctx context.Context, login string) (model.User, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    for _, u := range m.users {
        if strings.EqualFold(u.Login, login) { return u, nil }
    }
    return model.User{}, fmt.Errorf("%w: user %q", ErrNotFound, login)
}

func (m *Memory) DeleteUser(ctx context.Context, id int64, role model.Role) error {
    m.mu.Lock(); defer m.mu.Unlock()
    u, ok := m.users[id]
    if !ok || u.Role != role { return notFound(string(role), id) }
    for _, r := range m.routes {
        if r.DriverID != nil && *r.DriverID == id { return conflict("user %d is assigned to route %d", id, r.ID) }
    }
    for _, sh := range m.shifts {
        if sh.DriverID == id { return conflict("user %d has shifts", id) }
    }
    for pid, p := range m.points {
        if p.KioskID != nil && *p.KioskID == id { p.KioskID = nil; m.points[pid] = p }
    }
    for oid, o := range m.orders {
        if o.UserID != nil && *o.UserID == id { o.UserID = nil; m.orders[oid] = o }
    }
    delete(m.users, id)
    return nil
}

func (m *Memory) QueryUsers(ctx context.Context, role model.Role, q model.GridRequest) ([]model.User, int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var rows []model.User
    for _, u := range sortedValues(m.users) {
        if u.Role == role { rows = append(rows, u) }
    }
    return queryRows(userGrid, rows, q, func(u model.User) int64 { return u.ID })
}

func (m *Memory) requireRoleLocked(id int64, role model.Role) error {
    u, ok := m.users[id]
    if !ok || u.Role != role { return invalid("%s %d does not exist", role, id) }
    return nil
}

// Vehicles

func (m *Memory) plateTakenLocked(plate string, except int64) bool {
    for _, v := range m.vehicles {
        if v.ID != except && strings.EqualFold(v.PlateNumber, plate) { return true }
    }
    return false
}

func (m *Memory) CreateVehicle(ctx context.Context, in model.VehicleInput) (model.Vehicle, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.plateTakenLocked(in.PlateNumber, 0) { return model.Vehicle{}, conflict("plate number %q is already registered", in.PlateNumber) }
    v := model.Vehicle{ID: m.next("vehicle"), PlateNumber: in.PlateNumber, Name: in.Name, Capacity: in.Capacity, Active: boolOr(in.Active, true), CreatedAt: m.now()}
    m.vehicles[v.ID] = v
    return v, nil
}

func (m *Memory) UpdateVehicle(ctx context.Context, id int64, in model.VehicleInput) (model.Vehicle, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    v, ok := m.vehicles[id]
    if !ok { return model.Vehicle{}, notFound("vehicle", id) }
    if m.plateTakenLocked(in.PlateNumber, id) { return model.Vehicle{}, conflict("plate number %q is already registered", in.PlateNumber) }
    v.PlateNumber, v.Name, v.Capacity = in.PlateNumber, in.Name, in.Capacity
    v.Active = boolOr(in.Active, v.Active)
    m.vehicles[id] = v
    return v, nil
}

func (m *Memory) GetVehicle(ctx context.Context, id int64) (model.Vehicle, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    v, ok := m.vehicles[id]
    if !ok { return model.Vehicle{}, notFound("vehicle", id) }
    return v, nil
}

func (m *Memory) DeleteVehicle(ctx context.Context, id int64) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.vehicles[id]; !ok { return notFound("vehicle", id) }
    for _, r := range m.routes {
        if r.VehicleID != nil && *r.VehicleID == id { return conflict("vehicle %d is used by route %d", id, r.ID) }
    }
    for _, sh := range m.shifts {
        if sh.VehicleID != nil && *sh.VehicleID == id { return conflict("vehicle %d is used by shift %d", id, sh.ID) }
    }
    delete(m.vehicles, id)
    return nil
}

func (m *Memory) QueryVehicles(ctx context.Context, q model.GridRequest) ([]model.Vehicle, int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return queryRows(vehicleGrid, sortedValues(m.vehicles), q, func(v model.Vehicle) int64 { return v.ID })
}

func (m *Memory) requireVehicleLocked(id *int64) error {
    if id == nil { return nil }
    if _, ok := m.vehicles[*id]; !ok { return invalid("vehicle %d does not exist", *id) }
    return nil
}

// Garbage points

func (m *Memory) CreateGarbagePoint(ctx context.Context, in model.GarbagePointInput) (model.GarbagePoint, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if in.KioskID != nil {
        if err := m.requireRoleLocked(*in.KioskID, model.RoleKiosk); err != nil { return model.GarbagePoint{}, err }
    }
    p := model.GarbagePoint{ID: m.next("point"), Address: in.Address, Capacity: in.Capacity, Open: boolOr(in.Open, true), Lat: in.Lat, Lon: in.Lon, KioskID: in.KioskID, CreatedAt: m.now()}
    m.points[p.ID] = p
    return p, nil
}

func (m *Memory) UpdateGarbagePoint(ctx context.Context, id int64, in model.GarbagePointInput) (model.GarbagePoint, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    p, ok := m.points[id]
    if !ok { return model.GarbagePoint{}, notFound("garbage point", id) }
    if in.KioskID != nil {
        if err := m.requireRoleLocked(*in.KioskID, model.RoleKiosk); err != nil { return model.GarbagePoint{}, err }
    }
    p.Address, p.Capacity, p.Lat, p.Lon, p.KioskID = in.Address, in.Capacity, in.Lat, in.Lon, in.KioskID
    p.Open = boolOr(in.Open, p.Open)
    m.points[id] = p
    return p, nil
}

func (m *Memory) GetGarbagePoint(ctx context.Context, id int64) (model.GarbagePoint, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    p, ok := m.points[id]
    if !ok { return model.GarbagePoint{}, notFound("garbage point", id) }
    return p, nil
}

func (m *Memory) GetGarbagePointByKiosk(ctx context.Context, kioskID int64) (model.GarbagePoint, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    for _, p := range sortedValues(m.points) {
        if p.KioskID != nil && *p.KioskID == kioskID { return p, nil }
    }
    return model.GarbagePoint{}, fmt.Errorf("%w: no garbage point for kiosk %d", ErrNotFound, kioskID)
}

func (m *Memory) DeleteGarbagePoint(ctx context.Context, id int64) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.points[id]; !ok { return notFound("garbage point", id) }
    for _, o := range m.orders {
        if o.GarbagePointID == id { return conflict("garbage point %d has kiosk orders", id) }
    }
    for _, r := range m.routes {
        for _, s := range r.Stops {
            if s.GarbagePointID != nil && *s.GarbagePointID == id { return conflict("garbage point %d is a stop of route %d", id, r.ID) }
        }
    }
    delete(m.points, id)
    return nil
}

func (m *Memory) QueryGarbagePoints(ctx context.Context, q model.GridRequest) ([]model.GarbagePoint, int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return queryRows(garbagePointGrid, sortedValues(m.points), q, func(p model.GarbagePoint) int64 { return p.ID })
}

// Fractions

func (m *Memory) codeTakenLocked(code string, except int64) bool {
    for _, f := range m.fractions {
        if f.ID != except && strings.EqualFold(f.Code, code) { return true }
    }
    return false
}

func (m *Memory) CreateFraction(ctx context.Context, in model.FractionInput) (model.Fraction, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.codeTakenLocked(in.Code, 0) { return model.Fraction{}, conflict("fraction code %q is already used", in.Code) }
    f := model.Fraction{ID: m.next("fraction"), Name: in.Name, Code: in.Code, Description: in.Description, Hazardous: in.Hazardous}
    m.fractions[f.ID] = f
    return f, nil
}

func (m *Memory) UpdateFraction(ctx context.Context, id int64, in model.FractionInput) (model.Fraction, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    f, ok := m.fractions[id]
    if !ok { return model.Fraction{}, notFound("fraction", id) }
    if m.codeTakenLocked(in.Code, id) { return model.Fraction{}, conflict("fraction code %q is already used", in.Code) }
    f.Name, f.Code, f.Description, f.Hazardous = in.Name, in.Code, in.Description, in.Hazardous
    m.fractions[id] = f
    return f, nil
}

func (m *Memory) GetFraction(ctx context.Context, id int64) (model.Fraction, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    f, ok := m.fractions[id]
    if !ok { return model.Fraction{}, notFound("fraction", id) }
    return f, nil
}

func (m *Memory) DeleteFraction(ctx context.Context, id int64) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.fractions[id]; !ok { return notFound("fraction", id) }
    for _, o := range m.orders {
        if o.FractionID == id { return conflict("fraction %d is used by kiosk orders", id) }
    }
    delete(m.fractions, id)
    return nil
}

func (m *Memory) QueryFractions(ctx context.Context, q model.GridRequest) ([]model.Fraction, int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return queryRows(fractionGrid, sortedValues(m.fractions), q, func(f model.Fraction) int64 { return f.ID })
}

// Container sizes

func (m *Memory) CreateContainerSize(ctx context.Context, in model.ContainerSizeInput) (model.ContainerSize, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    c := model.ContainerSize{ID: m.next("size"), Code: in.Code, Capacity: in.Capacity, Length: in.Length, Width: in.Width, Height: in.Height, Description: in.Description, CreatedAt: m.now()}
    m.sizes[c.ID] = c
    return c, nil
}

func (m *Memory) UpdateContainerSize(ctx context.Context, id int64, in model.ContainerSizeInput) (model.ContainerSize, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    c, ok := m.sizes[id]
    if !ok { return model.ContainerSize{}, notFound("container size", id) }
    c.Code, c.Capacity, c.Length, c.Width, c.Height, c.Description = in.Code, in.Capacity, in.Length, in.Width, in.Height, in.Description
    m.sizes[id] = c
    return c, nil
}

func (m *Memory) GetContainerSize(ctx context.Context, id int64) (model.ContainerSize, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    c, ok := m.sizes[id]
    if !ok { return model.ContainerSize{}, notFound("container size", id) }
    return c, nil
}

func (m *Memory) DeleteContainerSize(ctx context.Context, id int64) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.sizes[id]; !ok { return notFound("container size", id) }
    for _, o := range m.orders {
        if o.ContainerSizeID == id { return conflict("container size %d is used by kiosk orders", id) }
    }
    delete(m.sizes, id)
    return nil
}

func (m *Memory) QueryContainerSizes(ctx context.Context, q model.GridRequest) ([]model.ContainerSize, int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return queryRows(containerSizeGrid, sortedValues(m.sizes), q, func(c model.ContainerSize) int64 { return c.ID })
}

// Kiosk orders

func (m *Memory) checkOrderRefsLocked(pointID int64, in model.KioskOrderInput) error {
    if _, ok := m.points[pointID]; !ok { return invalid("garbage point %d does not exist", pointID) }
    if _, ok := m.sizes[in.ContainerSizeID]; !ok { return invalid("container size %d does not exist", in.ContainerSizeID) }
    if _, ok := m.fractions[in.FractionID]; !ok { return invalid("fraction %d does not exist", in.FractionID) }
    if in.UserID != nil {
        if _, ok := m.users[*in.UserID]; !ok { return invalid("user %d does not exist", *in.UserID) }
    }
    return nil
}

func (m *Memory) CreateKioskOrder(ctx context.Context, pointID int64, in model.KioskOrderInput) (model.KioskOrder, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if err := m.checkOrderRefsLocked(pointID, in); err != nil { return model.KioskOrder{}, err }
    st := in.Status
    if st == "" { st = model.OrderCreated }
    o := model.KioskOrder{ID: m.next("order"), GarbagePointID: pointID, ContainerSizeID: in.ContainerSizeID, FractionID: in.FractionID, UserID: in.UserID, Weight: in.Weight, Status: st, CreatedAt: m.now()}
    m.orders[o.ID] = o
    return o, nil
}

func (m *Memory) UpdateKioskOrder(ctx context.Context, id int64, in model.KioskOrderInput) (model.KioskOrder, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    o, ok := m.orders[id]
    if !ok { return model.KioskOrder{}, notFound("kiosk order", id) }
    pointID := o.GarbagePointID
    if in.GarbagePointID != nil { pointID = *in.GarbagePointID }
    if err := m.checkOrderRefsLocked(pointID, in); err != nil { return model.KioskOrder{}, err }
    o.GarbagePointID, o.ContainerSizeID, o.FractionID, o.UserID, o.Weight = pointID, in.ContainerSizeID, in.FractionID, in.UserID, in.Weight
    if in.Status != "" { o.Status = in.Status }
    m.orders[id] = o
    return o, nil
}

func (m *Memory) GetKioskOrder(ctx context.Context, id int64) (model.KioskOrder, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    o, ok := m.orders[id]
    if !ok { return model.KioskOrder{}, notFound("kiosk order", id) }
    return o, nil
}

func (m *Memory) DeleteKioskOrder(ctx context.Context, id int64) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.orders[id]; !ok { return notFound("kiosk order", id) }
    delete(m.orders, id)
    return nil
}

func (m *Memory) QueryKioskOrders(ctx context.Context, q model.GridRequest) ([]model.KioskOrder, int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return queryRows(kioskOrderGrid, sortedValues(m.orders), q, func(o model.KioskOrder) int64 { return o.ID })
}

func (m *Memory) ActiveOrderLoad(ctx context.Context) ([]model.PointLoad, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    byPoint := map[int64]*model.PointLoad{}
    for _, o := range sortedValues(m.orders) {
        if !o.Status.Active() { continue }
        l := byPoint[o.GarbagePointID]
        if l == nil {
            l = &model.PointLoad{}
            byPoint[o.GarbagePointID] = l
        }
        l.Weight += o.Weight
        l.OrderIDs = append(l.OrderIDs, o.ID)
    }
    out := []model.PointLoad{}
    for _, p := range sortedValues(m.points) {
        if l, ok := byPoint[p.ID]; ok {
            l.Point = p
            out = append(out, *l)
        }
    }
    return out, nil
}

// Shifts

func (m *Memory) openShiftLocked(driverID int64) *model.Shift {
    for _, sh := range m.shifts {
        if sh.DriverID == driverID && sh.Status == model.ShiftOpen {
            s := sh
            return &s
        }
    }
    return nil
}

func (m *Memory) OpenShift(ctx context.Context, driverID int64, vehicleID *int64) (model.Shift, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if u, ok := m.users[driverID]; !ok || u.Role != model.RoleDriver { return model.Shift{}, notFound("driver", driverID) }
    if err := m.requireVehicleLocked(vehicleID); err != nil { return model.Shift{}, err }
    if err := lifecycle.CanOpenShift(m.openShiftLocked(driverID)); err != nil { return model.Shift{}, err }
    sh := lifecycle.NewShift(driverID, vehicleID, m.now())
    sh.ID = m.next("shift")
    m.shifts[sh.ID] = sh
    return sh, nil
}

func (m *Memory) CloseShift(ctx context.Context, shiftID, callerID int64, admin bool) (model.Shift, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    sh, ok := m.shifts[shiftID]
    if !ok { return model.Shift{}, notFound("shift", shiftID) }
    active := 0
    for _, r := range m.routes {
        if r.ShiftID != nil && *r.ShiftID == shiftID && r.Status == model.RouteInProgress { active++ }
    }
    if err := lifecycle.CanCloseShift(sh, callerID, admin, active); err != nil { return model.Shift{}, err }
    lifecycle.CloseShift(&sh, m.now())
    m.shifts[shiftID] = sh
    return sh, nil
}

func (m *Memory) CurrentShift(ctx context.Context, driverID int64) (model.Shift, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if sh := m.openShiftLocked(driverID); sh != nil { return *sh, nil }
    return model.Shift{}, fmt.Errorf("%w: Driver has no open shift", ErrNotFound)
}

func (m *Memory) ListShifts(ctx context.Context, driverID *int64) ([]model.Shift, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Shift{}
    for _, sh := range m.shifts {
        if driverID == nil || sh.DriverID == *driverID { out = append(out, sh) }
    }
    sort.Slice(out, func(i, j int) bool {
        if !out[i].OpenedAt.Equal(out[j].OpenedAt) { return out[i].OpenedAt.After(out[j].OpenedAt) }
        return out[i].ID > out[j].ID
    })
    return out, nil
}

// Routes

func (m *Memory) routeLocked(id int64) (*model.Route, error) {
    r, ok := m.routes[id]
    if !ok { return nil, notFound("route", id) }
    return r, nil
}

func snapshot(r *model.Route) model.Route {
    out := *r
    out.Stops = append([]model.Stop(nil), r.Stops...)
    lifecycle.Decorate(&out)
    return out
}

func (m *Memory) stopIndexLocked(r *model.Route, stopID int64) (int, error) {
    for i := range r.Stops {
        if r.Stops[i].ID == stopID { return i, nil }
    }
    return -1, fmt.Errorf("%w: stop %d on route %d", ErrNotFound, stopID, r.ID)
}

func (m *Memory) appendEventLocked(stopID int64, t model.StopEventType, comment *string) {
    ev := model.StopEvent{ID: m.next("event"), StopID: stopID, EventType: t, CreatedAt: m.now(), Comment: comment}
    m.events[stopID] = append(m.events[stopID], ev)
}

func (m *Memory) checkRouteRefsLocked(in model.RouteInput) error {
    if err := m.requireVehicleLocked(in.VehicleID); err != nil { return err }
    if in.DriverID != nil {
        if err := m.requireRoleLocked(*in.DriverID, model.RoleDriver); err != nil { return err }
    }
    for _, s := range in.Stops {
        if s.GarbagePointID != nil {
            if _, ok := m.points[*s.GarbagePointID]; !ok { return invalid("garbage point %d does not exist", *s.GarbagePointID) }
        }
    }
    return nil
}

func (m *Memory) insertRouteLocked(in model.RouteInput) (*model.Route, error) {
    if err := m.checkRouteRefsLocked(in); err != nil { return nil, err }
    date := in.PlannedDate
    if date == "" { date = m.now().Format(time.DateOnly) }
    r := &model.Route{ID: m.next("route"), PlannedDate: date, Status: model.RoutePlanned, DriverID: in.DriverID, VehicleID: in.VehicleID,
        PlannedStartAt: in.PlannedStartAt, PlannedEndAt: in.PlannedEndAt, CreatedAt: m.now()}
    for _, si := range in.Stops {
        seq := lifecycle.NextSeqNo(r.Stops)
        if si.SeqNo != nil { seq = *si.SeqNo }
        if err := lifecycle.CheckSeqNoFree(r.Stops, seq, 0); err != nil { return nil, err }
        st := lifecycle.NewStop(r.ID, seq, si)
        st.ID = m.next("stop")
        r.Stops = append(r.Stops, st)
    }
    m.routes[r.ID] = r
    for _, st := range r.Stops { m.stopRoute[st.ID] = r.ID }
    return r, nil
}

func (m *Memory) CreateRoute(ctx context.Context, in model.RouteInput) (model.Route, error) {
    if err := lifecycle.ValidateRouteInput(in); err != nil { return model.Route{}, err }
    m.mu.Lock(); defer m.mu.Unlock()
    r, err := m.insertRouteLocked(in)
    if err != nil { return model.Route{}, err }
    return snapshot(r), nil
}

func (m *Memory) CreateRouteFromOrders(ctx context.Context, in model.RouteInput, orderIDs []int64) (model.Route, error) {
    if err := validateGeneratedStops(in); err != nil { return model.Route{}, err }
    m.mu.Lock(); defer m.mu.Unlock()
    for _, id := range orderIDs {
        if o, ok := m.orders[id]; !ok || !o.Status.Active() { return model.Route{}, ordersTaken(id) }
    }
    r, err := m.insertRouteLocked(in)
    if err != nil { return model.Route{}, err }
    for _, id := range orderIDs {
        o := m.orders[id]
        o.Status = model.OrderCollected
        m.orders[id] = o
    }
    return snapshot(r), nil
}

func ordersTaken(id int64) error {
    return conflict("kiosk order %d is no longer active; plan again", id)
}

// validateGeneratedStops accepts stops carrying both a garbage point and its
// address, which admin input may not.
func validateGeneratedStops(in model.RouteInput) error {
    for i, s := range in.Stops {
        if s.GarbagePointID == nil { return invalid("stops[%d]: generated stops need a garbage point", i) }
    }
    head := in
    head.Stops = nil
    return lifecycle.ValidateRouteInput(head)
}

func (m *Memory) UpdateRoute(ctx context.Context, id int64, in model.RouteInput) (model.Route, error) {
    in.Stops = nil
    if err := lifecycle.ValidateRouteInput(in); err != nil { return model.Route{}, err }
    m.mu.Lock(); defer m.mu.Unlock()
    r, err := m.routeLocked(id)
    if err != nil { return model.Route{}, err }
    if err := lifecycle.CanEditPlan(*r); err != nil { return model.Route{}, err }
    if err := m.checkRouteRefsLocked(in); err != nil { return model.Route{}, err }
    if in.PlannedDate != "" { r.PlannedDate = in.PlannedDate }
    r.PlannedStartAt, r.PlannedEndAt, r.VehicleID = in.PlannedStartAt, in.PlannedEndAt, in.VehicleID
    if in.DriverID != nil { r.DriverID = in.DriverID }
    return snapshot(r), nil
}

func (m *Memory) GetRoute(ctx context.Context, id int64) (model.Route, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, err := m.routeLocked(id)
    if err != nil { return model.Route{}, err }
    return snapshot(r), nil
}

func (m *Memory) ListRoutes(ctx context.Context, f model.RouteFilter) ([]model.Route, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Route{}
    for _, r := range m.routes {
        if f.Status != "" && r.Status != f.Status { continue }
        if f.Date != "" && r.PlannedDate != f.Date { continue }
        if f.DriverID != nil && (r.DriverID == nil || *r.DriverID != *f.DriverID) { continue }
        out = append(out, snapshot(r))
    }
    sortRoutes(out)
    return out, nil
}

func sortRoutes(rs []model.Route) {
    sort.Slice(rs, func(i, j int) bool {
        if rs[i].PlannedDate != rs[j].PlannedDate { return rs[i].PlannedDate > rs[j].PlannedDate }
        return rs[i].ID > rs[j].ID
    })
}

func (m *Memory) AssignRoute(ctx context.Context, id int64, req model.AssignRequest) (model.Route, error) {
    if err := lifecycle.ValidateAssign(req); err != nil { return model.Route{}, err }
    m.mu.Lock(); defer m.mu.Unlock()
    r, err := m.routeLocked(id)
    if err != nil { return model.Route{}, err }
    if err := m.requireRoleLocked(req.DriverID, model.RoleDriver); err != nil { return model.Route{}, err }
    if err := lifecycle.CanAssign(*r); err != nil { return model.Route{}, err }
    lifecycle.ApplyAssign(r, req)
    return snapshot(r), nil
}

func (m *Memory) StartRoute(ctx context.Context, id, driverID int64) (model.Route, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, err := m.routeLocked(id)
    if err != nil { return model.Route{}, err }
    sh := m.openShiftLocked(driverID)
    if err := lifecycle.CanStart(*r, driverID, sh); err != nil { return model.Route{}, err }
    lifecycle.ApplyStart(r, *sh, m.now())
    return snapshot(r), nil
}

func (m *Memory) FinishRoute(ctx context.Context, id, callerID int64, admin bool) (model.Route, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, err := m.routeLocked(id)
    if err != nil { return model.Route{}, err }
    if err := lifecycle.CanFinish(*r, callerID, admin); err != nil { return model.Route{}, err }
    for _, i := range lifecycle.ApplyFinish(r, m.now()) {
        m.appendEventLocked(r.Stops[i].ID, model.EventSkipped, nil)
    }
    return snapshot(r), nil
}

func (m *Memory) CancelRoute(ctx context.Context, id int64) (model.Route, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, err := m.routeLocked(id)
    if err != nil { return model.Route{}, err }
    if err := lifecycle.CanCancel(*r); err != nil { return model.Route{}, err }
    lifecycle.ApplyCancel(r, m.now())
    return snapshot(r), nil
}

func (m *Memory) DeleteRoute(ctx context.Context, id int64) error {
    m.mu.Lock(); defer m.mu.Unlock()
    r, err := m.routeLocked(id)
    if err != nil { return err }
    if err := lifecycle.CanDelete(*r); err != nil { return err }
    for _, st := range r.Stops {
        delete(m.stopRoute, st.ID)
        delete(m.events, st.ID)
    }
    for iid, inc := range m.incidents {
        if inc.RouteID == id { delete(m.incidents, iid) }
    }
    delete(m.routes, id)
    return nil
}

// Stops

func (m *Memory) CreateStop(ctx context.Context, routeID int64, in model.StopInput) (model.Route, error) {
    if err := lifecycle.ValidateStopInput(in); err != nil { return model.Route{}, err }
    m.mu.Lock(); defer m.mu.Unlock()
    r, err := m.routeLocked(routeID)
    if err != nil { return model.Route{}, err }
    if err := lifecycle.CanEditPlan(*r); err != nil { return model.Route{}, err }
    if err := m.checkRouteRefsLocked(model.RouteInput{Stops: []model.StopInput{in}}); err != nil { return model.Route{}, err }
    seq := lifecycle.NextSeqNo(r.Stops)
    if in.SeqNo != nil { seq = *in.SeqNo }
    if err := lifecycle.CheckSeqNoFree(r.Stops, seq, 0); err != nil { return model.Route{}, err }
    st := lifecycle.NewStop(routeID, seq, in)
    st.ID = m.next("stop")
    r.Stops = append(r.Stops, st)
    m.stopRoute[st.ID] = routeID
    return snapshot(r), nil
}

func (m *Memory) UpdateStopPlan(ctx context.Context, routeID, stopID int64, in model.StopInput) (model.Route, error) {
    if err := lifecycle.ValidateStopInput(in); err != nil { return model.Route{}, err }
    m.mu.Lock(); defer m.mu.Unlock()
    r, err := m.routeLocked(routeID)
    if err != nil { return model.Route{}, err }
    i, err := m.stopIndexLocked(r, stopID)
    if err != nil { return model.Route{}, err }
    if err := lifecycle.CanEditPlan(*r); err != nil { return model.Route{}, err }
    if err := m.checkRouteRefsLocked(model.RouteInput{Stops: []model.StopInput{in}}); err != nil { return model.Route{}, err }
    seq := r.Stops[i].SeqNo
    if in.SeqNo != nil { seq = *in.SeqNo }
    if err := lifecycle.CheckSeqNoFree(r.Stops, seq, stopID); err != nil { return model.Route{}, err }
    st := lifecycle.NewStop(routeID, seq, in)
    st.ID, st.Status, st.Note, st.ActualCapacity = stopID, r.Stops[i].Status, r.Stops[i].Note, r.Stops[i].ActualCapacity
    r.Stops[i] = st
    return snapshot(r), nil
}

func (m *Memory) DeleteStop(ctx context.Context, routeID, stopID int64) (model.Route, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, err := m.routeLocked(routeID)
    if err != nil { return model.Route{}, err }
    i, err := m.stopIndexLocked(r, stopID)
    if err != nil { return model.Route{}, err }
    if err := lifecycle.CanEditPlan(*r); err != nil { return model.Route{}, err }
    r.Stops = append(r.Stops[:i:i], r.Stops[i+1:]...)
    delete(m.stopRoute, stopID)
    delete(m.events, stopID)
    for iid, inc := range m.incidents {
        if inc.StopID == stopID { delete(m.incidents, iid) }
    }
    return snapshot(r), nil
}

func (m *Memory) UpdateStop(ctx context.Context, routeID, stopID, callerID int64, admin bool, upd model.StopUpdate) (model.Route, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, err := m.routeLocked(routeID)
    if err != nil { return model.Route{}, err }
    i, err := m.stopIndexLocked(r, stopID)
    if err != nil { return model.Route{}, err }
    if err := lifecycle.ValidateStopUpdate(*r, r.Stops[i], callerID, admin, upd); err != nil { return model.Route{}, err }
    if ev, ok := lifecycle.ApplyStopUpdate(&r.Stops[i], upd); ok {
        m.appendEventLocked(stopID, ev, upd.Note)
    }
    return snapshot(r), nil
}

func (m *Memory) ListStopEvents(ctx context.Context, routeID, stopID int64) ([]model.StopEvent, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, err := m.routeLocked(routeID)
    if err != nil { return nil, err }
    if _, err := m.stopIndexLocked(r, stopID); err != nil { return nil, err }
    return append([]model.StopEvent{}, m.events[stopID]...), nil
}

// Incidents

func (m *Memory) CreateIncident(ctx context.Context, in model.IncidentInput, createdBy string, callerID int64, admin bool) (model.Incident, error) {
    if err := lifecycle.ValidateIncidentInput(in); err != nil { return model.Incident{}, err }
    m.mu.Lock(); defer m.mu.Unlock()
    routeID, ok := m.stopRoute[in.StopID]
    if !ok { return model.Incident{}, notFound("stop", in.StopID) }
    r := m.routes[routeID]
    if err := lifecycle.CanReport(*r, callerID, admin); err != nil { return model.Incident{}, err }
    if in.MarkUnavailable {
        i, err := m.stopIndexLocked(r, in.StopID)
        if err != nil { return model.Incident{}, err }
        if err := lifecycle.CanMarkUnavailable(*r, r.Stops[i], callerID, admin); err != nil { return model.Incident{}, err }
        upd := lifecycle.UnavailableUpdate(in.Type)
        upd.ActualCapacity = r.Stops[i].ActualCapacity
        if ev, ok := lifecycle.ApplyStopUpdate(&r.Stops[i], upd); ok {
            m.appendEventLocked(in.StopID, ev, upd.Note)
        }
    }
    now := m.now()
    inc := model.Incident{ID: m.next("incident"), StopID: in.StopID, RouteID: routeID, Type: in.Type, Description: in.Description, PhotoURL: in.PhotoURL, CreatedAt: now, UpdatedAt: now}
    if createdBy != "" { inc.CreatedByLogin = &createdBy }
    m.incidents[inc.ID] = inc
    return inc, nil
}

func (m *Memory) UpdateIncident(ctx context.Context, id int64, in model.IncidentInput) (model.Incident, error) {
    if !in.Type.Valid() { return model.Incident{}, invalid("unknown incident type %q", in.Type) }
    m.mu.Lock(); defer m.mu.Unlock()
    inc, ok := m.incidents[id]
    if !ok { return model.Incident{}, notFound("incident", id) }
    if err := lifecycle.CanResolve(inc); err != nil { return model.Incident{}, err }
    inc.Type, inc.Description, inc.PhotoURL, inc.UpdatedAt = in.Type, in.Description, in.PhotoURL, m.now()
    m.incidents[id] = inc
    return inc, nil
}

func (m *Memory) ResolveIncident(ctx context.Context, id int64) (model.Incident, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    inc, ok := m.incidents[id]
    if !ok { return model.Incident{}, notFound("incident", id) }
    if err := lifecycle.CanResolve(inc); err != nil { return model.Incident{}, err }
    lifecycle.ApplyResolve(&inc, m.now())
    m.incidents[id] = inc
    return inc, nil
}

func (m *Memory) GetIncident(ctx context.Context, id int64) (model.Incident, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    inc, ok := m.incidents[id]
    if !ok { return model.Incident{}, notFound("incident", id) }
    return inc, nil
}

func (m *Memory) ListIncidents(ctx context.Context, f model.IncidentFilter) ([]model.Incident, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Incident{}
    for _, inc := range m.incidents {
        if f.Resolved != nil && inc.Resolved != *f.Resolved { continue }
        if f.StopID != nil && inc.StopID != *f.StopID { continue }
        if f.RouteID != nil && inc.RouteID != *f.RouteID { continue }
        out = append(out, inc)
    }
    sort.Slice(out, func(i, j int) bool {
        if !out[i].CreatedAt.Equal(out[j].CreatedAt) { return out[i].CreatedAt.After(out[j].CreatedAt) }
        return out[i].ID > out[j].ID
    })
    return out, nil
}

// Sessions

func (m *Memory) RevokeSession(ctx context.Context, jti string, expiresAt time.Time) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.revoked[jti] = expiresAt
    return nil
}

func (m *Memory) IsSessionRevoked(ctx context.Context, jti string) (bool, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    _, ok := m.revoked[jti]
    return ok, nil
}

func (m *Memory) PurgeRevokedSessions(ctx context.Context, before time.Time) (int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    n := 0
    for jti, exp := range m.revoked {
        if exp.Before(before) { delete(m.revoked, jti); n++ }
    }
    return n, nil
}

// Subscriptions

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs = append(m.subs, s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscription
    for _, s := range m.subs {
        for _, e := range s.Events { if e == eventType || e == "*" { out = append(out, s); break } }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return append([]model.Subscription{}, m.subs...), nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    out := make([]model.Subscription, 0, len(m.subs))
    for _, s := range m.subs { if s.ID != id { out = append(out, s) } }
    if len(out) == len(m.subs) { return fmt.Errorf("%w: subscription %s", ErrNotFound, id) }
    m.subs = out
    return nil
}

// Webhook deliveries

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    dk := computeDedupKey(payload)
    for _, d := range m.deliveries {
        if d.EventType == eventType && d.URL == url && d.DedupKey == dk { return d.ID, nil }
    }
    id := uuid.New().String()
    now := time.Now()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending}, NextAttemptAt: now, CreatedAt: now, DedupKey: dk}
    m.deliveries[id] = d
    m.deliveryIDs = append(m.deliveryIDs, id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range m.deliveryIDs {
        d := m.deliveries[id]
        if d == nil { continue }
        if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
            out = append(out, d.WebhookDelivery)
            if limit > 0 && len(out) >= limit { break }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return nil }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = DeliveryDelivered
        now := time.Now()
        d.DeliveredAt = &now
    } else {
        d.Status = DeliveryRetry
        d.LastError = lastError
        if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return nil }
    d.Attempts++
    d.Status = DeliveryFailed
    d.LastError, d.ResponseCode, d.LatencyMs = lastError, responseCode, latencyMs
    return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]model.DeliveryRecord, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 || limit > 500 { limit = 100 }
    out := []model.DeliveryRecord{}
    for i := len(m.deliveryIDs) - 1; i >= 0 && len(out) < limit; i-- {
        d := m.deliveries[m.deliveryIDs[i]]
        if d == nil || (status != "" && d.Status != status) { continue }
        rec := model.DeliveryRecord{ID: d.ID, EventType: d.EventType, URL: d.URL, Status: d.Status, Attempts: d.Attempts, LastError: d.LastError,
            ResponseCode: d.ResponseCode, LatencyMs: d.LatencyMs, DeliveredAt: d.DeliveredAt, CreatedAt: d.CreatedAt}
        if d.Status == DeliveryPending || d.Status == DeliveryRetry {
            t := d.NextAttemptAt
            rec.NextAttemptAt = &t
        }
        out = append(out, rec)
    }
    return out, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return fmt.Errorf("%w: delivery %s", ErrNotFound, id) }
    d.Status = DeliveryPending
    d.NextAttemptAt = time.Now()
    return nil
}

func (m *Memory) PurgeWebhookDeliveries(ctx context.Context, before time.Time) (int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    kept := m.deliveryIDs[:0]
    n := 0
    for _, id := range m.deliveryIDs {
        d := m.deliveries[id]
        if d != nil && (d.Status == DeliveryDelivered || d.Status == DeliveryFailed) && d.CreatedAt.Before(before) {
            delete(m.deliveries, id)
            n++
            continue
        }
        kept = append(kept, id)
    }
    m.deliveryIDs = kept
    return n, nil
}
