package api

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "strings"

    "wasteroute/internal/auth"
    "wasteroute/internal/lifecycle"
    "wasteroute/internal/model"
)

// resource is one admin reference entity exposed as
// POST /api/<name>, GET/PUT/DELETE /api/<name>/{id} and POST /api/<name>/query.
type resource[T any, In any] struct {
    name        string
    createRoles []model.Role
    validate    func(in *In, create bool) error
    create      func(ctx context.Context, p auth.Principal, in In) (T, error)
    update      func(ctx context.Context, id int64, in In) (T, error)
    get         func(ctx context.Context, id int64) (T, error)
    del         func(ctx context.Context, id int64) error
    query       func(ctx context.Context, q model.GridRequest) ([]T, int, error)
}

func (res resource[T, In]) handler(s *Server) http.HandlerFunc {
    prefix := "/api/" + res.name
    createRoles := res.createRoles
    if len(createRoles) == 0 { createRoles = []model.Role{model.RoleAdmin} }
    return func(w http.ResponseWriter, r *http.Request) {
        rest := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
        switch {
        case rest == "":
            if r.Method != http.MethodPost { methodNotAllowed(w, r); return }
            p, ok := s.requireRole(w, r, createRoles...)
            if !ok { return }
            var in In
            if !decodeJSON(w, r, &in) { return }
            if err := res.validate(&in, true); err != nil { writeError(w, r, err); return }
            out, err := res.create(r.Context(), p, in)
            if err != nil { writeError(w, r, err); return }
            writeJSON(w, http.StatusCreated, out)
        case rest == "query":
            if r.Method != http.MethodPost { methodNotAllowed(w, r); return }
            if _, ok := s.requireRole(w, r, model.RoleAdmin); !ok { return }
            var q model.GridRequest
            if !decodeJSON(w, r, &q) { return }
            rows, total, err := res.query(r.Context(), q)
            if err != nil { writeError(w, r, err); return }
            if rows == nil { rows = []T{} }
            writeJSON(w, http.StatusOK, model.GridResponse[T]{Rows: rows, LastRow: total})
        case !strings.Contains(rest, "/"):
            id, ok := parseID(rest)
            if !ok { badID(w, r, res.name); return }
            if _, ok := s.requireRole(w, r, model.RoleAdmin); !ok { return }
            switch r.Method {
            case http.MethodGet:
                out, err := res.get(r.Context(), id)
                if err != nil { writeError(w, r, err); return }
                writeJSON(w, http.StatusOK, out)
            case http.MethodPut:
                var in In
                if !decodeJSON(w, r, &in) { return }
                if err := res.validate(&in, false); err != nil { writeError(w, r, err); return }
                out, err := res.update(r.Context(), id, in)
                if err != nil { writeError(w, r, err); return }
                writeJSON(w, http.StatusOK, out)
            case http.MethodDelete:
                if err := res.del(r.Context(), id); err != nil { writeError(w, r, err); return }
                w.WriteHeader(http.StatusNoContent)
            default:
                methodNotAllowed(w, r)
            }
        default:
            writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        }
    }
}

// userResource serves users of one role: drivers or kiosk terminals.
func (s *Server) userResource(name string, role model.Role) http.HandlerFunc {
    st := s.Store
    hash := func(in model.UserInput) (string, error) {
        if in.Password == "" { return "", nil }
        return auth.HashPassword(in.Password)
    }
    return resource[model.User, model.UserInput]{
        name:     name,
        validate: validateUserInput,
        create: func(ctx context.Context, _ auth.Principal, in model.UserInput) (model.User, error) {
            h, err := hash(in)
            if err != nil { return model.User{}, err }
            return st.CreateUser(ctx, role, in, h)
        },
        update: func(ctx context.Context, id int64, in model.UserInput) (model.User, error) {
            h, err := hash(in)
            if err != nil { return model.User{}, err }
            return st.UpdateUser(ctx, id, role, in, h)
        },
        get: func(ctx context.Context, id int64) (model.User, error) {
            u, err := st.GetUser(ctx, id)
            if err == nil && u.Role != role { err = fmt.Errorf("%w: %s %d", lifecycle.ErrNotFound, role, id) }
            return u, err
        },
        del: func(ctx context.Context, id int64) error { return st.DeleteUser(ctx, id, role) },
        query: func(ctx context.Context, q model.GridRequest) ([]model.User, int, error) {
            return st.QueryUsers(ctx, role, q)
        },
    }.handler(s)
}

// ReferenceHandlers returns the admin CRUD handlers keyed by mount path.
func (s *Server) ReferenceHandlers() map[string]http.HandlerFunc {
    st := s.Store
    return map[string]http.HandlerFunc{
        "drivers": s.userResource("drivers", model.RoleDriver),
        "kiosk":   s.userResource("kiosk", model.RoleKiosk),
        "vehicles": resource[model.Vehicle, model.VehicleInput]{
            name:     "vehicles",
            validate: validateVehicleInput,
            create: func(ctx context.Context, _ auth.Principal, in model.VehicleInput) (model.Vehicle, error) {
                return st.CreateVehicle(ctx, in)
            },
            update: st.UpdateVehicle, get: st.GetVehicle, del: st.DeleteVehicle, query: st.QueryVehicles,
        }.handler(s),
        "garbage-points": resource[model.GarbagePoint, model.GarbagePointInput]{
            name:     "garbage-points",
            validate: validateGarbagePointInput,
            create: func(ctx context.Context, _ auth.Principal, in model.GarbagePointInput) (model.GarbagePoint, error) {
                return st.CreateGarbagePoint(ctx, in)
            },
            update: st.UpdateGarbagePoint, get: st.GetGarbagePoint, del: st.DeleteGarbagePoint, query: st.QueryGarbagePoints,
        }.handler(s),
        "fractions": resource[model.Fraction, model.FractionInput]{
            name:     "fractions",
            validate: validateFractionInput,
            create: func(ctx context.Context, _ auth.Principal, in model.FractionInput) (model.Fraction, error) {
                return st.CreateFraction(ctx, in)
            },
            update: st.UpdateFraction, get: st.GetFraction, del: st.DeleteFraction, query: st.QueryFractions,
        }.handler(s),
        "container-sizes": resource[model.ContainerSize, model.ContainerSizeInput]{
            name:     "container-sizes",
            validate: validateContainerSizeInput,
            create: func(ctx context.Context, _ auth.Principal, in model.ContainerSizeInput) (model.ContainerSize, error) {
                return st.CreateContainerSize(ctx, in)
            },
            update: st.UpdateContainerSize, get: st.GetContainerSize, del: st.DeleteContainerSize, query: st.QueryContainerSizes,
        }.handler(s),
        "kiosk-orders": resource[model.KioskOrder, model.KioskOrderInput]{
            name:        "kiosk-orders",
            createRoles: []model.Role{model.RoleAdmin, model.RoleKiosk},
            validate:    validateKioskOrderInput,
            create:      s.createKioskOrder,
            update:      st.UpdateKioskOrder, get: st.GetKioskOrder, del: st.DeleteKioskOrder, query: st.QueryKioskOrders,
        }.handler(s),
    }
}

// createKioskOrder places an order at the kiosk's own garbage point when a
// kiosk calls, or at garbagePointId when an admin does.
func (s *Server) createKioskOrder(ctx context.Context, p auth.Principal, in model.KioskOrderInput) (model.KioskOrder, error) {
    if p.IsKiosk() {
        pt, err := s.Store.GetGarbagePointByKiosk(ctx, p.UserID)
        if errors.Is(err, lifecycle.ErrNotFound) { return model.KioskOrder{}, invalidf("kiosk %d has no garbage point", p.UserID) }
        if err != nil { return model.KioskOrder{}, err }
        uid := p.UserID
        in.UserID = &uid
        return s.Store.CreateKioskOrder(ctx, pt.ID, in)
    }
    if in.GarbagePointID == nil { return model.KioskOrder{}, invalidf("garbagePointId is required") }
    return s.Store.CreateKioskOrder(ctx, *in.GarbagePointID, in)
}
