package store

import (
    "context"
    "database/sql"
    "fmt"
    "strconv"
    "strings"

    "wasteroute/internal/model"
)

type scanner interface{ Scan(dest ...any) error }

type queryer interface {
    QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queryGrid counts and pages one grid query. base conditions must already
// hold their arguments in a.
func queryGrid[T any](ctx context.Context, db *sql.DB, s gridSchema[T], from, cols string, base []string, a *sqlArgs, q model.GridRequest, scan func(scanner) (T, error)) ([]T, int, error) {
    g, err := s.compile(q)
    if err != nil { return nil, 0, err }
    where, order := g.sqlClauses(base, a)
    var total int
    if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+from+` WHERE `+where, a.args...).Scan(&total); err != nil { return nil, 0, mapError(err) }
    stmt := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT %s OFFSET %s`, cols, from, where, order, a.add(q.PageSize()), a.add(q.Offset()))
    rows, err := db.QueryContext(ctx, stmt, a.args...)
    if err != nil { return nil, 0, mapError(err) }
    defer rows.Close()
    out := []T{}
    for rows.Next() {
        v, err := scan(rows)
        if err != nil { return nil, 0, err }
        out = append(out, v)
    }
    return out, total, rows.Err()
}

// Users

const userCols = `id, login, name, phone, role, active, password_hash, created_at`

func scanUser(s scanner) (model.User, error) {
    var u model.User
    var phone sql.NullString
    if err := s.Scan(&u.ID, &u.Login, &u.Name, &phone, &u.Role, &u.Active, &u.PasswordHash, &u.CreatedAt); err != nil { return u, err }
    u.Phone = nullString(phone)
    u.CreatedAt = u.CreatedAt.UTC()
    return u, nil
}

func (p *Postgres) CreateUser(ctx context.Context, role model.Role, in model.UserInput, passwordHash string) (model.User, error) {
    if !role.Valid() { return model.User{}, invalid("unknown role %q", role) }
    row := p.db.QueryRowContext(ctx, `INSERT INTO users (login, name, phone, role, active, password_hash, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+userCols,
        in.Login, in.Name, in.Phone, role, boolOr(in.Active, true), passwordHash, p.now())
    u, err := scanUser(row)
    return u, mapError(err)
}

func (p *Postgres) UpdateUser(ctx context.Context, id int64, role model.Role, in model.UserInput, passwordHash string) (model.User, error) {
    row := p.db.QueryRowContext(ctx, `UPDATE users SET login=$1, name=$2, phone=$3, active=COALESCE($4, active),
        password_hash=CASE WHEN $5::text = '' THEN password_hash ELSE $5::text END
        WHERE id=$6 AND role=$7 RETURNING `+userCols, in.Login, in.Name, in.Phone, in.Active, passwordHash, id, role)
    u, err := scanUser(row)
    if err != nil { return u, noRows(err, string(role), id) }
    return u, nil
}

func (p *Postgres) GetUser(ctx context.Context, id int64) (model.User, error) {
    u, err := scanUser(p.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id))
    if err != nil { return u, noRows(err, "user", id) }
    return u, nil
}

func (p *Postgres) GetUserByLogin(ctx context.Context, login string) (model.User, error) {
    u, err := scanUser(p.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE lower(login)=lower($1)`, login))
    if err == sql.ErrNoRows { return u, fmt.Errorf("%w: user %q", ErrNotFound, login) }
    return u, err
}

func (p *Postgres) DeleteUser(ctx context.Context, id int64, role model.Role) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1 AND role=$2`, id, role)
    if err != nil { return mapDeleteError("user", id, err) }
    return rowsAffected(res, string(role), id)
}

func (p *Postgres) QueryUsers(ctx context.Context, role model.Role, q model.GridRequest) ([]model.User, int, error) {
    a := &sqlArgs{}
    base := []string{"role = " + a.add(string(role))}
    return queryGrid(ctx, p.db, userGrid, "users", userCols, base, a, q, scanUser)
}

func requireRole(ctx context.Context, q queryer, id int64, role model.Role) error {
    var got model.Role
    if err := q.QueryRowContext(ctx, `SELECT role FROM users WHERE id=$1`, id).Scan(&got); err != nil || got != role {
        if err != nil && err != sql.ErrNoRows { return err }
        return invalid("%s %d does not exist", role, id)
    }
    return nil
}

// Vehicles

const vehicleCols = `id, plate_number, name, capacity, active, created_at`

func scanVehicle(s scanner) (model.Vehicle, error) {
    var v model.Vehicle
    if err := s.Scan(&v.ID, &v.PlateNumber, &v.Name, &v.Capacity, &v.Active, &v.CreatedAt); err != nil { return v, err }
    v.CreatedAt = v.CreatedAt.UTC()
    return v, nil
}

func (p *Postgres) CreateVehicle(ctx context.Context, in model.VehicleInput) (model.Vehicle, error) {
    v, err := scanVehicle(p.db.QueryRowContext(ctx, `INSERT INTO vehicles (plate_number, name, capacity, active, created_at) VALUES ($1,$2,$3,$4,$5) RETURNING `+vehicleCols,
        in.PlateNumber, in.Name, in.Capacity, boolOr(in.Active, true), p.now()))
    return v, mapError(err)
}

func (p *Postgres) UpdateVehicle(ctx context.Context, id int64, in model.VehicleInput) (model.Vehicle, error) {
    v, err := scanVehicle(p.db.QueryRowContext(ctx, `UPDATE vehicles SET plate_number=$1, name=$2, capacity=$3, active=COALESCE($4, active) WHERE id=$5 RETURNING `+vehicleCols,
        in.PlateNumber, in.Name, in.Capacity, in.Active, id))
    if err != nil { return v, noRows(err, "vehicle", id) }
    return v, nil
}

func (p *Postgres) GetVehicle(ctx context.Context, id int64) (model.Vehicle, error) {
    v, err := scanVehicle(p.db.QueryRowContext(ctx, `SELECT `+vehicleCols+` FROM vehicles WHERE id=$1`, id))
    if err != nil { return v, noRows(err, "vehicle", id) }
    return v, nil
}

func (p *Postgres) DeleteVehicle(ctx context.Context, id int64) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM vehicles WHERE id=$1`, id)
    if err != nil { return mapDeleteError("vehicle", id, err) }
    return rowsAffected(res, "vehicle", id)
}

func (p *Postgres) QueryVehicles(ctx context.Context, q model.GridRequest) ([]model.Vehicle, int, error) {
    return queryGrid(ctx, p.db, vehicleGrid, "vehicles", vehicleCols, nil, &sqlArgs{}, q, scanVehicle)
}

// Garbage points

const pointCols = `id, address, capacity, open, lat, lon, kiosk_id, created_at`

func scanPoint(s scanner) (model.GarbagePoint, error) {
    var gp model.GarbagePoint
    var lat, lon sql.NullFloat64
    var kiosk sql.NullInt64
    if err := s.Scan(&gp.ID, &gp.Address, &gp.Capacity, &gp.Open, &lat, &lon, &kiosk, &gp.CreatedAt); err != nil { return gp, err }
    gp.Lat, gp.Lon, gp.KioskID = nullFloat(lat), nullFloat(lon), nullInt64(kiosk)
    gp.CreatedAt = gp.CreatedAt.UTC()
    return gp, nil
}

func (p *Postgres) CreateGarbagePoint(ctx context.Context, in model.GarbagePointInput) (model.GarbagePoint, error) {
    if in.KioskID != nil {
        if err := requireRole(ctx, p.db, *in.KioskID, model.RoleKiosk); err != nil { return model.GarbagePoint{}, err }
    }
    gp, err := scanPoint(p.db.QueryRowContext(ctx, `INSERT INTO garbage_points (address, capacity, open, lat, lon, kiosk_id, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+pointCols,
        in.Address, in.Capacity, boolOr(in.Open, true), in.Lat, in.Lon, in.KioskID, p.now()))
    return gp, mapError(err)
}

func (p *Postgres) UpdateGarbagePoint(ctx context.Context, id int64, in model.GarbagePointInput) (model.GarbagePoint, error) {
    if in.KioskID != nil {
        if err := requireRole(ctx, p.db, *in.KioskID, model.RoleKiosk); err != nil { return model.GarbagePoint{}, err }
    }
    gp, err := scanPoint(p.db.QueryRowContext(ctx, `UPDATE garbage_points SET address=$1, capacity=$2, open=COALESCE($3, open), lat=$4, lon=$5, kiosk_id=$6 WHERE id=$7 RETURNING `+pointCols,
        in.Address, in.Capacity, in.Open, in.Lat, in.Lon, in.KioskID, id))
    if err != nil { return gp, noRows(err, "garbage point", id) }
    return gp, nil
}

func (p *Postgres) GetGarbagePoint(ctx context.Context, id int64) (model.GarbagePoint, error) {
    gp, err := scanPoint(p.db.QueryRowContext(ctx, `SELECT `+pointCols+` FROM garbage_points WHERE id=$1`, id))
    if err != nil { return gp, noRows(err, "garbage point", id) }
    return gp, nil
}

func (p *Postgres) GetGarbagePointByKiosk(ctx context.Context, kioskID int64) (model.GarbagePoint, error) {
    gp, err := scanPoint(p.db.QueryRowContext(ctx, `SELECT `+pointCols+` FROM garbage_points WHERE kiosk_id=$1 ORDER BY id LIMIT 1`, kioskID))
    if err == sql.ErrNoRows { return gp, fmt.Errorf("%w: no garbage point for kiosk %d", ErrNotFound, kioskID) }
    return gp, err
}

func (p *Postgres) DeleteGarbagePoint(ctx context.Context, id int64) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM garbage_points WHERE id=$1`, id)
    if err != nil { return mapDeleteError("garbage point", id, err) }
    return rowsAffected(res, "garbage point", id)
}

func (p *Postgres) QueryGarbagePoints(ctx context.Context, q model.GridRequest) ([]model.GarbagePoint, int, error) {
    return queryGrid(ctx, p.db, garbagePointGrid, "garbage_points", pointCols, nil, &sqlArgs{}, q, scanPoint)
}

// Fractions

const fractionCols = `id, name, code, description, hazardous`

func scanFraction(s scanner) (model.Fraction, error) {
    var f model.Fraction
    var desc sql.NullString
    if err := s.Scan(&f.ID, &f.Name, &f.Code, &desc, &f.Hazardous); err != nil { return f, err }
    f.Description = nullString(desc)
    return f, nil
}

func (p *Postgres) CreateFraction(ctx context.Context, in model.FractionInput) (model.Fraction, error) {
    f, err := scanFraction(p.db.QueryRowContext(ctx, `INSERT INTO fractions (name, code, description, hazardous) VALUES ($1,$2,$3,$4) RETURNING `+fractionCols,
        in.Name, in.Code, in.Description, in.Hazardous))
    return f, mapError(err)
}

func (p *Postgres) UpdateFraction(ctx context.Context, id int64, in model.FractionInput) (model.Fraction, error) {
    f, err := scanFraction(p.db.QueryRowContext(ctx, `UPDATE fractions SET name=$1, code=$2, description=$3, hazardous=$4 WHERE id=$5 RETURNING `+fractionCols,
        in.Name, in.Code, in.Description, in.Hazardous, id))
    if err != nil { return f, noRows(err, "fraction", id) }
    return f, nil
}

func (p *Postgres) GetFraction(ctx context.Context, id int64) (model.Fraction, error) {
    f, err := scanFraction(p.db.QueryRowContext(ctx, `SELECT `+fractionCols+` FROM fractions WHERE id=$1`, id))
    if err != nil { return f, noRows(err, "fraction", id) }
    return f, nil
}

func (p *Postgres) DeleteFraction(ctx context.Context, id int64) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM fractions WHERE id=$1`, id)
    if err != nil { return mapDeleteError("fraction", id, err) }
    return rowsAffected(res, "fraction", id)
}

func (p *Postgres) QueryFractions(ctx context.Context, q model.GridRequest) ([]model.Fraction, int, error) {
    return queryGrid(ctx, p.db, fractionGrid, "fractions", fractionCols, nil, &sqlArgs{}, q, scanFraction)
}

// Container sizes

const sizeCols = `id, code, capacity, length, width, height, description, created_at`

func scanSize(s scanner) (model.ContainerSize, error) {
    var c model.ContainerSize
    var l, w, h sql.NullFloat64
    var desc sql.NullString
    if err := s.Scan(&c.ID, &c.Code, &c.Capacity, &l, &w, &h, &desc, &c.CreatedAt); err != nil { return c, err }
    c.Length, c.Width, c.Height, c.Description = nullFloat(l), nullFloat(w), nullFloat(h), nullString(desc)
    c.CreatedAt = c.CreatedAt.UTC()
    return c, nil
}

func (p *Postgres) CreateContainerSize(ctx context.Context, in model.ContainerSizeInput) (model.ContainerSize, error) {
    c, err := scanSize(p.db.QueryRowContext(ctx, `INSERT INTO container_sizes (code, capacity, length, width, height, description, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+sizeCols,
        in.Code, in.Capacity, in.Length, in.Width, in.Height, in.Description, p.now()))
    return c, mapError(err)
}

func (p *Postgres) UpdateContainerSize(ctx context.Context, id int64, in model.ContainerSizeInput) (model.ContainerSize, error) {
    c, err := scanSize(p.db.QueryRowContext(ctx, `UPDATE container_sizes SET code=$1, capacity=$2, length=$3, width=$4, height=$5, description=$6 WHERE id=$7 RETURNING `+sizeCols,
        in.Code, in.Capacity, in.Length, in.Width, in.Height, in.Description, id))
    if err != nil { return c, noRows(err, "container size", id) }
    return c, nil
}

func (p *Postgres) GetContainerSize(ctx context.Context, id int64) (model.ContainerSize, error) {
    c, err := scanSize(p.db.QueryRowContext(ctx, `SELECT `+sizeCols+` FROM container_sizes WHERE id=$1`, id))
    if err != nil { return c, noRows(err, "container size", id) }
    return c, nil
}

func (p *Postgres) DeleteContainerSize(ctx context.Context, id int64) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM container_sizes WHERE id=$1`, id)
    if err != nil { return mapDeleteError("container size", id, err) }
    return rowsAffected(res, "container size", id)
}

func (p *Postgres) QueryContainerSizes(ctx context.Context, q model.GridRequest) ([]model.ContainerSize, int, error) {
    return queryGrid(ctx, p.db, containerSizeGrid, "container_sizes", sizeCols, nil, &sqlArgs{}, q, scanSize)
}

// Kiosk orders

const orderCols = `id, garbage_point_id, container_size_id, fraction_id, user_id, weight, status, created_at`

func scanOrder(s scanner) (model.KioskOrder, error) {
    var o model.KioskOrder
    var user sql.NullInt64
    if err := s.Scan(&o.ID, &o.GarbagePointID, &o.ContainerSizeID, &o.FractionID, &user, &o.Weight, &o.Status, &o.CreatedAt); err != nil { return o, err }
    o.UserID = nullInt64(user)
    o.CreatedAt = o.CreatedAt.UTC()
    return o, nil
}

func (p *Postgres) CreateKioskOrder(ctx context.Context, pointID int64, in model.KioskOrderInput) (model.KioskOrder, error) {
    st := in.Status
    if st == "" { st = model.OrderCreated }
    o, err := scanOrder(p.db.QueryRowContext(ctx, `INSERT INTO kiosk_orders (garbage_point_id, container_size_id, fraction_id, user_id, weight, status, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+orderCols,
        pointID, in.ContainerSizeID, in.FractionID, in.UserID, in.Weight, st, p.now()))
    return o, mapError(err)
}

func (p *Postgres) UpdateKioskOrder(ctx context.Context, id int64, in model.KioskOrderInput) (model.KioskOrder, error) {
    o, err := scanOrder(p.db.QueryRowContext(ctx, `UPDATE kiosk_orders SET garbage_point_id=COALESCE($1, garbage_point_id), container_size_id=$2, fraction_id=$3, user_id=$4, weight=$5,
        status=COALESCE(NULLIF($6::text, ''), status) WHERE id=$7 RETURNING `+orderCols,
        in.GarbagePointID, in.ContainerSizeID, in.FractionID, in.UserID, in.Weight, string(in.Status), id))
    if err != nil { return o, noRows(err, "kiosk order", id) }
    return o, nil
}

func (p *Postgres) GetKioskOrder(ctx context.Context, id int64) (model.KioskOrder, error) {
    o, err := scanOrder(p.db.QueryRowContext(ctx, `SELECT `+orderCols+` FROM kiosk_orders WHERE id=$1`, id))
    if err != nil { return o, noRows(err, "kiosk order", id) }
    return o, nil
}

func (p *Postgres) DeleteKioskOrder(ctx context.Context, id int64) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM kiosk_orders WHERE id=$1`, id)
    if err != nil { return mapDeleteError("kiosk order", id, err) }
    return rowsAffected(res, "kiosk order", id)
}

func (p *Postgres) QueryKioskOrders(ctx context.Context, q model.GridRequest) ([]model.KioskOrder, int, error) {
    return queryGrid(ctx, p.db, kioskOrderGrid, "kiosk_orders", orderCols, nil, &sqlArgs{}, q, scanOrder)
}

func (p *Postgres) ActiveOrderLoad(ctx context.Context) ([]model.PointLoad, error) {
    cols := "gp." + strings.ReplaceAll(pointCols, ", ", ", gp.")
    rows, err := p.db.QueryContext(ctx, `SELECT `+cols+`, SUM(o.weight), string_agg(o.id::text, ',' ORDER BY o.id) FROM kiosk_orders o JOIN garbage_points gp ON gp.id = o.garbage_point_id
        WHERE o.status IN ('CREATED','CONFIRMED') GROUP BY gp.id ORDER BY gp.id`)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.PointLoad{}
    for rows.Next() {
        var l model.PointLoad
        var lat, lon sql.NullFloat64
        var kiosk sql.NullInt64
        gp := &l.Point
        var ids string
        if err := rows.Scan(&gp.ID, &gp.Address, &gp.Capacity, &gp.Open, &lat, &lon, &kiosk, &gp.CreatedAt, &l.Weight, &ids); err != nil { return nil, err }
        for _, f := range strings.Split(ids, ",") {
            id, err := strconv.ParseInt(f, 10, 64)
            if err != nil { return nil, fmt.Errorf("order ids %q: %w", ids, err) }
            l.OrderIDs = append(l.OrderIDs, id)
        }
        gp.Lat, gp.Lon, gp.KioskID = nullFloat(lat), nullFloat(lon), nullInt64(kiosk)
        gp.CreatedAt = gp.CreatedAt.UTC()
        out = append(out, l)
    }
    return out, rows.Err()
}
