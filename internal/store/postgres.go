package store

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "time"

    "github.com/jackc/pgx/v5/pgconn"
    _ "github.com/jackc/pgx/v5/stdlib"

    "wasteroute/internal/lifecycle"
)

// Postgres implements Store on database/sql with the pgx driver. Lifecycle
// guards run inside a transaction after locking the rows they read.
type Postgres struct {
    db  *sql.DB
    Now func() time.Time
}

var _ Store = (*Postgres)(nil)

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    db.SetMaxOpenConns(10)
    db.SetMaxIdleConns(10)
    db.SetConnMaxLifetime(30 * time.Minute)
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := db.PingContext(ctx); err != nil {
        _ = db.Close()
        return nil, err
    }
    return &Postgres{db: db, Now: time.Now}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) now() time.Time { return p.Now().UTC() }

// inTx runs fn in a transaction and commits when it returns nil.
func (p *Postgres) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    if err := fn(tx); err != nil { return mapError(err) }
    return mapError(tx.Commit())
}

// mapError turns constraint violations into the lifecycle sentinels.
func mapError(err error) error {
    var pg *pgconn.PgError
    if !errors.As(err, &pg) { return err }
    switch pg.Code {
    case "23505":
        return fmt.Errorf("%w: %s", lifecycle.ErrConflict, uniqueMessage(pg.ConstraintName))
    case "23503":
        return fmt.Errorf("%w: referenced row does not exist (%s)", lifecycle.ErrInvalid, pg.ConstraintName)
    case "23514", "22P02", "22007", "22008":
        return fmt.Errorf("%w: %s", lifecycle.ErrInvalid, pg.Message)
    }
    return err
}

// mapDeleteError reports a row that is still referenced as a conflict.
func mapDeleteError(entity string, id int64, err error) error {
    var pg *pgconn.PgError
    if errors.As(err, &pg) && pg.Code == "23503" {
        return fmt.Errorf("%w: %s %d is still in use (%s)", lifecycle.ErrConflict, entity, id, pg.TableName)
    }
    return mapError(err)
}

func uniqueMessage(constraint string) string {
    switch constraint {
    case "users_login_uq":
        return "login is already taken"
    case "vehicles_plate_uq":
        return "plate number is already registered"
    case "fractions_code_uq":
        return "fraction code is already used"
    case "shifts_one_open_uq":
        return "Driver already has an open shift"
    case "stops_route_id_seq_no_key":
        return "seqNo is already used on this route"
    }
    return "duplicate value (" + constraint + ")"
}

// rowsAffected maps a zero-row update or delete to not found.
func rowsAffected(res sql.Result, entity string, id int64) error {
    n, err := res.RowsAffected()
    if err != nil { return err }
    if n == 0 { return notFound(entity, id) }
    return nil
}

func noRows(err error, entity string, id int64) error {
    if errors.Is(err, sql.ErrNoRows) { return notFound(entity, id) }
    return mapError(err)
}

// Helpers

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }

func nullInt64(v sql.NullInt64) *int64 {
    if !v.Valid { return nil }
    x := v.Int64
    return &x
}

func nullFloat(v sql.NullFloat64) *float64 {
    if !v.Valid { return nil }
    x := v.Float64
    return &x
}

func nullString(v sql.NullString) *string {
    if !v.Valid { return nil }
    x := v.String
    return &x
}

func nullTime(v sql.NullTime) *time.Time {
    if !v.Valid { return nil }
    x := v.Time.UTC()
    return &x
}

func nullInt(v sql.NullInt64) *int {
    if !v.Valid { return nil }
    x := int(v.Int64)
    return &x
}
