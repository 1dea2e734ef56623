//go:build postgres_integration

package store

import (
    "errors"
    "fmt"
    "os"
    "testing"
    "time"

    "wasteroute/internal/lifecycle"
    "wasteroute/internal/model"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
    dsn := os.Getenv("DATABASE_URL")
    if dsn == "" { t.Skip("DATABASE_URL not set; skipping integration test") }
    p, err := NewPostgres(dsn)
    if err != nil { t.Fatalf("NewPostgres: %v", err) }
    defer p.Close()
    if err := p.Ping(t.Context()); err != nil { t.Fatalf("Ping: %v", err) }
    if err := p.Migrate(t.Context()); err != nil { t.Fatalf("Migrate: %v", err) }
    // Migrations are idempotent.
    if err := p.Migrate(t.Context()); err != nil { t.Fatalf("Migrate again: %v", err) }
    if _, err := p.ListRoutes(t.Context(), model.RouteFilter{}); err != nil { t.Fatalf("ListRoutes: %v", err) }
}

func TestPostgresShiftGate(t *testing.T) {
    dsn := os.Getenv("DATABASE_URL")
    if dsn == "" { t.Skip("DATABASE_URL not set; skipping integration test") }
    p, err := NewPostgres(dsn)
    if err != nil { t.Fatalf("NewPostgres: %v", err) }
    defer p.Close()
    ctx := t.Context()
    if err := p.Migrate(ctx); err != nil { t.Fatalf("Migrate: %v", err) }
    login := fmt.Sprintf("it-driver-%d", time.Now().UnixNano())
    d, err := p.CreateUser(ctx, model.RoleDriver, model.UserInput{Login: login, Name: "IT"}, "x")
    if err != nil { t.Fatalf("CreateUser: %v", err) }
    addr := "Integration st. 1"
    r, err := p.CreateRoute(ctx, model.RouteInput{DriverID: &d.ID, Stops: []model.StopInput{{Address: &addr}}})
    if err != nil { t.Fatalf("CreateRoute: %v", err) }
    if _, err := p.StartRoute(ctx, r.ID, d.ID); !errors.Is(err, lifecycle.ErrPrecondition) { t.Fatalf("start without shift: %v", err) }
    sh, err := p.OpenShift(ctx, d.ID, nil)
    if err != nil { t.Fatalf("OpenShift: %v", err) }
    if _, err := p.OpenShift(ctx, d.ID, nil); !errors.Is(err, lifecycle.ErrConflict) { t.Fatalf("second shift: %v", err) }
    started, err := p.StartRoute(ctx, r.ID, d.ID)
    if err != nil { t.Fatalf("StartRoute: %v", err) }
    if started.CurrentStopID == nil || *started.CurrentStopID != started.Stops[0].ID { t.Fatalf("current stop: %+v", started.CurrentStopID) }
    if _, err := p.CloseShift(ctx, sh.ID, d.ID, false); !errors.Is(err, lifecycle.ErrPrecondition) { t.Fatalf("close with active route: %v", err) }
    done, err := p.FinishRoute(ctx, r.ID, d.ID, false)
    if err != nil { t.Fatalf("FinishRoute: %v", err) }
    if done.Stops[0].Status != model.StopSkipped { t.Fatalf("stop not skipped: %s", done.Stops[0].Status) }
    if _, err := p.CloseShift(ctx, sh.ID, d.ID, false); err != nil { t.Fatalf("CloseShift: %v", err) }
}
