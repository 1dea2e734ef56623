package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"wasteroute/internal/lifecycle"
	"wasteroute/internal/model"
	"wasteroute/internal/store"
)

type genFunc func(ctx context.Context) (model.Route, error)

func (f genFunc) AutoGenerate(ctx context.Context) (model.Route, error) { return f(ctx) }

func TestNewRejectsBadSchedule(t *testing.T) {
	noop := func(context.Context) error { return nil }
	if _, err := New(Job{Name: "x", Schedule: "every tuesday", Run: noop}); err == nil {
		t.Fatal("expected bad schedule error")
	}
	s, err := New(Job{Name: "on", Schedule: "@hourly", Run: noop}, Job{Name: "off", Run: noop})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(s.Jobs()) != 1 || s.Jobs()[0].Name != "on" {
		t.Fatalf("enabled jobs: %+v", s.Jobs())
	}
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestAutogenJobResults(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"created", nil, "ok"},
		{"empty", fmt.Errorf("%w: no garbage points filled", lifecycle.ErrInvalid), "skipped"},
		{"raced", fmt.Errorf("%w: kiosk order 3 is no longer active", lifecycle.ErrConflict), "skipped"},
		{"broken", errors.New("db down"), "error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			j := AutogenJob("@daily", genFunc(func(context.Context) (model.Route, error) {
				calls++
				return model.Route{ID: 1}, tc.err
			}))
			if got := RunOnce(context.Background(), j); got != tc.want {
				t.Fatalf("result: got %s want %s", got, tc.want)
			}
			if calls != 1 {
				t.Fatalf("calls: %d", calls)
			}
		})
	}
}

func TestRunOnceAppliesTimeout(t *testing.T) {
	j := Job{Name: "slow", Timeout: 10 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	if got := RunOnce(context.Background(), j); got != "error" {
		t.Fatalf("result: %s", got)
	}
}

func TestHousekeepingPurges(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	done, err := m.EnqueueWebhook(ctx, "", "route.started", "http://hook.local", "", []byte(`{"n":1}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := m.MarkWebhookDelivery(ctx, done, true, nil, "", 200, 5); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if _, err := m.EnqueueWebhook(ctx, "", "route.started", "http://hook.local", "", []byte(`{"n":2}`)); err != nil {
		t.Fatalf("enqueue pending: %v", err)
	}
	if err := m.RevokeSession(ctx, "old", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := m.RevokeSession(ctx, "live", time.Now().Add(30*24*time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	later := func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	if got := RunOnce(ctx, HousekeepingJob("@hourly", m, 7*24*time.Hour, later)); got != "ok" {
		t.Fatalf("result: %s", got)
	}

	rows, _ := m.ListWebhookDeliveries(ctx, "", 10)
	if len(rows) != 1 || rows[0].Status != store.DeliveryPending {
		t.Fatalf("deliveries left: %+v", rows)
	}
	if revoked, _ := m.IsSessionRevoked(ctx, "old"); revoked {
		t.Fatal("expired revocation kept")
	}
	if revoked, _ := m.IsSessionRevoked(ctx, "live"); !revoked {
		t.Fatal("live revocation purged")
	}
}
