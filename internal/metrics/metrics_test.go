package metrics

import (
    "testing"

    "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterDefaultIsIdempotent(t *testing.T) {
    RegisterDefault()
    RegisterDefault()
    before := testutil.ToFloat64(RouteTransitions.WithLabelValues("in_progress"))
    RouteTransitions.WithLabelValues("in_progress").Inc()
    if got := testutil.ToFloat64(RouteTransitions.WithLabelValues("in_progress")); got != before+1 {
        t.Fatalf("counter: got %v want %v", got, before+1)
    }
    mfs, err := Registry.Gather()
    if err != nil { t.Fatalf("Gather: %v", err) }
    found := false
    for _, mf := range mfs {
        if mf.GetName() == "route_transitions_total" { found = true }
    }
    if !found { t.Fatalf("route_transitions_total not exported") }
}
