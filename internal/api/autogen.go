package api

import (
    "context"
    "errors"
    "net/http"
    "time"

    log "github.com/sirupsen/logrus"

    "wasteroute/internal/lifecycle"
    "wasteroute/internal/metrics"
    "wasteroute/internal/model"
    "wasteroute/internal/opt"
)

// AutoGenerate builds a planned route for today from the garbage points whose
// active kiosk orders fill them past the configured threshold. Exactly the
// orders it summed become COLLECTED; if another run claimed any of them first
// it fails with a conflict and stores nothing.
func (s *Server) AutoGenerate(ctx context.Context) (model.Route, error) {
    loads, err := s.Store.ActiveOrderLoad(ctx)
    if err != nil {
        metrics.AutoGenerate.WithLabelValues("error").Inc()
        return model.Route{}, err
    }
    plan, err := opt.PlanCollection(loads, s.Config.AutogenFillThreshold)
    if err != nil {
        result := "error"
        if errors.Is(err, lifecycle.ErrInvalid) { result = "empty" }
        metrics.AutoGenerate.WithLabelValues(result).Inc()
        return model.Route{}, err
    }
    in := model.RouteInput{PlannedDate: s.Now().Format(time.DateOnly), Stops: plan.Stops}
    rt, err := s.Store.CreateRouteFromOrders(ctx, in, plan.OrderIDs)
    if err != nil {
        result := "error"
        if errors.Is(err, lifecycle.ErrConflict) { result = "conflict" }
        metrics.AutoGenerate.WithLabelValues(result).Inc()
        return model.Route{}, err
    }
    metrics.AutoGenerate.WithLabelValues("created").Inc()
    log.WithFields(log.Fields{"route": rt.ID, "stops": len(rt.Stops), "distanceMeters": int(plan.DistanceMeters)}).Info("route generated from kiosk orders")
    return rt, nil
}

func (s *Server) autoGenerate(w http.ResponseWriter, r *http.Request) {
    if _, ok := s.requireRole(w, r, model.RoleAdmin); !ok { return }
    rt, err := s.AutoGenerate(r.Context())
    if err != nil { writeError(w, r, err); return }
    writeJSON(w, http.StatusCreated, rt)
}
