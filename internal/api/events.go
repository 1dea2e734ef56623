package api

import (
    "context"

    "wasteroute/internal/model"
)

// emit publishes an event on each channel and queues it for webhook
// subscribers.
func (s *Server) emit(ctx context.Context, eventType string, data map[string]any, channels ...string) {
    data["ts"] = s.Now().UTC()
    evt := SSEEvent{Type: eventType, Data: data}
    for _, c := range channels {
        s.Broker.Publish(c, evt)
    }
    if s.Pub != nil { s.Pub.Emit(ctx, eventType, data) }
}

func routeEventData(rt model.Route) map[string]any {
    return map[string]any{
        "routeId":       rt.ID,
        "status":        rt.Status,
        "driverId":      rt.DriverID,
        "shiftId":       rt.ShiftID,
        "currentStopId": rt.CurrentStopID,
    }
}

func routeChannels(rt model.Route) []string {
    out := []string{RouteChannel(rt.ID)}
    if rt.DriverID != nil { out = append(out, DriverChannel(*rt.DriverID)) }
    return out
}

func (s *Server) emitRoute(ctx context.Context, eventType string, rt model.Route) {
    s.emit(ctx, eventType, routeEventData(rt), routeChannels(rt)...)
}

func (s *Server) emitStop(ctx context.Context, rt model.Route, stopID int64) {
    data := routeEventData(rt)
    data["stopId"] = stopID
    for _, st := range rt.Stops {
        if st.ID == stopID {
            data["stopStatus"] = st.Status
            data["actualCapacity"] = st.ActualCapacity
            data["note"] = st.Note
        }
    }
    s.emit(ctx, "stop.updated", data, routeChannels(rt)...)
}

func (s *Server) emitIncident(ctx context.Context, eventType string, inc model.Incident) {
    data := map[string]any{
        "incidentId": inc.ID,
        "routeId":    inc.RouteID,
        "stopId":     inc.StopID,
        "type":       inc.Type,
        "resolved":   inc.Resolved,
    }
    s.emit(ctx, eventType, data, RouteChannel(inc.RouteID))
}

func (s *Server) emitShift(ctx context.Context, eventType string, sh model.Shift) {
    data := map[string]any{"shiftId": sh.ID, "driverId": sh.DriverID, "vehicleId": sh.VehicleID, "status": sh.Status}
    s.emit(ctx, eventType, data, DriverChannel(sh.DriverID))
}
