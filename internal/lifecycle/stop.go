package lifecycle

import (
    "fmt"
    "math"
    "sort"
    "strings"

    "wasteroute/internal/model"
)

// ValidateStopUpdate checks a driver's stop update against the body rules,
// route ownership, route status and the stop's own terminal state.
func ValidateStopUpdate(r model.Route, st model.Stop, callerID int64, admin bool, upd model.StopUpdate) error {
    if !upd.Status.Valid() {
        return fmt.Errorf("%w: unknown stop status %q", ErrInvalid, upd.Status)
    }
    if c := upd.ActualCapacity; c != nil && (math.IsNaN(*c) || math.IsInf(*c, 0) || *c < 0) {
        return fmt.Errorf("%w: actualCapacity must be a non-negative number or null", ErrInvalid)
    }
    if err := ownsRoute(r, callerID, admin); err != nil { return err }
    if r.Status != model.RouteInProgress {
        return fmt.Errorf("%w: stops can only be updated while the route is in progress, current status: %s", ErrPrecondition, r.Status)
    }
    // a terminal status is final; only capacity and note stay editable
    if st.Status.Terminal() && upd.Status != st.Status {
        return fmt.Errorf("%w: stop %d is already %s", ErrPrecondition, st.ID, st.Status)
    }
    return nil
}

// ApplyStopUpdate replaces the three driver-editable fields and reports the
// event to record, if any.
func ApplyStopUpdate(st *model.Stop, upd model.StopUpdate) (model.StopEventType, bool) {
    prevStatus := st.Status
    prevNote := deref(st.Note)
    st.Status = upd.Status
    st.ActualCapacity = upd.ActualCapacity
    st.Note = upd.Note
    if prevStatus != upd.Status {
        return EventForStatus(upd.Status), true
    }
    if prevNote != deref(upd.Note) {
        return model.EventComment, true
    }
    return "", false
}

// EventForStatus maps a stop status to the event that records entering it.
func EventForStatus(s model.StopStatus) model.StopEventType {
    switch s {
    case model.StopEnroute:
        return model.EventStart
    case model.StopArrived:
        return model.EventArrived
    case model.StopLoading:
        return model.EventLoading
    case model.StopUnloading:
        return model.EventUnloading
    case model.StopDone:
        return model.EventDone
    case model.StopSkipped:
        return model.EventSkipped
    case model.StopUnavailable:
        return model.EventUnavailable
    }
    return model.EventComment
}

// SortStops orders stops by seqNo, then id.
func SortStops(stops []model.Stop) {
    sort.SliceStable(stops, func(i, j int) bool {
        if stops[i].SeqNo != stops[j].SeqNo { return stops[i].SeqNo < stops[j].SeqNo }
        return stops[i].ID < stops[j].ID
    })
}

// CurrentStop returns the first stop, by seqNo, that is not terminal.
func CurrentStop(stops []model.Stop) *model.Stop {
    var cur *model.Stop
    for i := range stops {
        if stops[i].Status.Terminal() { continue }
        if cur == nil || stops[i].SeqNo < cur.SeqNo || (stops[i].SeqNo == cur.SeqNo && stops[i].ID < cur.ID) {
            cur = &stops[i]
        }
    }
    return cur
}

// Decorate prepares a route for output: stops in visiting order and the
// derived current stop.
func Decorate(r *model.Route) {
    if r.Stops == nil { r.Stops = []model.Stop{} }
    SortStops(r.Stops)
    r.CurrentStopID = nil
    if cur := CurrentStop(r.Stops); cur != nil {
        id := cur.ID
        r.CurrentStopID = &id
    }
}

func ValidateStopInput(in model.StopInput) error {
    hasPoint := in.GarbagePointID != nil
    hasAddr := in.Address != nil && strings.TrimSpace(*in.Address) != ""
    if hasPoint == hasAddr {
        return fmt.Errorf("%w: a stop needs either garbagePointId or address, not both", ErrInvalid)
    }
    if in.SeqNo != nil && *in.SeqNo < 1 {
        return fmt.Errorf("%w: seqNo must be >= 1", ErrInvalid)
    }
    if in.ExpectedCapacity != nil && *in.ExpectedCapacity < 0 {
        return fmt.Errorf("%w: expectedCapacity must be >= 0", ErrInvalid)
    }
    if in.TimeFrom != nil && in.TimeTo != nil && in.TimeTo.Before(*in.TimeFrom) {
        return fmt.Errorf("%w: timeTo must not precede timeFrom", ErrInvalid)
    }
    return nil
}

// NextSeqNo is one past the highest seqNo on the route.
func NextSeqNo(stops []model.Stop) int {
    max := 0
    for _, s := range stops {
        if s.SeqNo > max { max = s.SeqNo }
    }
    return max + 1
}

// CheckSeqNoFree reports a conflict when another stop already uses seq.
func CheckSeqNoFree(stops []model.Stop, seq int, exceptID int64) error {
    for _, s := range stops {
        if s.SeqNo == seq && s.ID != exceptID {
            return fmt.Errorf("%w: seqNo %d is already used by stop %d", ErrConflict, seq, s.ID)
        }
    }
    return nil
}

// NewStop builds a planned stop from an admin input.
func NewStop(routeID int64, seq int, in model.StopInput) model.Stop {
    st := model.Stop{
        RouteID:          routeID,
        SeqNo:            seq,
        GarbagePointID:   in.GarbagePointID,
        TimeFrom:         in.TimeFrom,
        TimeTo:           in.TimeTo,
        ExpectedCapacity: in.ExpectedCapacity,
        Status:           model.StopPlanned,
    }
    if in.Address != nil && strings.TrimSpace(*in.Address) != "" {
        a := strings.TrimSpace(*in.Address)
        st.Address = &a
    }
    return st
}

func deref(s *string) string {
    if s == nil { return "" }
    return *s
}
