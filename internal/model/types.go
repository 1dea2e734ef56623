package model

import "time"

// Statuses and enumerations

type ShiftStatus string

const (
    ShiftOpen   ShiftStatus = "open"
    ShiftClosed ShiftStatus = "closed"
)

type RouteStatus string

const (
    RoutePlanned    RouteStatus = "planned"
    RouteInProgress RouteStatus = "in_progress"
    RouteCompleted  RouteStatus = "completed"
    RouteCancelled  RouteStatus = "cancelled"
)

func (s RouteStatus) Valid() bool {
    switch s {
    case RoutePlanned, RouteInProgress, RouteCompleted, RouteCancelled:
        return true
    }
    return false
}

type StopStatus string

const (
    StopPlanned     StopStatus = "planned"
    StopEnroute     StopStatus = "enroute"
    StopArrived     StopStatus = "arrived"
    StopLoading     StopStatus = "loading"
    StopUnloading   StopStatus = "unloading"
    StopDone        StopStatus = "done"
    StopSkipped     StopStatus = "skipped"
    StopUnavailable StopStatus = "unavailable"
)

// StopStatuses lists every stop status in lifecycle order.
var StopStatuses = []StopStatus{StopPlanned, StopEnroute, StopArrived, StopLoading, StopUnloading, StopDone, StopSkipped, StopUnavailable}

func (s StopStatus) Valid() bool {
    for _, v := range StopStatuses {
        if v == s { return true }
    }
    return false
}

// Terminal reports whether the stop needs no further visits.
func (s StopStatus) Terminal() bool {
    return s == StopDone || s == StopSkipped || s == StopUnavailable
}

type StopEventType string

const (
    EventStart       StopEventType = "start"
    EventArrived     StopEventType = "arrived"
    EventLoading     StopEventType = "loading"
    EventUnloading   StopEventType = "unloading"
    EventDone        StopEventType = "done"
    EventSkipped     StopEventType = "skipped"
    EventUnavailable StopEventType = "unavailable"
    EventComment     StopEventType = "comment"
)

type IncidentType string

const (
    IncidentAccessDenied IncidentType = "access_denied"
    IncidentTraffic      IncidentType = "traffic"
    IncidentVehicleIssue IncidentType = "vehicle_issue"
    IncidentOverload     IncidentType = "overload"
    IncidentOther        IncidentType = "other"
)

var incidentLabels = map[IncidentType]string{
    IncidentAccessDenied: "Нет доступа",
    IncidentTraffic:      "Пробки",
    IncidentVehicleIssue: "Проблема с ТС",
    IncidentOverload:     "Перегруз",
    IncidentOther:        "Другое",
}

func (t IncidentType) Valid() bool { _, ok := incidentLabels[t]; return ok }

// Label is the operator-facing name of the incident kind.
func (t IncidentType) Label() string {
    if l, ok := incidentLabels[t]; ok { return l }
    return string(t)
}

type Role string

const (
    RoleAdmin  Role = "admin"
    RoleDriver Role = "driver"
    RoleKiosk  Role = "kiosk"
)

func (r Role) Valid() bool { return r == RoleAdmin || r == RoleDriver || r == RoleKiosk }

type OrderStatus string

const (
    OrderCreated   OrderStatus = "CREATED"
    OrderConfirmed OrderStatus = "CONFIRMED"
    OrderCancelled OrderStatus = "CANCELLED"
    OrderCollected OrderStatus = "COLLECTED"
)

func (s OrderStatus) Valid() bool {
    switch s {
    case OrderCreated, OrderConfirmed, OrderCancelled, OrderCollected:
        return true
    }
    return false
}

// Active orders still wait for pickup.
func (s OrderStatus) Active() bool { return s == OrderCreated || s == OrderConfirmed }

// Core entities

type Shift struct {
    ID        int64       `json:"id"`
    DriverID  int64       `json:"driverId"`
    VehicleID *int64      `json:"vehicleId,omitempty"`
    Status    ShiftStatus `json:"status"`
    OpenedAt  time.Time   `json:"openedAt"`
    ClosedAt  *time.Time  `json:"closedAt,omitempty"`
}

type Route struct {
    ID             int64       `json:"id"`
    PlannedDate    string      `json:"plannedDate"`
    Status         RouteStatus `json:"status"`
    DriverID       *int64      `json:"driverId"`
    VehicleID      *int64      `json:"vehicleId"`
    ShiftID        *int64      `json:"shiftId"`
    PlannedStartAt *time.Time  `json:"plannedStartAt"`
    PlannedEndAt   *time.Time  `json:"plannedEndAt"`
    StartedAt      *time.Time  `json:"startedAt"`
    FinishedAt     *time.Time  `json:"finishedAt"`
    CreatedAt      time.Time   `json:"createdAt"`
    Stops          []Stop      `json:"stops"`
    // CurrentStopID is derived on every read.
    CurrentStopID  *int64      `json:"currentStopId"`
}

type Stop struct {
    ID               int64       `json:"id"`
    RouteID          int64       `json:"routeId"`
    SeqNo            int         `json:"seqNo"`
    GarbagePointID   *int64      `json:"garbagePointId"`
    Address          *string     `json:"address"`
    TimeFrom         *time.Time  `json:"timeFrom,omitempty"`
    TimeTo           *time.Time  `json:"timeTo,omitempty"`
    ExpectedCapacity *int        `json:"expectedCapacity"`
    ActualCapacity   *float64    `json:"actualCapacity"`
    Status           StopStatus  `json:"status"`
    Note             *string     `json:"note"`
    Events           []StopEvent `json:"events,omitempty"`
}

type StopEvent struct {
    ID        int64         `json:"id"`
    StopID    int64         `json:"stopId"`
    EventType StopEventType `json:"eventType"`
    CreatedAt time.Time     `json:"createdAt"`
    PhotoURL  *string       `json:"photoUrl,omitempty"`
    Comment   *string       `json:"comment,omitempty"`
}

type Incident struct {
    ID             int64        `json:"id"`
    StopID         int64        `json:"stopId"`
    RouteID        int64        `json:"routeId"`
    Type           IncidentType `json:"type"`
    Description    *string      `json:"description"`
    PhotoURL       *string      `json:"photoUrl"`
    Resolved       bool         `json:"resolved"`
    CreatedByLogin *string      `json:"createdByLogin"`
    CreatedAt      time.Time    `json:"createdAt"`
    UpdatedAt      time.Time    `json:"updatedAt"`
    ResolvedAt     *time.Time   `json:"resolvedAt"`
}

// Reference data

type User struct {
    ID           int64     `json:"id"`
    Login        string    `json:"login"`
    Name         string    `json:"name"`
    Phone        *string   `json:"phone,omitempty"`
    Role         Role      `json:"role"`
    Active       bool      `json:"active"`
    PasswordHash string    `json:"-"`
    CreatedAt    time.Time `json:"createdAt"`
}

type Vehicle struct {
    ID          int64     `json:"id"`
    PlateNumber string    `json:"plateNumber"`
    Name        string    `json:"name"`
    Capacity    int       `json:"capacity"`
    Active      bool      `json:"active"`
    CreatedAt   time.Time `json:"createdAt"`
}

type GarbagePoint struct {
    ID        int64     `json:"id"`
    Address   string    `json:"address"`
    Capacity  int       `json:"capacity"`
    Open      bool      `json:"open"`
    Lat       *float64  `json:"lat"`
    Lon       *float64  `json:"lon"`
    KioskID   *int64    `json:"kioskId"`
    CreatedAt time.Time `json:"createdAt"`
}

type Fraction struct {
    ID          int64   `json:"id"`
    Name        string  `json:"name"`
    Code        string  `json:"code"`
    Description *string `json:"description"`
    Hazardous   bool    `json:"hazardous"`
}

type ContainerSize struct {
    ID          int64     `json:"id"`
    Code        string    `json:"code"`
    Capacity    int       `json:"capacity"`
    Length      *float64  `json:"length"`
    Width       *float64  `json:"width"`
    Height      *float64  `json:"height"`
    Description *string   `json:"description"`
    CreatedAt   time.Time `json:"createdAt"`
}

type KioskOrder struct {
    ID              int64       `json:"id"`
    GarbagePointID  int64       `json:"garbagePointId"`
    ContainerSizeID int64       `json:"containerSizeId"`
    FractionID      int64       `json:"fractionId"`
    UserID          *int64      `json:"userId"`
    Weight          float64     `json:"weight"`
    Status          OrderStatus `json:"status"`
    CreatedAt       time.Time   `json:"createdAt"`
}

// PointLoad is the pending kiosk order weight collected at a garbage point.
type PointLoad struct {
    Point    GarbagePoint
    Weight   float64
    OrderIDs []int64
}

// Webhooks

type SubscriptionRequest struct {
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"secret,omitempty"`
}

type Subscription struct {
    ID     string   `json:"id"`
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"-"`
}

type DeliveryRecord struct {
    ID            string     `json:"id"`
    EventType     string     `json:"eventType"`
    URL           string     `json:"url"`
    Status        string     `json:"status"`
    Attempts      int        `json:"attempts"`
    LastError     string     `json:"lastError,omitempty"`
    ResponseCode  int        `json:"responseCode,omitempty"`
    LatencyMs     int        `json:"latencyMs,omitempty"`
    NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
    DeliveredAt   *time.Time `json:"deliveredAt,omitempty"`
    CreatedAt     time.Time  `json:"createdAt"`
}
