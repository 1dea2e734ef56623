package model

import "time"

// Request bodies and filters accepted by the API.

type RouteInput struct {
    PlannedDate    string      `json:"plannedDate"`
    PlannedStartAt *time.Time  `json:"plannedStartAt,omitempty"`
    PlannedEndAt   *time.Time  `json:"plannedEndAt,omitempty"`
    VehicleID      *int64      `json:"vehicleId,omitempty"`
    DriverID       *int64      `json:"driverId,omitempty"`
    Stops          []StopInput `json:"stops,omitempty"`
}

type StopInput struct {
    SeqNo            *int       `json:"seqNo,omitempty"`
    GarbagePointID   *int64     `json:"garbagePointId,omitempty"`
    Address          *string    `json:"address,omitempty"`
    TimeFrom         *time.Time `json:"timeFrom,omitempty"`
    TimeTo           *time.Time `json:"timeTo,omitempty"`
    ExpectedCapacity *int       `json:"expectedCapacity,omitempty"`
}

type AssignRequest struct {
    DriverID       int64      `json:"driverId"`
    PlannedStartAt *time.Time `json:"plannedStartAt,omitempty"`
    PlannedEndAt   *time.Time `json:"plannedEndAt,omitempty"`
}

// StopUpdate replaces status, actual capacity and note as a unit.
type StopUpdate struct {
    Status         StopStatus `json:"status"`
    ActualCapacity *float64   `json:"actualCapacity"`
    Note           *string    `json:"note"`
}

type IncidentInput struct {
    StopID          int64        `json:"stopId"`
    Type            IncidentType `json:"type"`
    Description     *string      `json:"description,omitempty"`
    PhotoURL        *string      `json:"photoUrl,omitempty"`
    MarkUnavailable bool         `json:"markUnavailable,omitempty"`
}

type RouteFilter struct {
    Status   RouteStatus
    Date     string
    DriverID *int64
}

type IncidentFilter struct {
    Resolved *bool
    StopID   *int64
    RouteID  *int64
}

type ShiftOpenRequest struct {
    VehicleID *int64 `json:"vehicleId,omitempty"`
}

// Reference data upserts

type UserInput struct {
    Name     string  `json:"name"`
    Phone    *string `json:"phone,omitempty"`
    Login    string  `json:"login"`
    Password string  `json:"password,omitempty"`
    Active   *bool   `json:"active,omitempty"`
}

type VehicleInput struct {
    PlateNumber string `json:"plateNumber"`
    Name        string `json:"name"`
    Capacity    int    `json:"capacity"`
    Active      *bool  `json:"active,omitempty"`
}

type GarbagePointInput struct {
    Address  string   `json:"address"`
    Capacity int      `json:"capacity"`
    Open     *bool    `json:"open,omitempty"`
    Lat      *float64 `json:"lat,omitempty"`
    Lon      *float64 `json:"lon,omitempty"`
    KioskID  *int64   `json:"kioskId,omitempty"`
}

type FractionInput struct {
    Name        string  `json:"name"`
    Code        string  `json:"code"`
    Description *string `json:"description,omitempty"`
    Hazardous   bool    `json:"hazardous"`
}

type ContainerSizeInput struct {
    Code        string   `json:"code"`
    Capacity    int      `json:"capacity"`
    Length      *float64 `json:"length,omitempty"`
    Width       *float64 `json:"width,omitempty"`
    Height      *float64 `json:"height,omitempty"`
    Description *string  `json:"description,omitempty"`
}

type KioskOrderInput struct {
    GarbagePointID  *int64      `json:"garbagePointId,omitempty"`
    ContainerSizeID int64       `json:"containerSizeId"`
    FractionID      int64       `json:"fractionId"`
    UserID          *int64      `json:"userId,omitempty"`
    Weight          float64     `json:"weight"`
    Status          OrderStatus `json:"status,omitempty"`
}
