package store

import (
    "context"
    "time"

    "wasteroute/internal/lifecycle"
    "wasteroute/internal/model"
)

// Store is the persistence interface used by the API server. Mutating route,
// stop, shift and incident calls apply the lifecycle guards atomically: a
// failed guard leaves nothing changed.
type Store interface {
    // Users: admins, drivers and kiosk terminals
    CreateUser(ctx context.Context, role model.Role, in model.UserInput, passwordHash string) (model.User, error)
    // UpdateUser keeps the current password when passwordHash is empty.
    UpdateUser(ctx context.Context, id int64, role model.Role, in model.UserInput, passwordHash string) (model.User, error)
    GetUser(ctx context.Context, id int64) (model.User, error)
    GetUserByLogin(ctx context.Context, login string) (model.User, error)
    DeleteUser(ctx context.Context, id int64, role model.Role) error
    QueryUsers(ctx context.Context, role model.Role, q model.GridRequest) ([]model.User, int, error)

    // Vehicles
    CreateVehicle(ctx context.Context, in model.VehicleInput) (model.Vehicle, error)
    UpdateVehicle(ctx context.Context, id int64, in model.VehicleInput) (model.Vehicle, error)
    GetVehicle(ctx context.Context, id int64) (model.Vehicle, error)
    DeleteVehicle(ctx context.Context, id int64) error
    QueryVehicles(ctx context.Context, q model.GridRequest) ([]model.Vehicle, int, error)

    // Garbage points
    CreateGarbagePoint(ctx context.Context, in model.GarbagePointInput) (model.GarbagePoint, error)
    UpdateGarbagePoint(ctx context.Context, id int64, in model.GarbagePointInput) (model.GarbagePoint, error)
    GetGarbagePoint(ctx context.Context, id int64) (model.GarbagePoint, error)
    GetGarbagePointByKiosk(ctx context.Context, kioskID int64) (model.GarbagePoint, error)
    DeleteGarbagePoint(ctx context.Context, id int64) error
    QueryGarbagePoints(ctx context.Context, q model.GridRequest) ([]model.GarbagePoint, int, error)

    // Fractions
    CreateFraction(ctx context.Context, in model.FractionInput) (model.Fraction, error)
    UpdateFraction(ctx context.Context, id int64, in model.FractionInput) (model.Fraction, error)
    GetFraction(ctx context.Context, id int64) (model.Fraction, error)
    DeleteFraction(ctx context.Context, id int64) error
    QueryFractions(ctx context.Context, q model.GridRequest) ([]model.Fraction, int, error)

    // Container sizes
    CreateContainerSize(ctx context.Context, in model.ContainerSizeInput) (model.ContainerSize, error)
    UpdateContainerSize(ctx context.Context, id int64, in model.ContainerSizeInput) (model.ContainerSize, error)
    GetContainerSize(ctx context.Context, id int64) (model.ContainerSize, error)
    DeleteContainerSize(ctx context.Context, id int64) error
    QueryContainerSizes(ctx context.Context, q model.GridRequest) ([]model.ContainerSize, int, error)

    // Kiosk orders
    CreateKioskOrder(ctx context.Context, pointID int64, in model.KioskOrderInput) (model.KioskOrder, error)
    UpdateKioskOrder(ctx context.Context, id int64, in model.KioskOrderInput) (model.KioskOrder, error)
    GetKioskOrder(ctx context.Context, id int64) (model.KioskOrder, error)
    DeleteKioskOrder(ctx context.Context, id int64) error
    QueryKioskOrders(ctx context.Context, q model.GridRequest) ([]model.KioskOrder, int, error)
    // ActiveOrderLoad sums the weight of CREATED and CONFIRMED orders per garbage point.
    ActiveOrderLoad(ctx context.Context) ([]model.PointLoad, error)

    // Shifts
    OpenShift(ctx context.Context, driverID int64, vehicleID *int64) (model.Shift, error)
    CloseShift(ctx context.Context, shiftID, callerID int64, admin bool) (model.Shift, error)
    CurrentShift(ctx context.Context, driverID int64) (model.Shift, error)
    ListShifts(ctx context.Context, driverID *int64) ([]model.Shift, error)

    // Routes
    CreateRoute(ctx context.Context, in model.RouteInput) (model.Route, error)
    UpdateRoute(ctx context.Context, id int64, in model.RouteInput) (model.Route, error)
    GetRoute(ctx context.Context, id int64) (model.Route, error)
    ListRoutes(ctx context.Context, f model.RouteFilter) ([]model.Route, error)
    AssignRoute(ctx context.Context, id int64, req model.AssignRequest) (model.Route, error)
    StartRoute(ctx context.Context, id, driverID int64) (model.Route, error)
    FinishRoute(ctx context.Context, id, callerID int64, admin bool) (model.Route, error)
    CancelRoute(ctx context.Context, id int64) (model.Route, error)
    DeleteRoute(ctx context.Context, id int64) error
    // CreateRouteFromOrders stores a generated route and marks exactly the
    // given orders COLLECTED in the same unit of work. It fails with a
    // conflict, storing nothing, when any of them is no longer active.
    CreateRouteFromOrders(ctx context.Context, in model.RouteInput, orderIDs []int64) (model.Route, error)

    // Stops
    CreateStop(ctx context.Context, routeID int64, in model.StopInput) (model.Route, error)
    UpdateStopPlan(ctx context.Context, routeID, stopID int64, in model.StopInput) (model.Route, error)
    DeleteStop(ctx context.Context, routeID, stopID int64) (model.Route, error)
    UpdateStop(ctx context.Context, routeID, stopID, callerID int64, admin bool, upd model.StopUpdate) (model.Route, error)
    ListStopEvents(ctx context.Context, routeID, stopID int64) ([]model.StopEvent, error)

    // Incidents
    CreateIncident(ctx context.Context, in model.IncidentInput, createdBy string, callerID int64, admin bool) (model.Incident, error)
    UpdateIncident(ctx context.Context, id int64, in model.IncidentInput) (model.Incident, error)
    ResolveIncident(ctx context.Context, id int64) (model.Incident, error)
    GetIncident(ctx context.Context, id int64) (model.Incident, error)
    ListIncidents(ctx context.Context, f model.IncidentFilter) ([]model.Incident, error)

    // Session revocation
    RevokeSession(ctx context.Context, jti string, expiresAt time.Time) error
    IsSessionRevoked(ctx context.Context, jti string) (bool, error)
    PurgeRevokedSessions(ctx context.Context, before time.Time) (int, error)

    // Subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
    DeleteSubscription(ctx context.Context, id string) error

    // Webhook deliveries
    EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
    ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]model.DeliveryRecord, error)
    RetryWebhookDelivery(ctx context.Context, id string) error
    PurgeWebhookDeliveries(ctx context.Context, before time.Time) (int, error)

    Ping(ctx context.Context) error
}

var ErrNotFound = lifecycle.ErrNotFound
