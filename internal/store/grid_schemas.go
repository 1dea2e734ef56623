package store

import "wasteroute/internal/model"

var userGrid = gridSchema[model.User]{entity: "user", cols: map[string]column[model.User]{
    "id":        {"id", colNumber, func(u model.User) any { return u.ID }},
    "login":     {"login", colText, func(u model.User) any { return u.Login }},
    "name":      {"name", colText, func(u model.User) any { return u.Name }},
    "phone":     {"phone", colText, func(u model.User) any { return u.Phone }},
    "active":    {"active", colBool, func(u model.User) any { return u.Active }},
    "createdAt": {"created_at", colTime, func(u model.User) any { return u.CreatedAt }},
}}

var vehicleGrid = gridSchema[model.Vehicle]{entity: "vehicle", cols: map[string]column[model.Vehicle]{
    "id":          {"id", colNumber, func(v model.Vehicle) any { return v.ID }},
    "plateNumber": {"plate_number", colText, func(v model.Vehicle) any { return v.PlateNumber }},
    "name":        {"name", colText, func(v model.Vehicle) any { return v.Name }},
    "capacity":    {"capacity", colNumber, func(v model.Vehicle) any { return v.Capacity }},
    "active":      {"active", colBool, func(v model.Vehicle) any { return v.Active }},
    "createdAt":   {"created_at", colTime, func(v model.Vehicle) any { return v.CreatedAt }},
}}

var garbagePointGrid = gridSchema[model.GarbagePoint]{entity: "garbage point", cols: map[string]column[model.GarbagePoint]{
    "id":        {"id", colNumber, func(p model.GarbagePoint) any { return p.ID }},
    "address":   {"address", colText, func(p model.GarbagePoint) any { return p.Address }},
    "capacity":  {"capacity", colNumber, func(p model.GarbagePoint) any { return p.Capacity }},
    "open":      {"open", colBool, func(p model.GarbagePoint) any { return p.Open }},
    "lat":       {"lat", colNumber, func(p model.GarbagePoint) any { return p.Lat }},
    "lon":       {"lon", colNumber, func(p model.GarbagePoint) any { return p.Lon }},
    "kioskId":   {"kiosk_id", colNumber, func(p model.GarbagePoint) any { return p.KioskID }},
    "createdAt": {"created_at", colTime, func(p model.GarbagePoint) any { return p.CreatedAt }},
}}

var fractionGrid = gridSchema[model.Fraction]{entity: "fraction", cols: map[string]column[model.Fraction]{
    "id":          {"id", colNumber, func(f model.Fraction) any { return f.ID }},
    "name":        {"name", colText, func(f model.Fraction) any { return f.Name }},
    "code":        {"code", colText, func(f model.Fraction) any { return f.Code }},
    "description": {"description", colText, func(f model.Fraction) any { return f.Description }},
    "hazardous":   {"hazardous", colBool, func(f model.Fraction) any { return f.Hazardous }},
}}

var containerSizeGrid = gridSchema[model.ContainerSize]{entity: "container size", cols: map[string]column[model.ContainerSize]{
    "id":          {"id", colNumber, func(c model.ContainerSize) any { return c.ID }},
    "code":        {"code", colText, func(c model.ContainerSize) any { return c.Code }},
    "capacity":    {"capacity", colNumber, func(c model.ContainerSize) any { return c.Capacity }},
    "length":      {"length", colNumber, func(c model.ContainerSize) any { return c.Length }},
    "width":       {"width", colNumber, func(c model.ContainerSize) any { return c.Width }},
    "height":      {"height", colNumber, func(c model.ContainerSize) any { return c.Height }},
    "description": {"description", colText, func(c model.ContainerSize) any { return c.Description }},
    "createdAt":   {"created_at", colTime, func(c model.ContainerSize) any { return c.CreatedAt }},
}}

var kioskOrderGrid = gridSchema[model.KioskOrder]{entity: "kiosk order", cols: map[string]column[model.KioskOrder]{
    "id":              {"id", colNumber, func(o model.KioskOrder) any { return o.ID }},
    "garbagePointId":  {"garbage_point_id", colNumber, func(o model.KioskOrder) any { return o.GarbagePointID }},
    "containerSizeId": {"container_size_id", colNumber, func(o model.KioskOrder) any { return o.ContainerSizeID }},
    "fractionId":      {"fraction_id", colNumber, func(o model.KioskOrder) any { return o.FractionID }},
    "userId":          {"user_id", colNumber, func(o model.KioskOrder) any { return o.UserID }},
    "weight":          {"weight", colNumber, func(o model.KioskOrder) any { return o.Weight }},
    "status":          {"status", colText, func(o model.KioskOrder) any { return string(o.Status) }},
    "createdAt":       {"created_at", colTime, func(o model.KioskOrder) any { return o.CreatedAt }},
}}
