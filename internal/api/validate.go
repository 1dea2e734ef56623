package api

import (
	"fmt"
	"strings"

	"wasteroute/internal/lifecycle"
	"wasteroute/internal/model"
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", lifecycle.ErrInvalid, fmt.Sprintf(format, args...))
}

func validateUserInput(in *model.UserInput, create bool) error {
	in.Login = strings.TrimSpace(in.Login)
	in.Name = strings.TrimSpace(in.Name)
	if in.Login == "" {
		return invalidf("login is required")
	}
	if in.Name == "" {
		return invalidf("name is required")
	}
	if create && in.Password == "" {
		return invalidf("password is required")
	}
	if in.Password != "" && len(in.Password) < 6 {
		return invalidf("password must be at least 6 characters")
	}
	return nil
}

func validateVehicleInput(in *model.VehicleInput, _ bool) error {
	in.PlateNumber = strings.TrimSpace(in.PlateNumber)
	if in.PlateNumber == "" {
		return invalidf("plateNumber is required")
	}
	if in.Capacity < 0 {
		return invalidf("capacity must be >= 0")
	}
	return nil
}

func validateGarbagePointInput(in *model.GarbagePointInput, _ bool) error {
	in.Address = strings.TrimSpace(in.Address)
	if in.Address == "" {
		return invalidf("address is required")
	}
	if in.Capacity < 0 {
		return invalidf("capacity must be >= 0")
	}
	if (in.Lat == nil) != (in.Lon == nil) {
		return invalidf("lat and lon must be given together")
	}
	if in.Lat != nil && (*in.Lat < -90 || *in.Lat > 90) {
		return invalidf("lat must be in [-90, 90]")
	}
	if in.Lon != nil && (*in.Lon < -180 || *in.Lon > 180) {
		return invalidf("lon must be in [-180, 180]")
	}
	return nil
}

func validateFractionInput(in *model.FractionInput, _ bool) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Code = strings.TrimSpace(in.Code)
	if in.Name == "" || in.Code == "" {
		return invalidf("name and code are required")
	}
	return nil
}

func validateContainerSizeInput(in *model.ContainerSizeInput, _ bool) error {
	in.Code = strings.TrimSpace(in.Code)
	if in.Code == "" {
		return invalidf("code is required")
	}
	if in.Capacity < 0 {
		return invalidf("capacity must be >= 0")
	}
	for name, v := range map[string]*float64{"length": in.Length, "width": in.Width, "height": in.Height} {
		if v != nil && *v < 0 {
			return invalidf("%s must be >= 0", name)
		}
	}
	return nil
}

func validateKioskOrderInput(in *model.KioskOrderInput, _ bool) error {
	if in.ContainerSizeID <= 0 || in.FractionID <= 0 {
		return invalidf("containerSizeId and fractionId are required")
	}
	if in.Weight < 0 {
		return invalidf("weight must be >= 0")
	}
	if in.Status != "" && !in.Status.Valid() {
		return invalidf("unknown order status %q", in.Status)
	}
	return nil
}
