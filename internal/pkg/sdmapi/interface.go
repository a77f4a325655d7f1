package sdmapi

import (
	"context"
	"time"
)

// Device is a Nest device as reported by the Smart Device Management API.
// ID is the short form, without the enterprises/<project>/devices/ prefix.
type Device struct {
	ID         string
	DeviceType string
	Traits     Traits
}

type Command interface {
	commandName() string
}

type SmartDeviceManagement interface {
	WithTimeout(d time.Duration) SmartDeviceManagement
	Devices(ctx context.Context) ([]Device, error)
	GetDevice(ctx context.Context, deviceID string) (*Device, error)
	SendCommand(ctx context.Context, deviceID string, command Command) error
}
