package service

import (
	"context"

	"shockstream"
	"shockstream/internal/device"
)

// DeviceAPI is the slice of the device client the service layer needs.
type DeviceAPI interface {
	SendShock(ctx context.Context, deviceID string, intensity, durationMs int, opts device.SendOptions) error
	SendVibrate(ctx context.Context, deviceID string, intensity, durationMs int, opts device.SendOptions) error
	SendSound(ctx context.Context, deviceID string, intensity, durationMs int, opts device.SendOptions) error
	ListDevices(ctx context.Context) ([]shockstream.Device, error)
}

type DeviceService struct {
	api DeviceAPI
}

func NewDeviceService(api DeviceAPI) *DeviceService {
	return &DeviceService{api: api}
}

// List returns the account's controllable devices, flattened out of the
// hub/shocker nesting.
func (s *DeviceService) List(ctx context.Context) ([]shockstream.Device, error) {
	return s.api.ListDevices(ctx)
}
