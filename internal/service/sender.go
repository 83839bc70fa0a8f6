package service

import (
	"context"
	"fmt"

	"shockstream"
	"shockstream/internal/device"
)

// DeviceSender adapts the device client to the scheduler's CommandSender.
// It also translates priority conventions: the scheduler uses 1..10 with 10
// most urgent, the client queue serves lower numbers first.
type DeviceSender struct {
	api DeviceAPI
}

func NewDeviceSender(api DeviceAPI) *DeviceSender {
	return &DeviceSender{api: api}
}

// Send dispatches one command through the device client, blocking until the
// client reports the final outcome.
func (s *DeviceSender) Send(ctx context.Context, cmd shockstream.Command, priority int) error {
	opts := device.SendOptions{Priority: 10 - priority}

	switch cmd.Type {
	case shockstream.CommandShock:
		return s.api.SendShock(ctx, cmd.DeviceID, cmd.Intensity, cmd.DurationMs, opts)
	case shockstream.CommandVibrate:
		return s.api.SendVibrate(ctx, cmd.DeviceID, cmd.Intensity, cmd.DurationMs, opts)
	case shockstream.CommandSound:
		return s.api.SendSound(ctx, cmd.DeviceID, cmd.Intensity, cmd.DurationMs, opts)
	}
	return fmt.Errorf("unsupported command type %q", cmd.Type)
}
