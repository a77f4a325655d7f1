package sdmapi

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/appliance"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

var ErrDeviceOffline = errors.New("Nest device reports offline")

// Cloud presents Nest thermostats as switchable devices: OFF is off and any
// other mode is on.  Switching on restores the last mode seen for the
// device, or the default on-mode.
type Cloud struct {
	api    SmartDeviceManagement
	onMode ThermostatMode

	mu       sync.Mutex
	lastMode map[string]ThermostatMode
}

func NewCloud(api SmartDeviceManagement, onMode ThermostatMode) *Cloud {
	if onMode == ThermostatModeOff {
		onMode = ThermostatModeHeat
	}

	return &Cloud{
		api:      api,
		onMode:   onMode,
		lastMode: make(map[string]ThermostatMode),
	}
}

func (c *Cloud) remember(deviceID string, mode ThermostatMode) {
	if mode == ThermostatModeOff {
		return
	}

	c.mu.Lock()
	c.lastMode[deviceID] = mode
	c.mu.Unlock()
}

func (c *Cloud) resumeMode(deviceID string) ThermostatMode {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.lastMode[deviceID]; ok {
		return m
	}
	return c.onMode
}

func (c *Cloud) send(ctx context.Context, deviceID string, commands ...Command) error {
	for _, cmd := range commands {
		if err := c.api.SendCommand(ctx, deviceID, cmd); err != nil {
			return err
		}
	}
	return nil
}

// SetState ignores the channel
func (c *Cloud) SetState(ctx context.Context, remoteID string, target device.State, _ device.Channel) error {
	mode := ThermostatModeOff
	if target == device.StateOn {
		mode = c.resumeMode(remoteID)
	}

	if err := c.send(ctx, remoteID, ModeCommands(mode)...); err != nil {
		return errors.Wrapf(err, "setting mode %s", mode)
	}

	c.remember(remoteID, mode)
	return nil
}

func (c *Cloud) GetState(ctx context.Context, remoteID string, _ device.Channel) (device.State, error) {
	d, err := c.api.GetDevice(ctx, remoteID)
	if err != nil {
		return device.StateUnknown, err
	}

	return c.observe(remoteID, d.Traits)
}

// Observe feeds a trait update pushed by the event feed, so that switching
// back on restores the mode the user last chose
func (c *Cloud) Observe(remoteID string, t Traits) {
	_, _ = c.observe(remoteID, t)
}

func (c *Cloud) observe(remoteID string, t Traits) (device.State, error) {
	if conn, ok := t.Connectivity(); ok && !conn.Online {
		return device.StateUnknown, ErrDeviceOffline
	}

	mode, ok := t.Mode()
	if !ok {
		return device.StateUnknown, errors.New("thermostat mode not reported")
	}

	c.remember(remoteID, mode)
	if mode == ThermostatModeOff {
		return device.StateOff, nil
	}
	return device.StateOn, nil
}

// Control binds the cloud to a single thermostat and exposes its climate
// controls
func (c *Cloud) Control(deviceID string) *Control {
	return &Control{cloud: c, deviceID: deviceID, fanDuration: time.Hour}
}

type Control struct {
	cloud       *Cloud
	deviceID    string
	fanDuration time.Duration
}

func (n *Control) WithFanDuration(d time.Duration) *Control {
	nn := *n
	nn.fanDuration = d
	return &nn
}

func (n *Control) fail(ctx context.Context, err error, what string) bool {
	logging.ForDevice(ctx, n.deviceID).WithError(err).Errorf("Nest: %s", what)
	return false
}

// SetTemperature moves the setpoint appropriate to the current mode
func (n *Control) SetTemperature(ctx context.Context, celsius int) bool {
	d, err := n.cloud.api.GetDevice(ctx, n.deviceID)
	if err != nil {
		return n.fail(ctx, err, "reading thermostat")
	}

	mode, _ := d.Traits.Mode()
	var current DeviceThermostatTemperatureSetpoint
	if sp, ok := d.Traits.Setpoint(); ok {
		current = *sp
	}

	cmd, err := SetpointCommand(mode, float32(celsius), current)
	if err != nil {
		return n.fail(ctx, err, "setting temperature")
	}

	if err := n.cloud.send(ctx, n.deviceID, cmd); err != nil {
		return n.fail(ctx, err, "setting temperature")
	}
	return true
}

func (n *Control) SetMode(ctx context.Context, mode string) bool {
	m, err := ParseThermostatMode(mode)
	if err != nil {
		return n.fail(ctx, err, "setting mode")
	}

	if err := n.cloud.send(ctx, n.deviceID, ModeCommands(m)...); err != nil {
		return n.fail(ctx, err, "setting mode")
	}

	n.cloud.remember(n.deviceID, m)
	return true
}

// SetFanLevel runs the fan timer for any level except off/auto, which stop
// it.  Nest fans have no speed setting.
func (n *Control) SetFanLevel(ctx context.Context, level string) bool {
	enable := level != "" && level != "off" && level != "auto"

	if err := n.cloud.send(ctx, n.deviceID, NewFanCommand(enable, n.fanDuration)); err != nil {
		return n.fail(ctx, err, "setting fan timer")
	}
	return true
}

func (n *Control) SetSwing(ctx context.Context, swing string) bool {
	logging.ForDevice(ctx, n.deviceID).Warnf("Nest thermostats have no swing control (requested %s)", swing)
	return false
}

func (n *Control) Climate(ctx context.Context) (appliance.Climate, error) {
	d, err := n.cloud.api.GetDevice(ctx, n.deviceID)
	if err != nil {
		return appliance.Climate{}, err
	}

	var c appliance.Climate
	temp, ok := d.Traits.Temperature()
	if !ok {
		return c, errors.New("temperature not reported")
	}
	c.Temperature = float64(temp.AmbientTemperatureCelsius)

	if h, ok := d.Traits.Humidity(); ok {
		c.Humidity = float64(h.AmbientHumidityPercent)
	}

	return c, nil
}
