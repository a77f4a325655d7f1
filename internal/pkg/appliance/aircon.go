package appliance

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

const (
	DefaultTemperature = 24
	DefaultMode        = "cool"
)

// AcControl is the climate side of a smart AC backend
type AcControl interface {
	SetTemperature(ctx context.Context, celsius int) bool
	SetMode(ctx context.Context, mode string) bool
}

// FanControl is implemented by backends that can also drive the fan
type FanControl interface {
	SetFanLevel(ctx context.Context, level string) bool
	SetSwing(ctx context.Context, swing string) bool
}

// Climate is a room reading taken by the AC's sensor
type Climate struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// ClimateSensor is implemented by backends with a built-in thermometer
type ClimateSensor interface {
	Climate(ctx context.Context) (Climate, error)
}

// Backing is what drives an AirConditioner: either a SmartBacking or an
// IrBacking.  No other implementations exist.
type Backing interface {
	backing()
}

// SmartBacking is a cloud- or LAN-controlled AC that reports its own state
type SmartBacking struct {
	Device  device.Controllable
	Control AcControl
}

// IrBacking is a dumb AC reached through an IR blaster and a command table
// keyed by on, off, power and <mode>_<temp>
type IrBacking struct {
	Sender   IrSender
	Commands Commands
}

func (SmartBacking) backing() {}
func (IrBacking) backing() {}

type AirConditioner struct {
	name    string
	backing Backing

	mu   sync.Mutex
	temp int
	mode string
	on   bool
}

func NewAirConditioner(name string, b Backing) (*AirConditioner, error) {
	switch b := b.(type) {
	case SmartBacking:
		if b.Device == nil || b.Control == nil {
			return nil, fmt.Errorf("air conditioner %s: smart backing needs a device and a control", name)
		}
	case IrBacking:
		if b.Sender == nil {
			return nil, fmt.Errorf("air conditioner %s: IR backing needs a sender", name)
		}
	default:
		return nil, fmt.Errorf("air conditioner %s: no backing", name)
	}

	return &AirConditioner{
		name:    name,
		backing: b,
		temp:    DefaultTemperature,
		mode:    DefaultMode,
	}, nil
}

func (a *AirConditioner) Name() string { return a.name }
func (a *AirConditioner) Kind() Kind { return KindAirConditioner }
func (a *AirConditioner) Backing() Backing { return a.backing }

func (a *AirConditioner) log(ctx context.Context) *logrus.Entry {
	return logging.ForDevice(ctx, a.name)
}

// Settings returns the target temperature and mode last requested
func (a *AirConditioner) Settings() (int, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.temp, a.mode
}

// Assumed is the optimistic power state tracked for IR units
func (a *AirConditioner) Assumed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.on
}

func (a *AirConditioner) Stateless() bool {
	if b, ok := a.backing.(SmartBacking); ok {
		return b.Device.Stateless()
	}
	return true
}

func (a *AirConditioner) On(ctx context.Context) bool {
	a.setAssumed(true)
	a.log(ctx).Info("turning on")

	switch b := a.backing.(type) {
	case SmartBacking:
		return b.Device.On(ctx)
	case IrBacking:
		if a.trySend(ctx, b, "on", "power") {
			return true
		}
		// most units power up when sent their settings
		return a.applyIrSettings(ctx, b)
	}

	return false
}

func (a *AirConditioner) Off(ctx context.Context) bool {
	a.setAssumed(false)
	a.log(ctx).Info("turning off")

	switch b := a.backing.(type) {
	case SmartBacking:
		return b.Device.Off(ctx)
	case IrBacking:
		if a.trySend(ctx, b, "off", "power") {
			return true
		}
		a.log(ctx).Warn("no 'off' or 'power' command configured")
	}

	return false
}

func (a *AirConditioner) SetState(ctx context.Context, target device.State) bool {
	switch target {
	case device.StateOn:
		return a.On(ctx)
	case device.StateOff:
		return a.Off(ctx)
	}

	a.log(ctx).Errorf("refusing to set state to %s", target)
	return false
}

func (a *AirConditioner) SetTemperature(ctx context.Context, celsius int) bool {
	a.mu.Lock()
	a.temp = celsius
	a.mu.Unlock()
	a.log(ctx).Infof("setting temperature to %d°C", celsius)

	switch b := a.backing.(type) {
	case SmartBacking:
		return b.Control.SetTemperature(ctx, celsius)
	case IrBacking:
		a.setAssumed(true)
		return a.applyIrSettings(ctx, b)
	}

	return false
}

// SetMode accepts cool, heat, fan, dry or auto; the backend decides what it
// supports
func (a *AirConditioner) SetMode(ctx context.Context, mode string) bool {
	mode = strings.ToLower(strings.TrimSpace(mode))

	a.mu.Lock()
	a.mode = mode
	a.mu.Unlock()
	a.log(ctx).Infof("setting mode to %s", mode)

	switch b := a.backing.(type) {
	case SmartBacking:
		return b.Control.SetMode(ctx, mode)
	case IrBacking:
		a.setAssumed(true)
		return a.applyIrSettings(ctx, b)
	}

	return false
}

func (a *AirConditioner) SetFanLevel(ctx context.Context, level string) bool {
	if fc := a.fanControl(); fc != nil {
		return fc.SetFanLevel(ctx, level)
	}

	a.log(ctx).Errorf("backend cannot set fan level")
	return false
}

func (a *AirConditioner) SetSwing(ctx context.Context, swing string) bool {
	if fc := a.fanControl(); fc != nil {
		return fc.SetSwing(ctx, swing)
	}

	a.log(ctx).Errorf("backend cannot set swing")
	return false
}

func (a *AirConditioner) fanControl() FanControl {
	if b, ok := a.backing.(SmartBacking); ok {
		if fc, ok := b.Control.(FanControl); ok {
			return fc
		}
	}
	return nil
}

// Climate reads the room through the backend's sensor, if it has one
func (a *AirConditioner) Climate(ctx context.Context) (Climate, bool) {
	b, ok := a.backing.(SmartBacking)
	if !ok {
		return Climate{}, false
	}
	sensor, ok := b.Control.(ClimateSensor)
	if !ok {
		return Climate{}, false
	}

	c, err := sensor.Climate(ctx)
	if err != nil {
		a.log(ctx).WithError(err).Warn("reading climate")
		return Climate{}, false
	}

	return c, true
}

func (a *AirConditioner) GetState(ctx context.Context) device.State {
	if b, ok := a.backing.(SmartBacking); ok {
		return b.Device.GetState(ctx)
	}
	return device.StateNotApplicable
}

func (a *AirConditioner) State(ctx context.Context) device.State {
	if b, ok := a.backing.(SmartBacking); ok {
		return b.Device.State(ctx)
	}
	return device.StateNotApplicable
}

func (a *AirConditioner) Cached() device.State {
	if b, ok := a.backing.(SmartBacking); ok {
		return b.Device.Cached()
	}
	return device.StateNotApplicable
}

func (a *AirConditioner) setAssumed(on bool) {
	a.mu.Lock()
	a.on = on
	a.mu.Unlock()
}

func (a *AirConditioner) applyIrSettings(ctx context.Context, b IrBacking) bool {
	temp, mode := a.Settings()
	key := fmt.Sprintf("%s_%d", mode, temp)

	code, ok := b.Commands.lookup(key)
	if !ok {
		a.log(ctx).Warnf("command '%s' not found in command table", key)
		return false
	}

	return a.transmit(ctx, b, key, code)
}

// trySend sends the first command present; absence is silent
func (a *AirConditioner) trySend(ctx context.Context, b IrBacking, names ...string) bool {
	for _, name := range names {
		if code, ok := b.Commands.lookup(name); ok {
			return a.transmit(ctx, b, name, code)
		}
	}
	return false
}

func (a *AirConditioner) transmit(ctx context.Context, b IrBacking, name, code string) bool {
	a.log(ctx).Infof("sending IR command '%s' via %s", name, b.Sender.Name())
	return b.Sender.SendRaw(ctx, code)
}
