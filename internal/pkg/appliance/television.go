package appliance

import (
	"context"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

// Television is driven entirely by IR and never reports a state
type Television struct {
	name     string
	sender   IrSender
	commands Commands
}

func NewTelevision(name string, sender IrSender, commands Commands) *Television {
	if commands == nil {
		commands = Commands{}
	}
	return &Television{name: name, sender: sender, commands: commands}
}

func (t *Television) Name() string { return t.name }
func (t *Television) Kind() Kind { return KindTelevision }
func (t *Television) Stateless() bool { return true }
func (t *Television) Commands() Commands { return t.commands }

// Send transmits a named command from the table.  A missing name is a
// configuration error.
func (t *Television) Send(ctx context.Context, command string) bool {
	code, ok := t.commands.lookup(command)
	if !ok {
		logging.ForDevice(ctx, t.name).Errorf("command '%s' not found", command)
		return false
	}

	return t.transmit(ctx, command, code)
}

func (t *Television) transmit(ctx context.Context, command, code string) bool {
	logging.ForDevice(ctx, t.name).Infof("sending '%s' via %s", command, t.sender.Name())
	return t.sender.SendRaw(ctx, code)
}

// trySend is the silent lookup used by the on/off/power chain
func (t *Television) trySend(ctx context.Context, names ...string) bool {
	for _, name := range names {
		if code, ok := t.commands.lookup(name); ok {
			return t.transmit(ctx, name, code)
		}
	}

	logging.ForDevice(ctx, t.name).Warnf("none of %v found in command table", names)
	return false
}

func (t *Television) On(ctx context.Context) bool {
	return t.trySend(ctx, "on", "power")
}

func (t *Television) Off(ctx context.Context) bool {
	return t.trySend(ctx, "off", "power")
}

func (t *Television) SetState(ctx context.Context, target device.State) bool {
	switch target {
	case device.StateOn:
		return t.On(ctx)
	case device.StateOff:
		return t.Off(ctx)
	}

	logging.ForDevice(ctx, t.name).Errorf("refusing to set state to %s", target)
	return false
}

func (t *Television) GetState(ctx context.Context) device.State { return device.StateNotApplicable }
func (t *Television) State(ctx context.Context) device.State { return device.StateNotApplicable }
func (t *Television) Cached() device.State { return device.StateNotApplicable }
