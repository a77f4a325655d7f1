package hue

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/amimof/huego"
	"github.com/pkg/errors"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

var ErrUnreachable = errors.New("bridge reports the light unreachable")

// Bridge hands out light transports for one Hue bridge
type Bridge struct {
	bridge *huego.Bridge
}

// NewBridge connects to host, which may be a bare address or a URL, with
// an already registered API username
func NewBridge(host, username string) *Bridge {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}

	return &Bridge{bridge: huego.New(host, username)}
}

// Light returns the transport for the light with the bridge's numeric ID
func (b *Bridge) Light(id string) (*Light, error) {
	n, err := strconv.Atoi(id)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("invalid Hue light ID `%s`", id)
	}

	return &Light{bridge: b.bridge, id: n}, nil
}

// Light is a LAN transport for one bulb.  Channels are meaningless here.
type Light struct {
	bridge *huego.Bridge
	id     int
}

func (l *Light) SetState(ctx context.Context, target device.State, _ device.Channel) error {
	logging.Logger(ctx).Debugf("hue light %d -> %s", l.id, target)

	resp, err := l.bridge.SetLightStateContext(ctx, l.id, huego.State{On: target == device.StateOn})
	if err != nil {
		return errors.Wrapf(err, "setting hue light %d", l.id)
	}

	if resp != nil {
		logging.Logger(ctx).Debugf("hue light %d: %v", l.id, resp.Success)
	}
	return nil
}

func (l *Light) GetState(ctx context.Context, _ device.Channel) (device.State, error) {
	light, err := l.bridge.GetLightContext(ctx, l.id)
	if err != nil {
		return device.StateUnknown, errors.Wrapf(err, "reading hue light %d", l.id)
	}

	if light.State == nil {
		return device.StateUnknown, fmt.Errorf("hue light %d reported no state", l.id)
	}
	if !light.State.Reachable {
		return device.StateUnknown, ErrUnreachable
	}

	if light.State.On {
		return device.StateOn, nil
	}
	return device.StateOff, nil
}
