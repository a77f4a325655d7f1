package appliance

import (
	"context"
	"fmt"
	"strings"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
)

// Kind selects where a room files an appliance
type Kind int

const (
	KindOther Kind = iota
	KindLight
	KindSwitch
	KindTelevision
	KindAirConditioner
)

var kindNames = map[Kind]string{
	KindOther:          "other",
	KindLight:          "light",
	KindSwitch:         "switch",
	KindTelevision:     "tv",
	KindAirConditioner: "ac",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseKind accepts the inventory spelling of a kind.  An empty string is
// KindOther.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "other", "others":
		return KindOther, nil
	case "light", "lights":
		return KindLight, nil
	case "switch", "switches":
		return KindSwitch, nil
	case "tv", "television":
		return KindTelevision, nil
	case "ac", "aircon", "air_conditioner":
		return KindAirConditioner, nil
	}

	return KindOther, fmt.Errorf("unknown appliance kind: %s", s)
}

// Appliance is a named, switchable thing a room knows how to file
type Appliance interface {
	device.Controllable
	Kind() Kind
}

// IrSender transmits raw IR codes.  *device.Device implements it.
type IrSender interface {
	Name() string
	SendRaw(ctx context.Context, code string) bool
}

// Commands maps command names (power, cool_24, ...) to raw IR codes
type Commands map[string]string

func (c Commands) lookup(name string) (string, bool) {
	code, ok := c[name]
	if !ok {
		code, ok = c[strings.ToLower(name)]
	}
	if !ok || code == "" {
		return "", false
	}
	return code, true
}

// proxy forwards every generic call to a backing device
type proxy struct {
	name    string
	backing device.Controllable
}

func (p *proxy) Name() string { return p.name }
func (p *proxy) Backing() device.Controllable { return p.backing }
func (p *proxy) SetState(ctx context.Context, target device.State) bool { return p.backing.SetState(ctx, target) }
func (p *proxy) On(ctx context.Context) bool { return p.backing.On(ctx) }
func (p *proxy) Off(ctx context.Context) bool { return p.backing.Off(ctx) }
func (p *proxy) GetState(ctx context.Context) device.State { return p.backing.GetState(ctx) }
func (p *proxy) State(ctx context.Context) device.State { return p.backing.State(ctx) }
func (p *proxy) Cached() device.State { return p.backing.Cached() }
func (p *proxy) Stateless() bool { return p.backing.Stateless() }

func newProxy(name string, backing device.Controllable) proxy {
	if name == "" {
		name = backing.Name()
	}
	return proxy{name: name, backing: backing}
}

type Light struct{ proxy }

func NewLight(name string, backing device.Controllable) *Light {
	return &Light{newProxy(name, backing)}
}

func (*Light) Kind() Kind { return KindLight }

type Switch struct{ proxy }

func NewSwitch(name string, backing device.Controllable) *Switch {
	return &Switch{newProxy(name, backing)}
}

func (*Switch) Kind() Kind { return KindSwitch }

// Other is anything that is neither a light nor a switch: a fan, a heater
type Other struct{ proxy }

func NewOther(name string, backing device.Controllable) *Other {
	return &Other{newProxy(name, backing)}
}

func (*Other) Kind() Kind { return KindOther }

// Wrap builds the plain wrapper for kind.  Television and AirConditioner
// need a command table or AC backing and are built with their own
// constructors.
func Wrap(kind Kind, name string, backing device.Controllable) (Appliance, error) {
	switch kind {
	case KindLight:
		return NewLight(name, backing), nil
	case KindSwitch:
		return NewSwitch(name, backing), nil
	case KindOther:
		return NewOther(name, backing), nil
	}

	return nil, fmt.Errorf("%s appliances cannot wrap a plain device", kind)
}
