package inventory

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/appliance"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/room"
)

const (
	CategoryAll     = "all"
	CategoryBlaster = "blaster"
)

// Options override the per-device defaults held in the file
type Options struct {
	LocalTimeout time.Duration
	CloudTimeout time.Duration
	GroupWorkers int
}

// Inventory is the built object graph
type Inventory struct {
	// every entry by name, in file order
	Devices map[string]device.Controllable
	Order   []string

	// category name -> member names; CategoryAll holds everything
	Categories map[string][]string

	Rooms     map[string]*room.Room
	RoomOrder []string

	// cloud remote id -> names of the entries bound to it
	Remotes map[string][]string
}

// category resolves the entry's category: an appliance kind or blaster
func (e Entry) category() (string, error) {
	c := strings.ToLower(strings.TrimSpace(e.Category))
	if c == CategoryBlaster || c == "ir" {
		return CategoryBlaster, nil
	}

	k, err := appliance.ParseKind(c)
	if err != nil {
		return "", err
	}
	return k.String(), nil
}

func (e Entry) isBlaster() bool {
	c, _ := e.category()
	return c == CategoryBlaster
}

func (e Entry) config(f *File, opts Options) device.Config {
	cfg := device.Config{
		Name:         e.Name,
		Address:      e.Address,
		RemoteID:     e.RemoteID,
		Channel:      e.ChannelOption(),
		Stateless:    e.Stateless || e.isBlaster(),
		LocalTimeout: firstPositive(e.LocalTimeout, opts.LocalTimeout, f.Defaults.LocalTimeout),
		CloudTimeout: firstPositive(e.CloudTimeout, opts.CloudTimeout, f.Defaults.CloudTimeout),
	}

	return cfg
}

func firstPositive(ds ...time.Duration) time.Duration {
	for _, d := range ds {
		if d > 0 {
			return d
		}
	}
	return 0
}

// Build turns the inventory into devices, appliances and rooms.  Physical
// devices are built first so that IR appliances can find their blaster.
func (f *File) Build(ctx context.Context, vendors Vendors, opts Options) (*Inventory, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	inv := &Inventory{
		Devices:    make(map[string]device.Controllable, len(f.Devices)),
		Categories: make(map[string][]string),
		Rooms:      make(map[string]*room.Room),
		Remotes:    make(map[string][]string),
	}

	physical := make(map[string]*device.Device)
	for _, e := range f.Devices {
		if e.Blaster != "" {
			continue
		}

		d, err := f.buildDevice(e, vendors, opts)
		if err != nil {
			return nil, errors.Wrapf(err, "device %s", e.Name)
		}
		physical[e.Name] = d
	}

	for _, e := range f.Devices {
		cat, _ := e.category()

		var c device.Controllable
		if cat == CategoryBlaster {
			c = physical[e.Name]
		} else {
			a, err := buildAppliance(e, cat, physical, vendors)
			if err != nil {
				return nil, errors.Wrapf(err, "device %s", e.Name)
			}
			c = a

			if e.Room != "" {
				inv.room(e.Room, opts).AddDevice(ctx, a)
			}
		}

		inv.Devices[e.Name] = c
		inv.Order = append(inv.Order, e.Name)
		inv.Categories[cat] = append(inv.Categories[cat], e.Name)
		inv.Categories[CategoryAll] = append(inv.Categories[CategoryAll], e.Name)
		if e.RemoteID != "" {
			inv.Remotes[e.RemoteID] = append(inv.Remotes[e.RemoteID], e.Name)
		}

		logging.ForDevice(ctx, e.Name).Debugf("loaded %s (%s) %s", cat, e.Type, e.ChannelOption())
	}

	logging.Logger(ctx).Infof("inventory: %d devices in %d rooms", len(inv.Devices), len(inv.Rooms))
	return inv, nil
}

func (inv *Inventory) room(name string, opts Options) *room.Room {
	r, ok := inv.Rooms[name]
	if !ok {
		r = room.New(name)
		if opts.GroupWorkers > 0 {
			r.WithWorkers(opts.GroupWorkers)
		}
		inv.Rooms[name] = r
		inv.RoomOrder = append(inv.RoomOrder, name)
	}
	return r
}

func (f *File) buildDevice(e Entry, vendors Vendors, opts Options) (*device.Device, error) {
	v, ok := vendors[e.Type]
	if !ok {
		return nil, errors.Errorf("unknown or unconfigured device type '%s' (have %v)", e.Type, vendors.Names())
	}

	var local device.LocalTransport
	if v.Local != nil {
		l, err := v.Local(e)
		if err != nil {
			return nil, errors.Wrap(err, "local transport")
		}
		local = l
	}

	d := device.New(e.config(f, opts), local, v.Cloud)

	if v.Emitter != nil {
		em, err := v.Emitter(e)
		if err != nil {
			return nil, errors.Wrap(err, "IR emitter")
		}
		if em != nil {
			d.WithEmitter(em)
		}
	}

	if local == nil && v.Cloud == nil && !d.CanEmit() {
		return nil, errors.Errorf("type '%s' gives it no way to be reached", e.Type)
	}

	return d, nil
}

func buildAppliance(e Entry, cat string, physical map[string]*device.Device, vendors Vendors) (appliance.Appliance, error) {
	kind, _ := appliance.ParseKind(cat)

	if e.Blaster != "" {
		blaster, ok := physical[e.Blaster]
		if !ok || !blaster.CanEmit() {
			return nil, errors.Errorf("blaster %s cannot transmit IR", e.Blaster)
		}

		switch kind {
		case appliance.KindTelevision:
			return appliance.NewTelevision(e.Name, blaster, e.Commands), nil
		case appliance.KindAirConditioner:
			return appliance.NewAirConditioner(e.Name, appliance.IrBacking{Sender: blaster, Commands: e.Commands})
		}
		return nil, errors.Errorf("%s appliances cannot be driven by a blaster", kind)
	}

	d := physical[e.Name]

	switch kind {
	case appliance.KindTelevision:
		return nil, errors.New("a TV needs a blaster")
	case appliance.KindAirConditioner:
		v := vendors[e.Type]
		if v.Climate == nil {
			return nil, errors.Errorf("type '%s' has no climate control; use a blaster", e.Type)
		}
		ctl, err := v.Climate(e)
		if err != nil {
			return nil, errors.Wrap(err, "climate control")
		}
		return appliance.NewAirConditioner(e.Name, appliance.SmartBacking{Device: d, Control: ctl})
	}

	return appliance.Wrap(kind, e.Name, d)
}
