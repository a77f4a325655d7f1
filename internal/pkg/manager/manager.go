package manager

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/korovkin/limiter"
	"github.com/pkg/errors"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/inventory"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/room"
)

const DefaultRefreshWorkers = 20

var ErrUnknownDevice = errors.New("unknown device")

// Health summarises the cached state of every device
type Health struct {
	Total       int `json:"total_devices"`
	Online      int `json:"online"`
	Offline     int `json:"offline"`
	StatelessIR int `json:"stateless_ir"`
}

// Manager owns the vendor transports and everything built from the
// inventory
type Manager struct {
	vendors inventory.Vendors
	opts    inventory.Options
	workers int

	mu  sync.RWMutex
	inv *inventory.Inventory
}

func New(vendors inventory.Vendors) *Manager {
	return &Manager{
		vendors: vendors,
		workers: DefaultRefreshWorkers,
		inv:     &inventory.Inventory{},
	}
}

// WithRefreshWorkers bounds how many devices are queried at once
func (m *Manager) WithRefreshWorkers(n int) *Manager {
	if n > 0 {
		m.workers = n
	}
	return m
}

// WithOptions sets timeouts and group workers applied when building
func (m *Manager) WithOptions(opts inventory.Options) *Manager {
	m.opts = opts
	return m
}

// Initialize builds the inventory and, unless skipRefresh is set, fetches
// the state of every device once
func (m *Manager) Initialize(ctx context.Context, f *inventory.File, skipRefresh bool) error {
	inv, err := f.Build(ctx, m.vendors, m.opts)
	if err != nil {
		return errors.Wrap(err, "building inventory")
	}

	m.mu.Lock()
	m.inv = inv
	m.mu.Unlock()

	logging.Logger(ctx).Infof("system ready, loaded %d devices", len(inv.Order))

	if !skipRefresh {
		m.RefreshAll(ctx)
	}

	return nil
}

func (m *Manager) current() *inventory.Inventory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inv
}

// Device looks up a device by name.  An unknown name is logged.
func (m *Manager) Device(ctx context.Context, name string) (device.Controllable, bool) {
	c, ok := m.current().Devices[name]
	if !ok {
		logging.ForDevice(ctx, name).WithError(ErrUnknownDevice).Error("lookup failed")
	}
	return c, ok
}

// Devices returns every device in inventory order
func (m *Manager) Devices() []device.Controllable {
	inv := m.current()

	list := make([]device.Controllable, 0, len(inv.Order))
	for _, n := range inv.Order {
		list = append(list, inv.Devices[n])
	}
	return list
}

// Category returns the devices filed under a category: light, switch,
// other, tv, ac, blaster or all
func (m *Manager) Category(name string) []device.Controllable {
	inv := m.current()

	names := inv.Categories[strings.ToLower(name)]
	list := make([]device.Controllable, 0, len(names))
	for _, n := range names {
		list = append(list, inv.Devices[n])
	}
	return list
}

func (m *Manager) Categories() []string {
	inv := m.current()

	names := make([]string, 0, len(inv.Categories))
	for n := range inv.Categories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) Rooms() []*room.Room {
	inv := m.current()

	list := make([]*room.Room, 0, len(inv.RoomOrder))
	for _, n := range inv.RoomOrder {
		list = append(list, inv.Rooms[n])
	}
	return list
}

func (m *Manager) Room(name string) (*room.Room, bool) {
	r, ok := m.current().Rooms[name]
	return r, ok
}

// SetState switches a device by name
func (m *Manager) SetState(ctx context.Context, name string, target device.State) bool {
	c, ok := m.Device(ctx, name)
	if !ok {
		return false
	}
	return c.SetState(ctx, target)
}

// RefreshAll queries every device concurrently to resynchronise the caches
func (m *Manager) RefreshAll(ctx context.Context) {
	start := time.Now()
	devices := m.Devices()

	logging.Logger(ctx).Infof("refreshing %d devices", len(devices))
	m.refresh(ctx, devices)
	logging.Logger(ctx).Infof("refresh complete in %s", time.Since(start).Round(time.Millisecond))
}

// RefreshRemote queries only the devices bound to a cloud remote id, and
// returns how many of them answered
func (m *Manager) RefreshRemote(ctx context.Context, remoteID string) int {
	inv := m.current()

	names := inv.Remotes[remoteID]
	if len(names) == 0 {
		logging.Logger(ctx).Debugf("no devices bound to remote id %s", remoteID)
		return 0
	}

	devices := make([]device.Controllable, 0, len(names))
	for _, n := range names {
		devices = append(devices, inv.Devices[n])
	}

	return m.refresh(ctx, devices)
}

// refresh returns the number of devices that reported on or off
func (m *Manager) refresh(ctx context.Context, devices []device.Controllable) int {
	limit := limiter.NewConcurrencyLimiter(m.workers)

	var answered atomic.Int32
	for _, d := range devices {
		d := d
		limit.Execute(func() {
			if d.GetState(ctx).IsPower() {
				answered.Add(1)
			}
		})
	}

	limit.Wait()
	return int(answered.Load())
}

// SystemHealth classifies devices from their caches without any I/O
func (m *Manager) SystemHealth() Health {
	devices := m.Devices()
	h := Health{Total: len(devices)}

	for _, d := range devices {
		switch d.Cached() {
		case device.StateOn, device.StateOff:
			h.Online++
		case device.StateOffline, device.StateUnknown:
			h.Offline++
		}
	}

	h.StatelessIR = h.Total - h.Online - h.Offline
	return h
}
