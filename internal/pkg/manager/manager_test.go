package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/inventory"
)

// fakeCloud answers per remote id and counts queries per remote id
type fakeCloud struct {
	mu      sync.Mutex
	states  map[string]device.State
	latency time.Duration
	queries map[string]int
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		states:  make(map[string]device.State),
		queries: make(map[string]int),
	}
}

func (f *fakeCloud) SetState(ctx context.Context, remoteID string, target device.State, ch device.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.states[remoteID]; !ok {
		return assert.AnError
	}
	f.states[remoteID] = target
	return nil
}

func (f *fakeCloud) GetState(ctx context.Context, remoteID string, ch device.Channel) (device.State, error) {
	time.Sleep(f.latency)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries[remoteID]++
	s, ok := f.states[remoteID]
	if !ok {
		return device.StateUnknown, assert.AnError
	}
	return s, nil
}

func (f *fakeCloud) count(remoteID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[remoteID]
}

type nopEmitter struct{}

func (nopEmitter) SendRaw(ctx context.Context, code string) error { return nil }

const home = `
devices:
  - {name: Lamp, type: cloud, category: light, room: Bedroom, remote_id: lamp}
  - {name: Heater, type: cloud, category: switch, room: Bedroom, remote_id: heater}
  - {name: Fan, type: cloud, category: other, room: Lounge, remote_id: fan}
  - {name: Dead, type: cloud, category: switch, room: Lounge, remote_id: gone}
  - {name: Blaster, type: ir, category: blaster}
  - name: TV
    category: tv
    room: Lounge
    blaster: Blaster
    commands: {power: "P"}
`

func newManager(t *testing.T, cloud *fakeCloud) *Manager {
	f, err := inventory.Parse([]byte(home))
	require.NoError(t, err)

	m := New(inventory.Vendors{
		"cloud": {Cloud: cloud},
		"ir": {Emitter: func(e inventory.Entry) (device.Emitter, error) {
			return nopEmitter{}, nil
		}},
	})
	require.NoError(t, m.Initialize(context.Background(), f, true))
	return m
}

func TestLookup(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	m := newManager(t, newFakeCloud())

	d, ok := m.Device(ctx, "Lamp")
	require.True(t, ok)
	assert.Equal("Lamp", d.Name())

	_, ok = m.Device(ctx, "Nothing")
	assert.False(ok)
	assert.False(m.SetState(ctx, "Nothing", device.StateOn))

	assert.Len(m.Devices(), 6)
	assert.Len(m.Category("switch"), 2)
	assert.Len(m.Category("ALL"), 6)
	assert.Empty(m.Category("garage"))
	assert.Contains(m.Categories(), "blaster")

	require.Len(t, m.Rooms(), 2)
	assert.Equal("Bedroom", m.Rooms()[0].Name())
	lounge, ok := m.Room("Lounge")
	require.True(t, ok)
	assert.Equal("TV", lounge.TV().Name())
}

func TestHealthBeforeAndAfterRefresh(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cloud := newFakeCloud()
	cloud.states["lamp"] = device.StateOn
	cloud.states["heater"] = device.StateOff
	cloud.states["fan"] = device.StateOff

	m := newManager(t, cloud)

	// nothing fetched yet: every stateful device is unconfirmed
	assert.Equal(Health{Total: 6, Online: 0, Offline: 4, StatelessIR: 2}, m.SystemHealth())
	assert.Equal(0, cloud.count("lamp"), "health must not touch the network")

	m.RefreshAll(ctx)
	assert.Equal(Health{Total: 6, Online: 3, Offline: 1, StatelessIR: 2}, m.SystemHealth())

	assert.True(m.SetState(ctx, "Lamp", device.StateOff))
	assert.Equal(device.StateOff, m.Devices()[0].Cached())
}

func TestInitializeRefreshes(t *testing.T) {
	cloud := newFakeCloud()
	cloud.states["lamp"] = device.StateOn

	f, err := inventory.Parse([]byte(home))
	require.NoError(t, err)

	m := New(inventory.Vendors{
		"cloud": {Cloud: cloud},
		"ir":    {Emitter: func(e inventory.Entry) (device.Emitter, error) { return nopEmitter{}, nil }},
	})
	require.NoError(t, m.Initialize(context.Background(), f, false))

	assert.Equal(t, 1, cloud.count("lamp"))
	assert.Equal(t, 1, m.SystemHealth().Online)
}

func TestInitializeFailsOnUnknownVendor(t *testing.T) {
	f, err := inventory.Parse([]byte(home))
	require.NoError(t, err)

	err = New(inventory.Vendors{}).Initialize(context.Background(), f, true)
	assert.Error(t, err)
}

func TestRefreshRemote(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cloud := newFakeCloud()
	cloud.states["heater"] = device.StateOn
	m := newManager(t, cloud)

	assert.Equal(1, m.RefreshRemote(ctx, "heater"))
	assert.Equal(0, m.RefreshRemote(ctx, "nobody"))
	// bound but unreachable
	assert.Equal(0, m.RefreshRemote(ctx, "gone"))
	assert.Equal(1, cloud.count("heater"))
	assert.Equal(0, cloud.count("lamp"))

	heater, _ := m.Device(ctx, "Heater")
	assert.Equal(device.StateOn, heater.Cached())
}

func TestRefreshAllIsConcurrent(t *testing.T) {
	cloud := newFakeCloud()
	cloud.latency = time.Millisecond * 200
	m := newManager(t, cloud).WithRefreshWorkers(20)

	start := time.Now()
	m.RefreshAll(context.Background())

	assert.Less(t, time.Since(start), time.Millisecond*600)
}
