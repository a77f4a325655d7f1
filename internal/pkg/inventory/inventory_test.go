package inventory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/appliance"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
)

const sample = `
defaults:
  local_timeout: 1s
devices:
  - name: Bedroom Lamp
    type: sonoff
    category: light
    room: Bedroom
    address: 192.168.1.20
    remote_id: 1000aa
  - name: Dual 0
    type: sonoff
    category: switch
    room: Bedroom
    address: 192.168.1.21
    remote_id: 1000bb
    channel: 0
  - name: Dual 1
    type: sonoff
    category: switch
    address: 192.168.1.21
    remote_id: 1000bb
    channel: 1
  - name: Bedroom Blaster
    type: mqttir
    category: blaster
    topic: tasmota_ir
  - name: Bedroom TV
    category: tv
    room: Bedroom
    blaster: Bedroom Blaster
    commands:
      power: "0x20DF10EF"
  - name: Bedroom AC
    category: ac
    room: Bedroom
    blaster: Bedroom Blaster
    commands:
      cool_24: "0xAA"
  - name: Lounge AC
    type: sensibo
    category: ac
    room: Lounge
    remote_id: pod1
    cloud_timeout: 5s
`

type nopLocal struct{}

func (nopLocal) SetState(ctx context.Context, target device.State, ch device.Channel) error {
	return nil
}

func (nopLocal) GetState(ctx context.Context, ch device.Channel) (device.State, error) {
	return device.StateOff, nil
}

type nopCloud struct{}

func (nopCloud) SetState(ctx context.Context, remoteID string, target device.State, ch device.Channel) error {
	return nil
}

func (nopCloud) GetState(ctx context.Context, remoteID string, ch device.Channel) (device.State, error) {
	return device.StateOn, nil
}

type nopEmitter struct{}

func (nopEmitter) SendRaw(ctx context.Context, code string) error { return nil }

type nopClimate struct{}

func (nopClimate) SetTemperature(ctx context.Context, c int) bool { return true }
func (nopClimate) SetMode(ctx context.Context, m string) bool { return true }

func testVendors(seen *[]Entry) Vendors {
	return Vendors{
		"sonoff": {
			Cloud: nopCloud{},
			Local: func(e Entry) (device.LocalTransport, error) {
				if seen != nil {
					*seen = append(*seen, e)
				}
				if e.Address == "" {
					return nil, nil
				}
				return nopLocal{}, nil
			},
		},
		"mqttir": {
			Emitter: func(e Entry) (device.Emitter, error) { return nopEmitter{}, nil },
		},
		"sensibo": {
			Cloud:   nopCloud{},
			Climate: func(e Entry) (appliance.AcControl, error) { return nopClimate{}, nil },
		},
	}
}

func TestParseAndBuild(t *testing.T) {
	assert := assert.New(t)

	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, f.Devices, 7)

	var seen []Entry
	inv, err := f.Build(context.Background(), testVendors(&seen), Options{})
	require.NoError(t, err)

	assert.Equal([]string{"Bedroom Lamp", "Dual 0", "Dual 1", "Bedroom Blaster", "Bedroom TV", "Bedroom AC", "Lounge AC"}, inv.Order)
	assert.Equal([]string{"Bedroom", "Lounge"}, inv.RoomOrder)
	assert.Equal([]string{"Dual 0", "Dual 1"}, inv.Categories["switch"])
	assert.Equal([]string{"Bedroom Blaster"}, inv.Categories[CategoryBlaster])
	assert.Len(inv.Categories[CategoryAll], 7)
	assert.Equal([]string{"Dual 0", "Dual 1"}, inv.Remotes["1000bb"])

	bedroom := inv.Rooms["Bedroom"]
	require.NotNil(t, bedroom)
	assert.Equal("Bedroom TV", bedroom.TV().Name())
	assert.Equal("Bedroom AC", bedroom.AC().Name())
	assert.Equal([]string{"Bedroom Lamp"}, bedroom.Lights.Names())
	assert.Equal(4, bedroom.All.Len())

	ac, ok := inv.Devices["Lounge AC"].(*appliance.AirConditioner)
	require.True(t, ok)
	_, smart := ac.Backing().(appliance.SmartBacking)
	assert.True(smart)

	irAC := inv.Devices["Bedroom AC"].(*appliance.AirConditioner)
	_, ir := irAC.Backing().(appliance.IrBacking)
	assert.True(ir)

	blaster := inv.Devices["Bedroom Blaster"]
	assert.True(blaster.Stateless(), "blasters are forced stateless")

	// channel 0 survives the trip through YAML
	idx, set := seen[1].ChannelOption().Index()
	assert.True(set)
	assert.Equal(0, idx)
	assert.False(seen[0].ChannelOption().IsSet())
}

func TestTimeoutPrecedence(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)

	lamp := f.Devices[0].config(f, Options{})
	assert.Equal(t, "1s", lamp.LocalTimeout.String())

	lounge := f.Devices[6].config(f, Options{CloudTimeout: 0})
	assert.Equal(t, "5s", lounge.CloudTimeout.String())

	forced := f.Devices[0].config(f, Options{LocalTimeout: 3e9})
	assert.Equal(t, "3s", forced.LocalTimeout.String())
}

func TestValidation(t *testing.T) {
	for name, doc := range map[string]string{
		"no name":         "devices:\n  - type: sonoff\n",
		"duplicate":       "devices:\n  - {name: a, type: sonoff}\n  - {name: a, type: sonoff}\n",
		"bad category":    "devices:\n  - {name: a, type: sonoff, category: toaster}\n",
		"no type":         "devices:\n  - {name: a}\n",
		"missing blaster": "devices:\n  - {name: tv, category: tv, blaster: nowhere}\n",
		"negative chan":   "devices:\n  - {name: a, type: sonoff, channel: -1}\n",
		"bad yaml":        "devices: [",
	} {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestBuildErrors(t *testing.T) {
	ctx := context.Background()

	for name, doc := range map[string]string{
		"unknown vendor":   "devices:\n  - {name: a, type: zigbee}\n",
		"tv without ir":    "devices:\n  - {name: tv, type: sonoff, category: tv, address: x}\n",
		"ac no climate":    "devices:\n  - {name: ac, type: sonoff, category: ac, address: x}\n",
		"blaster not ir":   "devices:\n  - {name: b, type: sonoff, address: x}\n  - {name: tv, category: tv, blaster: b}\n",
		"light on blaster": "devices:\n  - {name: b, type: mqttir, category: blaster}\n  - {name: l, category: light, blaster: b}\n",
	} {
		f, err := Parse([]byte(doc))
		require.NoError(t, err, name)

		_, err = f.Build(ctx, testVendors(nil), Options{})
		assert.Error(t, err, name)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Devices, 7)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
