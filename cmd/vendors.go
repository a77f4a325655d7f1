package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/appliance"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/device"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/hue"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/inventory"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/manager"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/modbusrelay"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/mqttir"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/sdmapi"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/sensibo"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/sonoff"
	"github.com/jake-scott/smarthome-hybrid/internal/pkg/tuya"
)

func init() {
	viper.SetDefault("sonoff.region", "eu")
	viper.SetDefault("tuya.region", "eu")
	viper.SetDefault("nest.on-mode", "heat")
	viper.SetDefault("nest.api-timeout", time.Second*15)
	viper.SetDefault("modbus.timeout", time.Second*2)
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.timeout", time.Second*10)
}

// backends holds the vendor clients built from config, and the long lived
// connections that need closing
type backends struct {
	vendors inventory.Vendors

	sdm    sdmapi.SmartDeviceManagement
	nest   *sdmapi.Cloud
	relays *modbusrelay.Pool
	mqtt   mqtt.Client
}

func (b *backends) Close() {
	if b.relays != nil {
		b.relays.Close()
	}
	if b.mqtt != nil {
		b.mqtt.Disconnect(250)
	}
}

func checkRequiredFlags(needFlags ...string) error {
	missingFlags := []string{}

	for _, f := range needFlags {
		if !viper.IsSet(f) || viper.GetString(f) == "" {
			missingFlags = append(missingFlags, f)
		}
	}

	if len(missingFlags) > 0 {
		itemPlural := "item"
		if len(missingFlags) > 1 {
			itemPlural = "items"
		}
		return fmt.Errorf("required config %s `%s` not set", itemPlural, strings.Join(missingFlags, "`, `"))
	}

	return nil
}

// buildBackends configures every vendor.  Cloud vendors without credentials
// are left out, so their devices fail to load with a clear error.
func buildBackends() (*backends, error) {
	b := &backends{vendors: inventory.Vendors{}}

	b.addSonoff()

	if err := b.addTuya(); err != nil {
		return nil, err
	}

	b.addSensibo()

	if err := b.addNest(); err != nil {
		return nil, err
	}

	b.addModbus()
	b.addHue()

	if err := b.addMQTT(); err != nil {
		b.Close()
		return nil, err
	}

	logging.Logger(nil).Debugf("configured device types: %v", b.vendors.Names())
	return b, nil
}

func (b *backends) addSonoff() {
	v := inventory.Vendor{
		Local: func(e inventory.Entry) (device.LocalTransport, error) {
			if e.Address == "" {
				return nil, nil
			}

			lan := sonoff.NewLAN(e.Address, e.RemoteID, e.DeviceKey)
			if e.Port > 0 {
				lan = lan.WithPort(e.Address, e.Port)
			}
			return lan, nil
		},
	}

	if checkRequiredFlags("sonoff.app-id", "sonoff.app-secret", "sonoff.access-token") == nil {
		v.Cloud = sonoff.NewCloud(
			viper.GetString("sonoff.region"),
			viper.GetString("sonoff.app-id"),
			viper.GetString("sonoff.app-secret"),
			viper.GetString("sonoff.access-token"),
		)
	} else {
		logging.Logger(nil).Debug("no eWeLink credentials, Sonoff devices are LAN only")
	}

	b.vendors["sonoff"] = v
}

func (b *backends) addTuya() error {
	if checkRequiredFlags("tuya.client-id", "tuya.client-secret") != nil {
		return nil
	}

	c, err := tuya.NewCloud(viper.GetString("tuya.region"), viper.GetString("tuya.client-id"), viper.GetString("tuya.client-secret"))
	if err != nil {
		return errors.Wrap(err, "configuring Tuya")
	}

	b.vendors["tuya"] = inventory.Vendor{Cloud: c}
	return nil
}

func (b *backends) addSensibo() {
	if checkRequiredFlags("sensibo.api-key") != nil {
		return
	}

	c := sensibo.NewCloud(viper.GetString("sensibo.api-key"))
	b.vendors["sensibo"] = inventory.Vendor{
		Cloud: c,
		Climate: func(e inventory.Entry) (appliance.AcControl, error) {
			return c.Control(e.RemoteID), nil
		},
	}
}

func (b *backends) addNest() error {
	if !viper.IsSet("nest.project") {
		return nil
	}
	if err := checkRequiredFlags("nest.client-id", "nest.client-secret", "nest.refresh-token"); err != nil {
		return errors.Wrap(err, "configuring Nest")
	}

	onMode, err := sdmapi.ParseThermostatMode(viper.GetString("nest.on-mode"))
	if err != nil {
		return errors.Wrap(err, "nest.on-mode")
	}

	ts := sdmapi.TokenSource(context.Background(),
		viper.GetString("nest.client-id"),
		viper.GetString("nest.client-secret"),
		viper.GetString("nest.refresh-token"),
	)

	b.sdm = sdmapi.NewLiveClient(viper.GetString("nest.project")).
		WithTokenSource(ts).
		WithTimeout(viper.GetDuration("nest.api-timeout"))
	b.nest = sdmapi.NewCloud(b.sdm, onMode)

	b.vendors["nest"] = inventory.Vendor{
		Cloud: b.nest,
		Climate: func(e inventory.Entry) (appliance.AcControl, error) {
			return b.nest.Control(e.RemoteID), nil
		},
	}
	return nil
}

func (b *backends) addModbus() {
	b.relays = modbusrelay.NewPool(viper.GetDuration("modbus.timeout"))

	b.vendors["modbus"] = inventory.Vendor{
		Local: func(e inventory.Entry) (device.LocalTransport, error) {
			if e.Address == "" {
				return nil, errors.New("a modbus relay needs an address")
			}
			if e.UnitID < 0 || e.UnitID > 247 {
				return nil, errors.Errorf("modbus unit id %d out of range", e.UnitID)
			}

			port := e.Port
			if port <= 0 {
				port = modbusrelay.DefaultPort
			}
			return b.relays.Relay(e.Address, port, uint8(e.UnitID)), nil
		},
	}
}

func (b *backends) addHue() {
	if checkRequiredFlags("hue.bridge", "hue.username") != nil {
		return
	}

	bridge := hue.NewBridge(viper.GetString("hue.bridge"), viper.GetString("hue.username"))
	b.vendors["hue"] = inventory.Vendor{
		Local: func(e inventory.Entry) (device.LocalTransport, error) {
			l, err := bridge.Light(e.RemoteID)
			if err != nil {
				return nil, err
			}
			return l, nil
		},
	}
}

func (b *backends) addMQTT() error {
	if checkRequiredFlags("mqtt.host") != nil {
		return nil
	}

	client, err := mqttir.Connect(mqttir.Config{
		Host:     viper.GetString("mqtt.host"),
		Port:     viper.GetInt("mqtt.port"),
		Username: viper.GetString("mqtt.username"),
		Password: viper.GetString("mqtt.password"),
		Timeout:  viper.GetDuration("mqtt.timeout"),
	})
	if err != nil {
		return err
	}
	b.mqtt = client

	b.vendors["mqttir"] = inventory.Vendor{
		Emitter: func(e inventory.Entry) (device.Emitter, error) {
			if e.Topic == "" {
				return nil, errors.New("an MQTT blaster needs a topic")
			}
			return mqttir.NewBlaster(client, e.Topic), nil
		},
	}
	return nil
}

// loadManager builds the backends and the device graph from the inventory
// file.  The caller must Close the backends.
func loadManager(ctx context.Context, skipRefresh bool) (*manager.Manager, *backends, error) {
	f, err := inventory.Load(viper.GetString("inventory.file"))
	if err != nil {
		return nil, nil, err
	}

	b, err := buildBackends()
	if err != nil {
		return nil, nil, err
	}

	m := manager.New(b.vendors).
		WithRefreshWorkers(viper.GetInt("manager.refresh-workers")).
		WithOptions(inventory.Options{
			LocalTimeout: viper.GetDuration("transport.local-timeout"),
			CloudTimeout: viper.GetDuration("transport.cloud-timeout"),
			GroupWorkers: viper.GetInt("groups.workers"),
		})

	if err := m.Initialize(ctx, f, skipRefresh); err != nil {
		b.Close()
		return nil, nil, err
	}

	return m, b, nil
}
