package sdmapi

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/jake-scott/smarthome-hybrid/internal/pkg/logging"
)

/*
 *   Supported Google Smart Device Management device traits
 */

type traitID int

const (
	sdmDevicesTraitsConnectivity traitID = iota
	sdmDevicesTraitsFan
	sdmDevicesTraitsHumidity
	sdmDevicesTraitsInfo
	sdmDevicesTraitsTemperature
	sdmDevicesTraitsThermostatEco
	sdmDevicesTraitsThermostatMode
	sdmDevicesTraitsThermostatHvac
	sdmDevicesTraitsThermostatTemperatureSetpoint
)

var traitNames = []string{
	"sdm.devices.traits.Connectivity",
	"sdm.devices.traits.Fan",
	"sdm.devices.traits.Humidity",
	"sdm.devices.traits.Info",
	"sdm.devices.traits.Temperature",
	"sdm.devices.traits.ThermostatEco",
	"sdm.devices.traits.ThermostatMode",
	"sdm.devices.traits.ThermostatHvac",
	"sdm.devices.traits.ThermostatTemperatureSetpoint",
}

func parseTraitName(name string) (bool, traitID) {
	for i, val := range traitNames {
		if val == name {
			return true, traitID(i)
		}
	}

	return false, 0
}

func (id traitID) Name() string {
	if int(id) < 0 || int(id) >= len(traitNames) {
		return fmt.Sprintf("unknown (id: %d)", id)
	}

	return traitNames[id]
}

// Convert a trait as read from Google, to internal representation
type traitsReader interface {
	Unmarshal() interface{}
}

// A set of traits for a device.  Events carry only the traits that changed.
type Traits struct {
	traits map[traitID]interface{}
}

func NewTraits() Traits {
	return Traits{
		traits: make(map[traitID]interface{}),
	}
}

func (t Traits) Len() int {
	return len(t.traits)
}

// Parse a set of traits from JSON into the trait set
func (t *Traits) Parse(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	var alltraits map[string]json.RawMessage
	if err := json.Unmarshal(data, &alltraits); err != nil {
		return err
	}

	for traitName, v := range alltraits {
		ok, id := parseTraitName(traitName)
		if !ok {
			logging.Logger(nil).Debugf("Ignoring unimplemented trait [%s]", traitName)
			continue
		}

		var decoded traitsReader
		switch id {
		case sdmDevicesTraitsConnectivity:
			decoded = &deviceConnectivityTraits{}
		case sdmDevicesTraitsFan:
			decoded = &deviceFanTraits{}
		case sdmDevicesTraitsHumidity:
			decoded = &DeviceHumidityTraits{}
		case sdmDevicesTraitsInfo:
			decoded = &DeviceInfoTraits{}
		case sdmDevicesTraitsTemperature:
			decoded = &DeviceTemperatureTraits{}
		case sdmDevicesTraitsThermostatEco:
			decoded = &deviceThermostatEco{}
		case sdmDevicesTraitsThermostatMode:
			decoded = &deviceThermostatMode{}
		case sdmDevicesTraitsThermostatHvac:
			decoded = &deviceThermostatHvac{}
		case sdmDevicesTraitsThermostatTemperatureSetpoint:
			decoded = &DeviceThermostatTemperatureSetpoint{}
		}

		if err := json.Unmarshal(v, decoded); err != nil {
			return err
		}

		t.traits[id] = decoded.Unmarshal()
	}

	return nil
}

func (t Traits) Connectivity() (*DeviceConnectivityTraits, bool) {
	v, ok := t.traits[sdmDevicesTraitsConnectivity].(*DeviceConnectivityTraits)
	return v, ok
}

func (t Traits) Fan() (*DeviceFanTraits, bool) {
	v, ok := t.traits[sdmDevicesTraitsFan].(*DeviceFanTraits)
	return v, ok
}

func (t Traits) Humidity() (*DeviceHumidityTraits, bool) {
	v, ok := t.traits[sdmDevicesTraitsHumidity].(*DeviceHumidityTraits)
	return v, ok
}

func (t Traits) Info() (*DeviceInfoTraits, bool) {
	v, ok := t.traits[sdmDevicesTraitsInfo].(*DeviceInfoTraits)
	return v, ok
}

func (t Traits) Temperature() (*DeviceTemperatureTraits, bool) {
	v, ok := t.traits[sdmDevicesTraitsTemperature].(*DeviceTemperatureTraits)
	return v, ok
}

func (t Traits) Eco() (*DeviceThermostatEco, bool) {
	v, ok := t.traits[sdmDevicesTraitsThermostatEco].(*DeviceThermostatEco)
	return v, ok
}

func (t Traits) Hvac() (*DeviceThermostatHvac, bool) {
	v, ok := t.traits[sdmDevicesTraitsThermostatHvac].(*DeviceThermostatHvac)
	return v, ok
}

func (t Traits) Setpoint() (*DeviceThermostatTemperatureSetpoint, bool) {
	v, ok := t.traits[sdmDevicesTraitsThermostatTemperatureSetpoint].(*DeviceThermostatTemperatureSetpoint)
	return v, ok
}

// Mode returns the effective mode: eco, when enabled, overrides the
// thermostat mode trait
func (t Traits) Mode() (ThermostatMode, bool) {
	if eco, ok := t.Eco(); ok && eco.Enabled {
		return ThermostatModeEco, true
	}

	v, ok := t.traits[sdmDevicesTraitsThermostatMode].(*DeviceThermostatMode)
	if !ok {
		return ThermostatModeOff, false
	}
	return v.Mode, true
}

type deviceConnectivityTraits struct {
	Status string `json:"status"`
}
type DeviceConnectivityTraits struct {
	Online bool
}

func (t *deviceConnectivityTraits) Unmarshal() interface{} {
	return &DeviceConnectivityTraits{Online: t.Status == "ONLINE"}
}

type deviceFanTraits struct {
	TimerMode    string `json:"timerMode"`
	TimerTimeout string `json:"timerTimeout"`
}
type DeviceFanTraits struct {
	TimerModeEnabled bool
	TimerTimeout     time.Time
}

func (t *deviceFanTraits) Unmarshal() interface{} {
	v := &DeviceFanTraits{}
	if t.TimerMode == "ON" {
		v.TimerModeEnabled = true
	}
	timeout, err := time.Parse(time.RFC3339, t.TimerTimeout)
	if err == nil {
		v.TimerTimeout = timeout
	}
	return v
}

type DeviceHumidityTraits struct {
	AmbientHumidityPercent float32 `json:"ambientHumidityPercent"`
}

func (t *DeviceHumidityTraits) Unmarshal() interface{} {
	return t
}

type DeviceInfoTraits struct {
	CustomName string `json:"customName"`
}

func (t *DeviceInfoTraits) Unmarshal() interface{} {
	return t
}

type DeviceTemperatureTraits struct {
	AmbientTemperatureCelsius float32 `json:"ambientTemperatureCelsius"`
}

func (t *DeviceTemperatureTraits) Unmarshal() interface{} {
	return t
}

type deviceThermostatEco struct {
	AvailableModes []string `json:"availableModes"`
	Mode           string   `json:"mode"`
	HeatCelsius    float32  `json:"heatCelsius"`
	CoolCelsius    float32  `json:"coolCelsius"`
}
type DeviceThermostatEco struct {
	Enabled     bool
	HeatCelsius float32
	CoolCelsius float32
}

func (t *deviceThermostatEco) Unmarshal() interface{} {
	return &DeviceThermostatEco{
		Enabled:     t.Mode != "" && t.Mode != "OFF",
		HeatCelsius: round1(t.HeatCelsius),
		CoolCelsius: round1(t.CoolCelsius),
	}
}

type deviceThermostatMode struct {
	Mode           string   `json:"mode"`
	AvailableModes []string `json:"availableModes"`
}

type DeviceThermostatMode struct {
	Mode ThermostatMode
}

func (t *deviceThermostatMode) Unmarshal() interface{} {
	v := &DeviceThermostatMode{}
	switch t.Mode {
	case "OFF":
		v.Mode = ThermostatModeOff
	case "HEAT":
		v.Mode = ThermostatModeHeat
	case "COOL":
		v.Mode = ThermostatModeCool
	case "HEATCOOL":
		v.Mode = ThermostatModeHeatCool
	}

	return v
}

type ThermostatStatus int

const (
	ThermostatStatusOff ThermostatStatus = iota
	ThermostatStatusHeating
	ThermostatStatusCooling
)

type deviceThermostatHvac struct {
	Status string `json:"status"`
}

type DeviceThermostatHvac struct {
	Status ThermostatStatus
}

func (t *deviceThermostatHvac) Unmarshal() interface{} {
	v := &DeviceThermostatHvac{}
	switch t.Status {
	case "HEATING":
		v.Status = ThermostatStatusHeating
	case "COOLING":
		v.Status = ThermostatStatusCooling
	}

	return v
}

type DeviceThermostatTemperatureSetpoint struct {
	HeatCelsius float32 `json:"heatCelsius"`
	CoolCelsius float32 `json:"coolCelsius"`
}

func (t *DeviceThermostatTemperatureSetpoint) Unmarshal() interface{} {
	t.HeatCelsius = round1(t.HeatCelsius)
	t.CoolCelsius = round1(t.CoolCelsius)
	return t
}

func round1(f float32) float32 {
	return float32(math.Round(float64(f)*10) / 10)
}
