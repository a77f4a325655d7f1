package sdmapi

import (
	"fmt"
	"strings"
	"time"
)

type command struct {
	command string `json:"-"`
}

func newCommand(name string) command {
	return command{
		command: name,
	}
}

func (c command) commandName() string {
	return c.command
}

// ThermostatMode is the HVAC mode of a Nest thermostat
type ThermostatMode int

const (
	ThermostatModeOff ThermostatMode = iota
	ThermostatModeHeat
	ThermostatModeCool
	ThermostatModeHeatCool
	ThermostatModeEco
)

var thermostatModeNames = []string{"OFF", "HEAT", "COOL", "HEATCOOL", "MANUAL_ECO"}

func (m ThermostatMode) String() string {
	if int(m) < 0 || int(m) >= len(thermostatModeNames) {
		return fmt.Sprintf("unknown (%d)", m)
	}
	return thermostatModeNames[m]
}

// ParseThermostatMode accepts the API names as well as the AC style names
// used elsewhere (cool, heat, auto, eco, off)
func ParseThermostatMode(s string) (ThermostatMode, error) {
	switch strings.ToLower(s) {
	case "off":
		return ThermostatModeOff, nil
	case "heat":
		return ThermostatModeHeat, nil
	case "cool":
		return ThermostatModeCool, nil
	case "heatcool", "auto":
		return ThermostatModeHeatCool, nil
	case "eco", "manual_eco":
		return ThermostatModeEco, nil
	}

	return ThermostatModeOff, fmt.Errorf("unsupported thermostat mode `%s`", s)
}

type devicesFanCommandParams struct {
	command
	TimerMode string `json:"timerMode"`
	Duration  string `json:"duration,omitempty"`
}

func NewFanCommand(timerEnabled bool, duration time.Duration) Command {
	mode := "OFF"
	var durString string
	if timerEnabled {
		mode = "ON"
		durString = fmt.Sprintf("%.0fs", duration.Seconds())
	}

	return devicesFanCommandParams{
		command:   newCommand("sdm.devices.commands.Fan.SetTimer"),
		TimerMode: mode,
		Duration:  durString,
	}
}

type devicesThermostatEcoCommandParams struct {
	command
	Mode string `json:"mode"`
}

func NewThermostatEcoCommand(enabled bool) Command {
	mode := "OFF"
	if enabled {
		mode = "MANUAL_ECO"
	}

	return devicesThermostatEcoCommandParams{
		command: newCommand("sdm.devices.commands.ThermostatEco.SetMode"),
		Mode:    mode,
	}
}

type devicesThermostatModeCommandParams struct {
	command
	Mode string `json:"mode"`
}

// NewThermostatModeCommand sets one of OFF, HEAT, COOL or HEATCOOL.  Eco is
// a separate trait, see NewThermostatEcoCommand.
func NewThermostatModeCommand(mode ThermostatMode) Command {
	return devicesThermostatModeCommandParams{
		command: newCommand("sdm.devices.commands.ThermostatMode.SetMode"),
		Mode:    mode.String(),
	}
}

// ModeCommands returns the command sequence that puts the thermostat in mode
func ModeCommands(mode ThermostatMode) []Command {
	if mode == ThermostatModeEco {
		return []Command{NewThermostatEcoCommand(true)}
	}

	return []Command{NewThermostatEcoCommand(false), NewThermostatModeCommand(mode)}
}

type devicesThermostatTemperatureSetpointHeatCommandParams struct {
	command
	HeatCelsius float32 `json:"heatCelsius"`
}
type devicesThermostatTemperatureSetpointCoolCommandParams struct {
	command
	CoolCelsius float32 `json:"coolCelsius"`
}
type devicesThermostatTemperatureSetpointRangeCommandParams struct {
	command
	HeatCelsius float32 `json:"heatCelsius"`
	CoolCelsius float32 `json:"coolCelsius"`
}

func NewThermostatTemperatureSetpointHeatCommand(temp float32) Command {
	return devicesThermostatTemperatureSetpointHeatCommandParams{
		command:     newCommand("sdm.devices.commands.ThermostatTemperatureSetpoint.SetHeat"),
		HeatCelsius: temp,
	}
}
func NewThermostatTemperatureSetpointCoolCommand(temp float32) Command {
	return devicesThermostatTemperatureSetpointCoolCommandParams{
		command:     newCommand("sdm.devices.commands.ThermostatTemperatureSetpoint.SetCool"),
		CoolCelsius: temp,
	}
}
func NewThermostatTemperatureSetpointRangeCommand(heatTemp, coolTemp float32) Command {
	return devicesThermostatTemperatureSetpointRangeCommandParams{
		command:     newCommand("sdm.devices.commands.ThermostatTemperatureSetpoint.SetRange"),
		HeatCelsius: heatTemp,
		CoolCelsius: coolTemp,
	}
}

// SetpointCommand targets celsius in whatever way the current mode allows.
// In HEATCOOL the existing band is kept and re-centred.
func SetpointCommand(mode ThermostatMode, celsius float32, current DeviceThermostatTemperatureSetpoint) (Command, error) {
	switch mode {
	case ThermostatModeHeat:
		return NewThermostatTemperatureSetpointHeatCommand(celsius), nil
	case ThermostatModeCool:
		return NewThermostatTemperatureSetpointCoolCommand(celsius), nil
	case ThermostatModeHeatCool:
		half := (current.CoolCelsius - current.HeatCelsius) / 2
		if half <= 0 {
			half = 1
		}
		return NewThermostatTemperatureSetpointRangeCommand(celsius-half, celsius+half), nil
	}

	return nil, fmt.Errorf("cannot change the setpoint in %s mode", mode)
}
