package device

import (
	"fmt"
	"strconv"
	"strings"
)

// State is the last known power state of a device
type State int

const (
	// StateUnknown is held until the first successful query
	StateUnknown State = iota
	StateOn
	StateOff
	// StateOffline means neither transport could answer the last query
	StateOffline
	// StateNotApplicable is reported forever by devices that cannot report state
	StateNotApplicable
)

var stateNames = []string{
	"unknown",
	"on",
	"off",
	"offline",
	"n/a",
}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("invalid (%d)", s)
	}

	return stateNames[s]
}

// IsPower reports whether s is one of the two commandable states
func (s State) IsPower() bool {
	return s == StateOn || s == StateOff
}

// ParseState converts "on"/"off" (case insensitive) into a commandable state
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on":
		return StateOn, nil
	case "off":
		return StateOff, nil
	}

	return StateUnknown, fmt.Errorf("unsupported target state `%s`, expected on or off", s)
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Channel addresses a single relay on a multi-gang unit.  The zero value
// means "no channel", which is distinct from channel 0.
type Channel struct {
	index int
	set   bool
}

// NoChannel is the single-relay address
func NoChannel() Channel {
	return Channel{}
}

// ChannelOf addresses relay i
func ChannelOf(i int) Channel {
	return Channel{index: i, set: true}
}

// Index returns the relay index and whether a channel is present at all
func (c Channel) Index() (int, bool) {
	return c.index, c.set
}

func (c Channel) IsSet() bool {
	return c.set
}

func (c Channel) String() string {
	if !c.set {
		return "none"
	}

	return strconv.Itoa(c.index)
}
