// Package debounce stabilizes a single input by committing a new reading only
// after a minimum delay has passed since the previous commit.
// This package has NO external dependencies. Time is always injected via
// time.Time parameters and every source is passed in by the caller.
package debounce

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode selects how a Debounce samples its source.
type Mode int

// The numeric values match the legacy integer flags (1..4) used by the
// exhibit's Arduino firmware.
const (
	ModeUnknown Mode = iota
	ModeDigital
	ModeAnalog
	ModeHumidity
	ModeTemperature
)

var modeNames = map[Mode]string{
	ModeDigital:     "digital",
	ModeAnalog:      "analog",
	ModeHumidity:    "humidity",
	ModeTemperature: "temperature",
}

// String returns the config name of the mode.
func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(m))
}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// UsesSensor reports whether the mode reads the shared environmental sensor
// instead of a pin.
func (m Mode) UsesSensor() bool {
	return m == ModeHumidity || m == ModeTemperature
}

// ParseMode accepts a mode name or one of the legacy integer codes.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range modeNames {
		if s == name {
			return m, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Mode(n).Valid() {
		return Mode(n), nil
	}
	return ModeUnknown, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Policy controls what happens to the commit clock when a reading is accepted.
type Policy int

const (
	// PolicyResetOnCommit restarts the delay after every commit.
	PolicyResetOnCommit Policy = iota
	// PolicyLegacy never restarts the delay: once it has expired every
	// Heartbeat commits the raw reading.
	PolicyLegacy
	// PolicyStable requires a new raw value to hold for longer than the
	// delay before it replaces the committed state.
	PolicyStable
)

// String returns the config name of the policy.
func (p Policy) String() string {
	switch p {
	case PolicyResetOnCommit:
		return "reset"
	case PolicyLegacy:
		return "legacy"
	case PolicyStable:
		return "stable"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// ParsePolicy parses a policy name. The empty string selects PolicyResetOnCommit.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reset":
		return PolicyResetOnCommit, nil
	case "legacy":
		return PolicyLegacy, nil
	case "stable":
		return PolicyStable, nil
	default:
		return PolicyResetOnCommit, fmt.Errorf("debounce: unknown policy %q", s)
	}
}
