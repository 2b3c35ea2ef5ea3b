package debounce

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownMode is returned for a mode outside the Mode enumeration.
	ErrUnknownMode = errors.New("debounce: unknown mode")
	// ErrNoSource is returned when the source required by a mode was not supplied.
	ErrNoSource = errors.New("debounce: no source for mode")
)

// DigitalReader reads the level of a digital input pin (0 or 1).
type DigitalReader interface {
	ReadDigital(pin int) (int, error)
}

// AnalogReader reads a quantized analog value from a channel.
type AnalogReader interface {
	ReadAnalog(pin int) (int, error)
}

// EnvSensor is the environmental sensor shared by every humidity and
// temperature input.
type EnvSensor interface {
	ReadHumidity() (int, error)
	ReadTemperature() (int, error)
}

// Sources bundles the input sources a Debounce may sample from.
// Only the source needed by the configured mode has to be set.
type Sources struct {
	Digital DigitalReader
	Analog  AnalogReader
	Env     EnvSensor
}

// Read takes one raw, undebounced sample of pin in mode.
func (s Sources) Read(pin int, mode Mode) (int, error) {
	read, err := bindSource(pin, mode, s)
	if err != nil {
		return 0, err
	}
	v, err := read()
	if err != nil {
		return 0, &ReadError{Pin: pin, Mode: mode, Err: err}
	}
	return v, nil
}

// ReadError reports a failed sample. The committed state is left untouched.
type ReadError struct {
	Pin  int
	Mode Mode
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("debounce: read pin %d (%s): %v", e.Pin, e.Mode, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Option configures a Debounce.
type Option func(*Debounce)

// WithPolicy sets the commit policy. The default is PolicyResetOnCommit.
func WithPolicy(p Policy) Option {
	return func(d *Debounce) {
		d.policy = p
	}
}

// Debounce samples one input and exposes its debounced value.
// Not safe for concurrent use; it is owned by the polling loop.
type Debounce struct {
	pin    int
	mode   Mode
	delay  time.Duration
	policy Policy
	read   func() (int, error)

	state      int
	lastCommit time.Time

	// PolicyStable only
	pending      int
	pendingSince time.Time
	hasPending   bool
}

// New creates a Debounce for pin. The committed state starts at 0 and the
// commit clock starts at now. No I/O is performed.
func New(pin int, delay time.Duration, mode Mode, src Sources, now time.Time, opts ...Option) (*Debounce, error) {
	d := &Debounce{
		pin:        pin,
		mode:       mode,
		delay:      delay,
		lastCommit: now,
	}
	for _, opt := range opts {
		opt(d)
	}

	switch d.policy {
	case PolicyResetOnCommit, PolicyLegacy, PolicyStable:
	default:
		return nil, fmt.Errorf("debounce: pin %d: unknown policy %s", pin, d.policy)
	}

	read, err := bindSource(pin, mode, src)
	if err != nil {
		return nil, err
	}
	d.read = read
	return d, nil
}

func bindSource(pin int, mode Mode, src Sources) (func() (int, error), error) {
	switch mode {
	case ModeDigital:
		if src.Digital == nil {
			return nil, fmt.Errorf("%w %s (pin %d)", ErrNoSource, mode, pin)
		}
		return func() (int, error) { return src.Digital.ReadDigital(pin) }, nil
	case ModeAnalog:
		if src.Analog == nil {
			return nil, fmt.Errorf("%w %s (pin %d)", ErrNoSource, mode, pin)
		}
		return func() (int, error) { return src.Analog.ReadAnalog(pin) }, nil
	case ModeHumidity:
		if src.Env == nil {
			return nil, fmt.Errorf("%w %s (pin %d)", ErrNoSource, mode, pin)
		}
		return src.Env.ReadHumidity, nil
	case ModeTemperature:
		if src.Env == nil {
			return nil, fmt.Errorf("%w %s (pin %d)", ErrNoSource, mode, pin)
		}
		return src.Env.ReadTemperature, nil
	default:
		return nil, fmt.Errorf("%w %d (pin %d)", ErrUnknownMode, int(mode), pin)
	}
}

// Heartbeat samples the input and commits the reading if the delay has
// elapsed. It reports whether the committed state was updated.
// It must be called at least twice per delay to avoid nuisance changes.
func (d *Debounce) Heartbeat(now time.Time) (bool, error) {
	if d.read == nil || !d.mode.Valid() {
		return false, fmt.Errorf("%w %d (pin %d)", ErrUnknownMode, int(d.mode), d.pin)
	}

	raw, err := d.read()
	if err != nil {
		return false, &ReadError{Pin: d.pin, Mode: d.mode, Err: err}
	}

	switch d.policy {
	case PolicyLegacy:
		if now.Sub(d.lastCommit) > d.delay {
			d.state = raw
			return true, nil
		}
		return false, nil

	case PolicyStable:
		return d.settle(raw, now), nil

	default:
		if now.Sub(d.lastCommit) > d.delay {
			d.state = raw
			d.lastCommit = now
			return true, nil
		}
		return false, nil
	}
}

// settle commits raw only once it has differed from the committed state,
// unchanged, for longer than the delay.
func (d *Debounce) settle(raw int, now time.Time) bool {
	if raw == d.state {
		d.hasPending = false
		return false
	}

	if !d.hasPending || d.pending != raw {
		d.pending = raw
		d.pendingSince = now
		d.hasPending = true
		return false
	}

	if now.Sub(d.pendingSince) > d.delay && now.Sub(d.lastCommit) > d.delay {
		d.state = raw
		d.lastCommit = now
		d.hasPending = false
		return true
	}
	return false
}

// State returns the committed value.
func (d *Debounce) State() int {
	return d.state
}

// Pin returns the input pin (or sensor channel) identifier.
func (d *Debounce) Pin() int { return d.pin }

// Mode returns the sampling mode.
func (d *Debounce) Mode() Mode { return d.mode }

// Delay returns the debounce delay.
func (d *Debounce) Delay() time.Duration { return d.delay }

// Policy returns the commit policy.
func (d *Debounce) Policy() Policy { return d.policy }

// LastCommit returns the time the commit clock was last (re)started.
func (d *Debounce) LastCommit() time.Time { return d.lastCommit }
