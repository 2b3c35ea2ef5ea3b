package gpio

import (
	"fmt"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphReader reads pins through periph.io's host drivers.
type PeriphReader struct {
	pins      map[int]pgpio.PinIO
	activeLow bool
}

// NewPeriphReader initializes periph.io and configures every pin as an input.
func NewPeriphReader(pins []int, activeLow bool) (*PeriphReader, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	pull := pgpio.PullDown
	if activeLow {
		pull = pgpio.PullUp
	}

	r := &PeriphReader{pins: make(map[int]pgpio.PinIO, len(pins)), activeLow: activeLow}
	for _, pin := range pins {
		name := fmt.Sprintf("GPIO%d", pin)
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("pin %d (%s) not found in hardware", pin, name)
		}
		if err := p.In(pull, pgpio.NoEdge); err != nil {
			return nil, fmt.Errorf("set pin %d to input: %w", pin, err)
		}
		r.pins[pin] = p
	}
	return r, nil
}

// ReadDigital returns the logical level of pin.
func (r *PeriphReader) ReadDigital(pin int) (int, error) {
	p, ok := r.pins[pin]
	if !ok {
		return 0, fmt.Errorf("pin %d was not configured", pin)
	}
	high := p.Read() == pgpio.High
	if high != r.activeLow {
		return 1, nil
	}
	return 0, nil
}

// Close restores pull-down on every pin. periph.io has no per-pin handle to release.
func (r *PeriphReader) Close() error {
	var firstErr error
	for pin, p := range r.pins {
		if err := p.In(pgpio.PullDown, pgpio.NoEdge); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("reset pin %d: %w", pin, err)
		}
	}
	return firstErr
}
