// Package gpio provides digital input reading with hardware abstraction.
// The real implementation uses the Linux GPIO character device; a periph.io
// backend covers hosts where the character device is not an option.
// The fake implementation allows testing without hardware.
package gpio

import "strings"

// Reader reads digital input levels.
type Reader interface {
	// ReadDigital returns the level of pin as 0 or 1.
	ReadDigital(pin int) (int, error)

	// Close releases GPIO resources.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendCdev   = "gpiocdev"
	BackendPeriph = "periph"
)

// DefaultChip is the GPIO character device used on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// Options configures Open.
type Options struct {
	Backend   string // BackendCdev (default) or BackendPeriph
	Chip      string // gpiocdev only
	ActiveLow bool   // invert levels (pull-up wiring)
}

// Open creates a hardware Reader for pins using the selected backend.
func Open(opts Options, pins []int) (Reader, error) {
	switch strings.ToLower(opts.Backend) {
	case BackendPeriph:
		r, err := NewPeriphReader(pins, opts.ActiveLow)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		chip := opts.Chip
		if chip == "" {
			chip = DefaultChip
		}
		r, err := NewRealReader(chip, pins, opts.ActiveLow)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}
