//go:build !linux

package gpio

import "errors"

// RealReader is not available on non-Linux platforms.
type RealReader struct{}

// NewRealReader returns an error on non-Linux platforms.
func NewRealReader(chipName string, pins []int, activeLow bool) (*RealReader, error) {
	return nil, errors.New("gpio: character device not supported on this platform (requires Linux)")
}

// ReadDigital is not implemented on non-Linux platforms.
func (r *RealReader) ReadDigital(pin int) (int, error) {
	return 0, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealReader) Close() error {
	return nil
}
