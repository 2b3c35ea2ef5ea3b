// Package sensor reads analog channels and the exhibit's humidity/temperature
// sensor through the Linux Industrial I/O (IIO) sysfs interface.
//
// A DHT11 wired to the Pi is exposed by the dht11 device-tree overlay as an
// IIO device with in_humidityrelative_input and in_temp_input attributes in
// milli-units. ADCs with a kernel driver (ADS1015/ADS1115, MCP3008) expose
// in_voltage<N>_raw per channel.
package sensor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultDevice is the first IIO device on the host.
const DefaultDevice = "/sys/bus/iio/devices/iio:device0"

// IIO reads attributes of a single IIO device directory.
type IIO struct {
	dir string
}

// NewIIO returns a reader for the IIO device at dir.
func NewIIO(dir string) *IIO {
	return &IIO{dir: dir}
}

// Dir returns the device directory.
func (s *IIO) Dir() string {
	return s.dir
}

// Check verifies that the device directory exists.
func (s *IIO) Check() error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("iio device: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("iio device %s is not a directory", s.dir)
	}
	return nil
}

// ReadAnalog returns the raw ADC count of channel.
func (s *IIO) ReadAnalog(channel int) (int, error) {
	return s.readInt(fmt.Sprintf("in_voltage%d_raw", channel))
}

// ReadHumidity returns relative humidity in whole percent.
func (s *IIO) ReadHumidity() (int, error) {
	milli, err := s.readInt("in_humidityrelative_input")
	if err != nil {
		return 0, err
	}
	return milli / 1000, nil
}

// ReadTemperature returns the temperature in whole degrees Celsius.
func (s *IIO) ReadTemperature() (int, error) {
	milli, err := s.readInt("in_temp_input")
	if err != nil {
		return 0, err
	}
	return milli / 1000, nil
}

func (s *IIO) readInt(attr string) (int, error) {
	path := filepath.Join(s.dir, attr)
	data, err := os.ReadFile(path)
	if err != nil {
		// The dht11 driver returns EIO or ETIMEDOUT on a failed transfer.
		return 0, fmt.Errorf("read %s: %w", attr, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", attr, err)
	}
	return v, nil
}
