package sensor

import "sync"

// Env is an environmental sensor reporting humidity and temperature.
type Env interface {
	ReadHumidity() (int, error)
	ReadTemperature() (int, error)
}

// Shared serializes access to one Env so that several inputs can hold it.
// The DHT11 cannot run two transfers at once.
type Shared struct {
	mu  sync.Mutex
	env Env
}

// NewShared wraps env.
func NewShared(env Env) *Shared {
	return &Shared{env: env}
}

// ReadHumidity reads humidity while holding the sensor.
func (s *Shared) ReadHumidity() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.env.ReadHumidity()
}

// ReadTemperature reads temperature while holding the sensor.
func (s *Shared) ReadTemperature() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.env.ReadTemperature()
}
