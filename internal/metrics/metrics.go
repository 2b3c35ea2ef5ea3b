// Package metrics emits exhibit readings to a DogStatsD agent.
package metrics

import (
	"fmt"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"
)

// Recorder records gauges and counters. Failures are logged, never returned:
// metrics must not stall the polling loop.
type Recorder interface {
	Gauge(name string, value float64, tags ...string)
	Incr(name string, tags ...string)
	Close() error
}

// Statsd sends metrics to a DogStatsD agent over UDP.
type Statsd struct {
	client *statsd.Client
}

// New creates a Statsd recorder for the agent at addr (host:port).
func New(addr, namespace string, tags []string) (*Statsd, error) {
	client, err := statsd.New(addr)
	if err != nil {
		return nil, fmt.Errorf("create dogstatsd client: %w", err)
	}

	client.Namespace = namespace
	client.Tags = tags

	log.Info().
		Str("addr", addr).
		Str("namespace", namespace).
		Strs("tags", tags).
		Msg("Datadog metrics initialized")

	return &Statsd{client: client}, nil
}

// Gauge records the current value of name.
func (s *Statsd) Gauge(name string, value float64, tags ...string) {
	if err := s.client.Gauge(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
	}
}

// Incr adds one to the counter name.
func (s *Statsd) Incr(name string, tags ...string) {
	if err := s.client.Incr(name, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit count metric")
	}
}

// Close flushes and releases the client.
func (s *Statsd) Close() error {
	return s.client.Close()
}

// Noop discards every metric. Used when no agent is configured.
type Noop struct{}

func (Noop) Gauge(string, float64, ...string) {}
func (Noop) Incr(string, ...string)           {}
func (Noop) Close() error                     { return nil }

// Open returns a Statsd recorder for addr, or Noop when addr is empty.
// An agent that cannot be reached is downgraded to Noop with a warning.
func Open(addr, namespace string, tags []string) Recorder {
	if addr == "" {
		return Noop{}
	}
	s, err := New(addr, namespace, tags)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client, metrics disabled")
		return Noop{}
	}
	return s
}

// Fake records metrics in memory for tests.
type Fake struct {
	Gauges map[string]float64
	Counts map[string]int
}

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{Gauges: map[string]float64{}, Counts: map[string]int{}}
}

// Gauge stores the last value for name, keyed with its tags.
func (f *Fake) Gauge(name string, value float64, tags ...string) {
	f.Gauges[key(name, tags)] = value
}

// Incr counts calls for name, keyed with its tags.
func (f *Fake) Incr(name string, tags ...string) {
	f.Counts[key(name, tags)]++
}

// Close is a no-op.
func (f *Fake) Close() error { return nil }

func key(name string, tags []string) string {
	for _, t := range tags {
		name += "," + t
	}
	return name
}
