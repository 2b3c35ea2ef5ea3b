package mqtt

import (
	"time"

	"github.com/sweeney/exhibit-sensor/internal/logic"
)

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	// Events contains all value events that were published.
	Events []logic.Event

	// Payloads contains the value payloads that were published.
	Payloads [][]byte

	// Timers contains every uptime published to the timer topic.
	Timers []time.Duration

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by Publish and PublishTimer.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	setCounts chan int
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{setCounts: make(chan int, 8)}
}

// Publish records the value event.
func (f *FakePublisher) Publish(event logic.Event) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	f.Events = append(f.Events, event)
	f.Payloads = append(f.Payloads, FormatValue(event))
	return nil
}

// PublishTimer records the uptime.
func (f *FakePublisher) PublishTimer(uptime time.Duration) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	f.Timers = append(f.Timers, uptime)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// SetCounts returns the channel fed by SendSetCount.
func (f *FakePublisher) SetCounts() <-chan int {
	return f.setCounts
}

// SendSetCount simulates a SetCount command arriving from the broker.
func (f *FakePublisher) SendSetCount(n int) {
	f.setCounts <- n
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.Events = nil
	f.Payloads = nil
	f.Timers = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
