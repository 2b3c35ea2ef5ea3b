// Package logic contains pure business logic for the exhibit's input panel.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/exhibit-sensor/internal/debounce"
)

// Publish selects which number an input reports on its topic.
type Publish string

const (
	// PublishState reports the debounced value.
	PublishState Publish = "state"
	// PublishCount reports how many times the input has triggered.
	PublishCount Publish = "count"
)

// ParsePublish parses a publish kind. The empty string selects PublishState.
func ParsePublish(s string) (Publish, error) {
	switch Publish(strings.ToLower(strings.TrimSpace(s))) {
	case "", PublishState:
		return PublishState, nil
	case PublishCount:
		return PublishCount, nil
	default:
		return "", fmt.Errorf("unknown publish kind %q", s)
	}
}

// Input binds a Debounce to a name and an MQTT topic.
type Input struct {
	Name     string
	Topic    string
	Publish  Publish
	Debounce *debounce.Debounce
}

// Event represents a committed value change (or a count override) to be published.
type Event struct {
	Timestamp time.Time
	Input     string
	Topic     string
	Mode      debounce.Mode
	Value     int // debounced value after the change
	Previous  int // debounced value before the change
	Count     int // trigger count after the change
	Publish   Publish
}

// Payload returns the number the event reports on its topic.
func (e Event) Payload() int {
	if e.Publish == PublishCount {
		return e.Count
	}
	return e.Value
}

// InputState is a point-in-time view of one input.
type InputState struct {
	Name       string
	Topic      string
	Pin        int
	Mode       debounce.Mode
	Publish    Publish
	Value      int
	Count      int
	LastChange time.Time // zero until the first change
	ReadErrors int
}

// Payload returns the number the input reports on its topic.
func (s InputState) Payload() int {
	if s.Publish == PublishCount {
		return s.Count
	}
	return s.Value
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Inputs    []InputState
}
